// Package coalesce collapses bursts of requests for the same work.
//
// At most one call per key runs at a time. A request that arrives while a
// call is running does not join it (the running call may already have read
// stale inputs); instead it schedules exactly one follow-up call, which every
// later request arriving before the follow-up starts shares.
//
// The key is forgotten once no call is running or pending.
package coalesce

import "sync"

// Group coalesces function calls by key.
type Group[K comparable] struct {
	mu    sync.Mutex
	calls map[K]*call
}

type call struct {
	fn   func() error
	done chan struct{}
	err  error
	next *call // follow-up requested while this call runs
}

// DoChan requests a call of fn for key. If nothing is running for key, fn
// starts immediately. Otherwise a follow-up is scheduled to run when the
// current call returns; if a follow-up is already pending, fn replaces its
// function and the request shares its result.
//
// The returned channel receives the error of the call that serves this
// request. It receives exactly one value and is never closed.
func (g *Group[K]) DoChan(key K, fn func() error) <-chan error {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[K]*call)
	}

	var target *call
	if running, ok := g.calls[key]; ok {
		if running.next == nil {
			running.next = &call{done: make(chan struct{})}
		}
		target = running.next
		target.fn = fn
	} else {
		target = &call{fn: fn, done: make(chan struct{})}
		g.calls[key] = target
		go g.run(key, target)
	}
	g.mu.Unlock()

	ch := make(chan error, 1)
	go func() {
		<-target.done
		ch <- target.err
	}()
	return ch
}

// Pending reports whether a call for key is running or scheduled.
func (g *Group[K]) Pending(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.calls[key]
	return ok
}

func (g *Group[K]) run(key K, c *call) {
	for c != nil {
		g.mu.Lock()
		fn := c.fn
		g.mu.Unlock()

		c.err = fn()
		close(c.done)

		g.mu.Lock()
		next := c.next
		if next == nil {
			delete(g.calls, key)
		} else {
			g.calls[key] = next
		}
		g.mu.Unlock()
		c = next
	}
}
