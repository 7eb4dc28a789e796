// Package notify provides broadcast notification primitives.
package notify

import (
	"context"
	"sync"
)

// Signal is a broadcast notification mechanism. Callers wait on C(),
// and any call to Notify() wakes all waiters by closing the channel
// and creating a fresh one.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewSignal creates a ready-to-use Signal.
func NewSignal() *Signal { return &Signal{ch: make(chan struct{})} }

// Notify wakes all current waiters.
func (s *Signal) Notify() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

// C returns a channel that is closed on the next Notify() call.
// Callers should re-call C() after each wakeup to get the next channel.
func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	return ch
}

// Value holds the latest published value of T and wakes waiters whenever a
// new one is stored. Readers that fall behind see only the most recent value.
type Value[T any] struct {
	mu  sync.Mutex
	v   T
	ok  bool
	sig *Signal
}

// NewValue creates an empty Value.
func NewValue[T any]() *Value[T] {
	return &Value[T]{sig: NewSignal()}
}

// Store publishes v.
func (v *Value[T]) Store(x T) {
	v.mu.Lock()
	v.v, v.ok = x, true
	v.mu.Unlock()
	v.sig.Notify()
}

// Load returns the latest value and whether one was ever stored.
func (v *Value[T]) Load() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v, v.ok
}

// Changed returns a channel closed on the next Store.
func (v *Value[T]) Changed() <-chan struct{} {
	return v.sig.C()
}

// Next waits for the next Store after the call and returns the value then
// current.
func (v *Value[T]) Next(ctx context.Context) (T, error) {
	select {
	case <-v.sig.C():
		x, _ := v.Load()
		return x, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
