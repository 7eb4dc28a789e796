// Package watch rebuilds the site whenever the source tree changes.
//
// Every directory of the source tree that the build would walk is watched
// with fsnotify; directories created later are added as they appear.
// Excluded directories, excluded files and the output directory are ignored,
// so a build writing its output never triggers another build.
//
// Bursts of events are debounced, and builds never overlap: a change that
// lands while a build is running schedules exactly one follow-up build.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"

	"sitepack/internal/build"
	"sitepack/internal/coalesce"
	"sitepack/internal/logging"
	"sitepack/internal/notify"
	"sitepack/internal/walk"
)

// DefaultDelay is how long the source tree must be quiet before a rebuild.
const DefaultDelay = 100 * time.Millisecond

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay sets the debounce delay.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		w.delay = d
	}
}

// Watcher drives a Builder from file system events.
type Watcher struct {
	builder *build.Builder
	walker  *walk.Walker
	delay   time.Duration
	logger  *slog.Logger

	builds   coalesce.Group[string]
	inflight sync.WaitGroup
	reports  *notify.Value[*build.Report]
}

// New creates a Watcher for b's source tree.
func New(b *build.Builder, logger *slog.Logger, opts ...Option) *Watcher {
	logger = logging.Default(logger)
	w := &Watcher{
		builder: b,
		walker:  walk.New(b.Config(), logger),
		delay:   DefaultDelay,
		logger:  logger.With("component", "watch"),
		reports: notify.NewValue[*build.Report](),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Reports publishes the report of every successful build.
func (w *Watcher) Reports() *notify.Value[*build.Report] {
	return w.reports
}

// Trigger requests a build. The returned channel receives the error of the
// build that covers the request.
func (w *Watcher) Trigger(ctx context.Context) <-chan error {
	w.inflight.Add(1)
	res := w.builds.DoChan(w.walker.Root(), func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep, err := w.builder.Run(ctx)
		if err != nil {
			w.logger.Error("build failed", "error", err)
			return err
		}
		if !rep.OK() {
			w.logger.Warn("build finished with failed files", "failed", rep.Failed, "error", rep.Errors)
		}
		w.reports.Store(rep)
		return nil
	})

	out := make(chan error, 1)
	go func() {
		defer w.inflight.Done()
		out <- <-res
	}()
	return out
}

// Run performs an initial build, then rebuilds on every change until ctx is
// cancelled. It returns once the last build has finished.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	if err := w.addTree(fsw, w.walker.Root()); err != nil {
		return err
	}
	w.logger.Info("watching", "root", w.walker.Root(), "delay", w.delay)

	w.Trigger(ctx)
	debounced := debounce.New(w.delay)

	for {
		select {
		case <-ctx.Done():
			w.inflight.Wait()
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.ignored(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(fsw, event.Name); err != nil {
						w.logger.Warn("watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			w.logger.Debug("change", "path", event.Name, "op", event.Op.String())
			debounced(func() {
				if ctx.Err() == nil {
					w.Trigger(ctx)
				}
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

// addTree watches dir and every non-excluded directory beneath it.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.walker.Root() && w.walker.DirExcluded(p) {
			return fs.SkipDir
		}
		if err := fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// ignored reports whether a change at p cannot affect the build output.
func (w *Watcher) ignored(p string) bool {
	rel, err := filepath.Rel(w.walker.Root(), p)
	if err != nil || rel == "." {
		return false
	}
	if w.walker.DirExcluded(p) {
		return true
	}
	return w.walker.Excluded(filepath.ToSlash(rel))
}
