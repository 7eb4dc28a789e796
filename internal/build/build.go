// Package build runs one complete build of the site.
//
// A run has four stages, strictly in order:
//
//  1. Reset: the output directory is deleted and recreated empty.
//  2. Process: every eligible source file is minified, optimised or copied,
//     with at most cfg.Workers files in flight. A failing file is logged and
//     recorded in the report; it never stops the others.
//  3. Generate: sitemap.xml, robots.txt and, for strict builds with the
//     service worker enabled, sw.js.
//  4. Stats: the finished tree is measured for the report.
//
// A failure in stages 1, 3 or 4 aborts the run with an error. Re-running on
// an unchanged source tree with the same clock reproduces the output
// byte for byte.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"sitepack/internal/config"
	"sitepack/internal/generate"
	"sitepack/internal/imageopt"
	"sitepack/internal/logging"
	"sitepack/internal/minify"
	"sitepack/internal/outdir"
	"sitepack/internal/process"
	"sitepack/internal/sidecar"
	"sitepack/internal/sysmetrics"
	"sitepack/internal/walk"
)

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides the time source used for the sitemap date and the
// report timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// Builder runs builds for one configuration. Runs must not overlap; callers
// that trigger builds concurrently serialise them (see package coalesce).
type Builder struct {
	cfg    *config.Config
	now    func() time.Time
	logger *slog.Logger

	out    outdir.Dir
	walker *walk.Walker
	proc   *process.Processor
}

// New wires a Builder for cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Builder, error) {
	logger = logging.Default(logger)

	m, err := minify.New(cfg.Mode)
	if err != nil {
		return nil, err
	}

	b := &Builder{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With("component", "build"),
		out:    outdir.New(cfg.OutputDir),
		walker: walk.New(cfg, logger),
		proc: process.New(cfg, m,
			imageopt.New(cfg.Images, m),
			sidecar.New(cfg.Compress, logger),
			logger),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Config returns the configuration the Builder was created with.
func (b *Builder) Config() *config.Config {
	return b.cfg
}

// Report summarises a finished run.
type Report struct {
	ID       uuid.UUID
	Mode     string
	Started  time.Time
	Duration time.Duration

	Processed   int   // files written to the output
	Failed      int   // files that produced no output
	Degraded    int   // files written as verbatim copies after a failed transform
	Sidecars    int   // compressed companions written
	SourceBytes int64 // total size of the processed source files

	Output outdir.Stats
	Usage  sysmetrics.Usage

	// Errors holds one entry per failed file (a *multierror.Error), or nil.
	Errors error
}

// OK reports whether every eligible file made it into the output.
func (r *Report) OK() bool {
	return r.Failed == 0
}

// Summary renders the report in a couple of human-readable lines.
func (r *Report) Summary() string {
	return fmt.Sprintf("build %s (%s): %d processed, %d failed, %d degraded\n"+
		"source %s -> output %s in %d files (%d sidecars), took %s",
		r.ID, r.Mode, r.Processed, r.Failed, r.Degraded,
		humanize.Bytes(uint64(r.SourceBytes)), humanize.Bytes(uint64(r.Output.Bytes)),
		r.Output.Files, r.Output.Sidecars, r.Duration.Round(time.Millisecond))
}

// Run performs one build. The returned error is non-nil only when the run
// was aborted (reset, generator or stats failure, or ctx cancellation);
// per-file failures are in Report.Errors.
func (b *Builder) Run(ctx context.Context) (*Report, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate build id: %w", err)
	}
	logger := b.logger.With("build", id)

	meter := sysmetrics.Start()
	rep := &Report{ID: id, Mode: b.cfg.Mode, Started: b.now()}
	logger.Info("build started", "source", b.cfg.SourceDir, "output", b.cfg.OutputDir, "mode", b.cfg.Mode)

	if err := b.out.Reset(b.cfg.SourceDir, b.cfg.Exclude.Dirs); err != nil {
		return nil, err
	}

	if err := b.processAll(ctx, logger, rep); err != nil {
		return nil, err
	}

	if err := b.generate(logger, rep.Started); err != nil {
		return nil, err
	}

	st, err := b.out.Stats()
	if err != nil {
		return nil, err
	}
	rep.Output = st
	rep.Duration = b.now().Sub(rep.Started)
	rep.Usage = meter.Stop()

	logger.Info("build finished",
		"processed", rep.Processed,
		"failed", rep.Failed,
		"degraded", rep.Degraded,
		"files", st.Files,
		"bytes", st.Bytes,
		"duration", rep.Duration,
		"cpu", rep.Usage.CPU.Round(time.Millisecond),
		"mem_inuse", humanize.Bytes(uint64(rep.Usage.MemInuse)))
	return rep, nil
}

func (b *Builder) processAll(ctx context.Context, logger *slog.Logger, rep *Report) error {
	var (
		processed, failed, degraded, sidecars atomic.Int64
		sourceBytes                           atomic.Int64

		mu   sync.Mutex
		errs *multierror.Error
	)
	fail := func(err error) {
		failed.Add(1)
		mu.Lock()
		errs = multierror.Append(errs, err)
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(b.cfg.Workers)

	for e, err := range b.walker.Files() {
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			logger.Error("walk failed", "error", err)
			fail(fmt.Errorf("walk: %w", err))
			continue
		}

		g.Go(func() error {
			res, err := b.proc.Process(ctx, e)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("file failed", "path", e.Rel, "error", err)
				fail(err)
				return nil
			}
			processed.Add(1)
			sourceBytes.Add(res.InBytes)
			sidecars.Add(int64(len(res.Sidecars)))
			if res.Degraded {
				degraded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	rep.Processed = int(processed.Load())
	rep.Failed = int(failed.Load())
	rep.Degraded = int(degraded.Load())
	rep.Sidecars = int(sidecars.Load())
	rep.SourceBytes = sourceBytes.Load()
	rep.Errors = errs.ErrorOrNil()
	return nil
}

func (b *Builder) generate(logger *slog.Logger, date time.Time) error {
	site := b.cfg.Site

	sitemap := generate.Sitemap(site.BaseURL, site.Pages, date, site.ChangeFreq, site.Priority)
	if err := b.out.WriteFile(outdir.SitemapFile, sitemap); err != nil {
		return fmt.Errorf("generate sitemap: %w", err)
	}
	logger.Info("generated", "file", outdir.SitemapFile, "pages", len(site.Pages))

	if err := b.out.WriteFile(outdir.RobotsFile, generate.Robots(b.cfg.SitemapURL())); err != nil {
		return fmt.Errorf("generate robots.txt: %w", err)
	}
	logger.Info("generated", "file", outdir.RobotsFile)

	if !b.cfg.ServiceWorkerEnabled() {
		return nil
	}
	sw, err := generate.ServiceWorker(b.cfg.ServiceWorker.CacheName, b.cfg.ServiceWorker.Precache)
	if err != nil {
		return err
	}
	if err := b.out.WriteFile(outdir.ServiceWorkerFile, sw); err != nil {
		return fmt.Errorf("generate service worker: %w", err)
	}
	logger.Info("generated", "file", outdir.ServiceWorkerFile, "precache", len(b.cfg.ServiceWorker.Precache))
	return nil
}
