package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sitepack/internal/build"
	"sitepack/internal/preview"
	"sitepack/internal/publish"
	"sitepack/internal/schedule"
	"sitepack/internal/watch"
)

func (a *app) watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Build, then rebuild whenever the source tree changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cron, _ := cmd.Flags().GetString("rebuild-cron")
			return a.runLive(cmd.Context(), true, true, cron, nil)
		},
	}
	cmd.Flags().String("rebuild-cron", "", "also rebuild on this cron schedule (5 or 6 fields)")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the output directory locally with pre-compressed sidecars",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			noBuild, _ := cmd.Flags().GetBool("no-build")
			watchSrc, _ := cmd.Flags().GetBool("watch")
			cron, _ := cmd.Flags().GetString("rebuild-cron")
			if noBuild && watchSrc {
				return errors.New("--no-build and --watch are mutually exclusive")
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           preview.Handler(os.DirFS(a.cfg.OutputDir)),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return a.runLive(cmd.Context(), !noBuild, watchSrc, cron, srv)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address (host:port)")
	cmd.Flags().Bool("no-build", false, "serve the existing output without building first")
	cmd.Flags().Bool("watch", false, "rebuild whenever the source tree changes")
	cmd.Flags().String("rebuild-cron", "", "rebuild on this cron schedule (5 or 6 fields)")
	return cmd
}

// runLive drives the long-running modes. Every build goes through one
// watcher so that file changes, cron ticks and the initial build never
// overlap. It returns once ctx is cancelled and all builds have finished.
func (a *app) runLive(ctx context.Context, initial, watchSrc bool, cron string, srv *http.Server) error {
	b, err := build.New(a.cfg, a.logger)
	if err != nil {
		return err
	}
	w := watch.New(b, a.logger)

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reports := w.Reports()
	changed := reports.Changed()
	wg.Go(func() {
		for {
			select {
			case <-changed:
				changed = reports.Changed()
				if rep, ok := reports.Load(); ok {
					a.report(rep)
				}
			case <-ctx.Done():
				return
			}
		}
	})

	switch {
	case watchSrc:
		// Run performs the initial build itself.
		wg.Go(func() {
			if err := w.Run(ctx); err != nil {
				a.logger.Error("watch stopped", "error", err)
			}
		})
	case initial:
		if err := <-w.Trigger(ctx); err != nil {
			return err
		}
	}

	if cron != "" {
		sched, err := schedule.New(cron, func(ctx context.Context) error {
			return <-w.Trigger(ctx)
		}, a.logger)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			if err := sched.Stop(); err != nil {
				a.logger.Warn("stop scheduler", "error", err)
			}
		}()
	}

	if srv == nil {
		<-ctx.Done()
		return nil
	}
	return a.serve(ctx, srv)
}

func (a *app) serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		a.logger.Info("preview server listening", "addr", srv.Addr, "root", a.cfg.OutputDir)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("preview server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("stopping preview server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload the output directory to object storage",
		Long: "Uploads every file in the output directory, sidecars included, to an S3, GCS or Azure Blob bucket or a local directory.\n\n" +
			"Targets:\n" +
			"  s3://bucket/prefix?region=REGION&endpoint=URL\n" +
			"  gs://bucket/prefix?endpoint=URL\n" +
			"  azblob://container/prefix?account=NAME\n" +
			"  file:///path",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("target")
			rps, _ := cmd.Flags().GetFloat64("rps")
			workers, _ := cmd.Flags().GetInt("workers")
			buildFirst, _ := cmd.Flags().GetBool("build")
			return a.publish(cmd.Context(), raw, rps, workers, buildFirst)
		},
	}
	cmd.Flags().String("target", "", "destination URL (required)")
	cmd.Flags().Float64("rps", 0, "maximum uploads per second (0 = unlimited)")
	cmd.Flags().Int("workers", 0, "concurrent uploads (default: configured workers)")
	cmd.Flags().Bool("build", false, "run a build before uploading")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func (a *app) publish(ctx context.Context, raw string, rps float64, workers int, buildFirst bool) error {
	target, err := publish.ParseTarget(raw)
	if err != nil {
		return err
	}
	if buildFirst {
		if err := a.build(ctx); err != nil {
			return err
		}
	}
	if info, err := os.Stat(a.cfg.OutputDir); err != nil || !info.IsDir() {
		return fmt.Errorf("output directory %s not found; run a build first", a.cfg.OutputDir)
	}

	bucket, err := publish.Open(ctx, target)
	if err != nil {
		return err
	}
	defer bucket.Close()

	if workers <= 0 {
		workers = a.cfg.Workers
	}
	res, err := publish.Publish(ctx, a.cfg.OutputDir, bucket, publish.Options{
		Prefix:  target.Prefix,
		Workers: workers,
		RPS:     rps,
		Logger:  a.logger,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "published %d objects (%d sidecars, %s) in %s\n",
		res.Objects, res.Sidecars, humanize.Bytes(uint64(res.Bytes)), res.Duration.Round(time.Millisecond))
	fmt.Fprintln(a.out, color.GreenString("✓ %s", target))
	return nil
}
