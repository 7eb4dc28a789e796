// Package schedule rebuilds the site on a cron schedule, so that pages whose
// output depends on the date (the sitemap's lastmod) stay fresh without a
// source change.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"sitepack/internal/logging"
)

const jobName = "rebuild"

// Schedule runs one build function on a cron expression. A tick that
// arrives while the previous run is still going is rescheduled, never
// stacked.
type Schedule struct {
	scheduler gocron.Scheduler
	job       gocron.Job
	expr      string
	logger    *slog.Logger
}

// New creates a stopped Schedule calling run on expr. expr is a standard
// 5-field cron expression, or 6 fields with a leading seconds field. The
// context passed to run is cancelled when the Schedule stops.
func New(expr string, run func(context.Context) error, logger *slog.Logger) (*Schedule, error) {
	logger = logging.Default(logger).With("component", "schedule")

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create cron scheduler: %w", err)
	}

	withSeconds := len(strings.Fields(expr)) == 6
	j, err := s.NewJob(
		gocron.CronJob(expr, withSeconds),
		gocron.NewTask(func(ctx context.Context) {
			start := time.Now()
			if err := run(ctx); err != nil {
				logger.Warn("scheduled build failed", "error", err)
				return
			}
			logger.Debug("scheduled build finished", "duration", time.Since(start))
		}),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule %q: %w", expr, err)
	}

	return &Schedule{scheduler: s, job: j, expr: expr, logger: logger}, nil
}

// Expr returns the cron expression as given.
func (s *Schedule) Expr() string {
	return s.expr
}

// NextRun returns when the next build is due, or the zero time if the
// Schedule is not running.
func (s *Schedule) NextRun() time.Time {
	t, err := s.job.NextRun()
	if err != nil {
		return time.Time{}
	}
	return t
}

// LastRun returns when the last scheduled build started, or the zero time.
func (s *Schedule) LastRun() time.Time {
	t, err := s.job.LastRun()
	if err != nil {
		return time.Time{}
	}
	return t
}

// Start begins firing builds.
func (s *Schedule) Start() {
	s.scheduler.Start()
	s.logger.Info("rebuild scheduled", "cron", s.expr, "next", s.NextRun())
}

// Stop shuts down the scheduler and waits for a running build to finish.
func (s *Schedule) Stop() error {
	return s.scheduler.Shutdown()
}
