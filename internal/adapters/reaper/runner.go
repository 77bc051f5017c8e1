// Package reaper runs the run-store housekeeping on a cron schedule.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/appointflow/notifier/config"
	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/data"
	"github.com/appointflow/notifier/internal/observability/metrics"
	"github.com/appointflow/notifier/internal/service"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Locker provides cross-replica mutual exclusion.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

const lockName = "reaper"

// Runner triggers a reaper pass on every tick of its cron schedule.
type Runner struct {
	reaper   *service.ReaperService
	schedule cron.Schedule
	spec     string
	locker   Locker
	lockTTL  time.Duration
	logger   *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.ReaperConfig
	Logger *slog.Logger

	// Optional dependency injection for testing/decoupling
	Repo    core.StepReaper
	Metrics *metrics.Recorder
	// Locker, when set, lets only one replica run each pass.
	Locker  Locker
	LockTTL time.Duration // defaults to 10m
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && opts.Repo == nil {
		return nil, errors.New("database connection is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	spec := opts.Config.Schedule
	if spec == "" {
		spec = "@every 5m"
	}
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse reaper schedule %q: %w", spec, err)
	}

	repo := opts.Repo
	if repo == nil {
		repo = data.NewRunRepo(opts.DB, data.RepoConfig{})
	}
	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:    repo,
		Config:  opts.Config,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}

	return &Runner{
		reaper:   reaper,
		schedule: schedule,
		spec:     spec,
		locker:   opts.Locker,
		lockTTL:  lockTTL,
		logger:   opts.Logger.With("component", "reaper_runner"),
	}, nil
}

// Next reports the next tick after t.
func (r *Runner) Next(t time.Time) time.Time { return r.schedule.Next(t) }

// Run starts the cron loop and blocks until the context is cancelled. Overlapping passes are skipped.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner", "schedule", r.spec)

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{r.logger}), cron.SkipIfStillRunning(cronLogger{r.logger})),
	)
	c.Schedule(r.schedule, cron.FuncJob(func() { r.pass(ctx) }))
	c.Start()

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	r.logger.InfoContext(context.WithoutCancel(ctx), "reaper runner stopped")

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (r *Runner) pass(ctx context.Context) {
	if r.locker != nil {
		release, ok, err := r.locker.TryLock(ctx, lockName, r.lockTTL)
		if err != nil {
			r.logger.WarnContext(ctx, "reaper lock unavailable, skipping pass", "error", err)
			return
		}
		if !ok {
			r.logger.DebugContext(ctx, "reaper pass held by another replica")
			return
		}
		defer release()
	}
	if err := r.reaper.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.ErrorContext(ctx, "reaper pass failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
