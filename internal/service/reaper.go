package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/appointflow/notifier/config"
	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/observability/metrics"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.StepReaper     // Required: reaper repository
	Config  config.ReaperConfig // Required: reaper configuration
	Logger  *slog.Logger        // Optional: structured logger
	Metrics *metrics.Recorder   // Optional
}

// ReaperService provides housekeeping for the run store.
//
// Each pass:
// - Releases leases whose owners stopped heartbeating so another worker can resume the run.
// - Deletes step memos of runs that reached a terminal state long ago.
type ReaperService struct {
	repo    core.StepReaper
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("StepReaper is required")
	}
	if opts.Config.BatchSize <= 0 {
		opts.Config.BatchSize = 1000
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"schedule", opts.Config.Schedule,
			"step_max_age", opts.Config.StepMaxAge,
			"stale_lease_grace", opts.Config.StaleLeaseGrace,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// RunOnce performs a single cleanup pass. It is invoked by the cron adapter.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	steps := []cleanupStep{
		{fn: s.releaseStaleLeases, label: "release stale leases", operation: "release_leases"},
		{fn: s.deleteOldSteps, label: "delete old steps", operation: "delete_steps"},
	}

	var (
		errs               []error
		allContextCanceled = true
	)
	for _, step := range steps {
		start := time.Now()
		count, err := step.fn(ctx)
		s.metrics.Reaper(step.operation, count, suppressContextCancellation(err), time.Since(start))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
			allContextCanceled = allContextCanceled && isContextCancellation(err)
		}
	}

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled {
			return context.Canceled
		}
		s.logCleanupError(ctx, joined)
		return fmt.Errorf("cleanup failed: %w", joined)
	}
	return nil
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	fn        cleanupFunc
	label     string
	operation string
}

// releaseStaleLeases loops until no more rows are affected to handle large backlogs in batches.
func (s *ReaperService) releaseStaleLeases(ctx context.Context) (int64, error) {
	total, err := drainBatches(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.ReleaseStaleLeases(ctx, s.config.StaleLeaseGrace, s.config.BatchSize)
	})
	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "released stale leases", "count", total, "grace", s.config.StaleLeaseGrace)
	}
	return total, err
}

func (s *ReaperService) deleteOldSteps(ctx context.Context) (int64, error) {
	total, err := drainBatches(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.DeleteOldSteps(ctx, s.config.StepMaxAge, s.config.BatchSize)
	})
	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "deleted old steps", "count", total, "max_age", s.config.StepMaxAge)
	}
	return total, err
}

func drainBatches(ctx context.Context, fn cleanupFunc) (int64, error) {
	var total int64
	for {
		count, err := fn(ctx)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			return total, nil
		}
		// Check context between batches
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func (s *ReaperService) logCleanupError(ctx context.Context, err error) {
	if err == nil || s.logger == nil {
		return
	}
	s.logger.ErrorContext(ctx, "cleanup failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
