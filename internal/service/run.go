package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/domain/model"
	domainrun "github.com/appointflow/notifier/internal/domain/run"
	"github.com/appointflow/notifier/internal/observability/metrics"
	"github.com/appointflow/notifier/internal/service/failurenotifier"
)

// RunServiceOptions groups dependencies for RunService.
type RunServiceOptions struct {
	Repo            core.RunRepository         // Required: run repository
	Steps           core.StepStore             // Optional: step memo, for inspection
	DefaultLease    time.Duration              // Required unless LeasePolicy is set
	LeasePolicy     *domainrun.LeasePolicy     // Optional: override default lease policy
	Notifier        domainrun.Notifier         // Optional: custom run availability notifier
	NotifierOptions domainrun.NotifierOptions  // Optional: configure default notifier behaviour
	FailureNotifier *failurenotifier.Service   // Optional: alert fan-out for failed runs
	Metrics         *metrics.Recorder          // Optional
	Logger          *slog.Logger               // Optional: structured logger
}

// RunService wraps the run queue with lease normalisation, wake-up subscriptions, failure
// alerting, and read access for inspection.
type RunService struct {
	repo            core.RunRepository
	steps           core.StepStore
	leasePolicy     *domainrun.LeasePolicy
	notifier        domainrun.Notifier
	failureNotifier *failurenotifier.Service
	metrics         *metrics.Recorder
	logger          *slog.Logger
}

// NewRunService constructs a new RunService.
func NewRunService(opts RunServiceOptions) (*RunService, error) {
	if opts.Repo == nil {
		return nil, errors.New("RunRepository is required")
	}

	leasePolicy := opts.LeasePolicy
	if leasePolicy == nil {
		var err error
		leasePolicy, err = domainrun.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainrun.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create run notifier: %w", err)
		}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "run_service")
		logger.Debug("RunService initialized", "default_lease", leasePolicy.Default())
	}

	return &RunService{
		repo:            opts.Repo,
		steps:           opts.Steps,
		leasePolicy:     leasePolicy,
		notifier:        notifier,
		failureNotifier: opts.FailureNotifier,
		metrics:         opts.Metrics,
		logger:          logger,
	}, nil
}

// DefaultLease returns the lease used when callers pass zero.
func (s *RunService) DefaultLease() time.Duration { return s.leasePolicy.Default() }

// ReserveNext leases the next due run. It returns model.ErrNoRunsAvailable when nothing is due.
func (s *RunService) ReserveNext(ctx context.Context, lease time.Duration) (*model.NotificationRun, error) {
	decision := s.leasePolicy.Resolve(lease)
	if decision.Clamped() && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped lease duration",
			"requested_duration", decision.Requested, "lease", decision.Lease)
	}

	run, err := s.repo.ReserveNext(ctx, decision.Lease)
	if err != nil {
		if errors.Is(err, model.ErrNoRunsAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve next run: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "run reserved",
			"id", run.ID, "kind", run.Kind, "state", run.State, "lease", decision.Lease)
	}
	return run, nil
}

// NextAvailableAt reports when the earliest active run becomes reservable, or nil when none exist.
func (s *RunService) NextAvailableAt(ctx context.Context) (*time.Time, error) {
	return s.repo.NextAvailableAt(ctx)
}

// Subscribe registers for wake-ups whenever a run may have become available. Without a notifier
// the channel is nil and never fires, so idle workers fall back to their poll interval.
func (s *RunService) Subscribe() (func(), <-chan struct{}) {
	if s.notifier == nil {
		return func() {}, nil
	}
	return s.notifier.Subscribe()
}

// StopListeners closes every subscription.
func (s *RunService) StopListeners() {
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}

// Heartbeat extends the lease on a run.
func (s *RunService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	decision := s.leasePolicy.Resolve(extend)
	updated, err := s.repo.Heartbeat(ctx, id, decision.Lease)
	if err != nil {
		return false, fmt.Errorf("heartbeat run %s: %w", id, err)
	}
	return updated, nil
}

// Fail records an infrastructure failure. When the run exhausts its attempts it ends in the failed
// state and the failure notifier is invoked.
func (s *RunService) Fail(ctx context.Context, id string, cause error) (model.RunState, error) {
	if cause == nil {
		return "", errors.New("failure cause required")
	}

	var run *model.NotificationRun
	if s.failureNotifier.Enabled() {
		var err error
		run, err = s.repo.GetByID(ctx, id)
		if err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "failed to load run for failure notification", "run_id", id, "error", err)
		}
	}

	state, err := s.repo.Fail(ctx, id, cause.Error())
	if err != nil {
		return "", fmt.Errorf("fail run %s: %w", id, err)
	}

	kind := ""
	if run != nil {
		kind = string(run.Kind)
	}
	transition := "retry"
	if state == model.RunStateFailed {
		transition = string(model.RunStateFailed)
	}
	s.metrics.RunTransition(metrics.RunMetric{
		Kind: kind, Transition: transition, Result: metrics.ResultError, Err: cause,
	})

	if s.logger != nil {
		s.logger.WarnContext(ctx, "run attempt failed", "run_id", id, "state", state, "error", cause)
	}

	if state == model.RunStateFailed {
		if run == nil {
			run = &model.NotificationRun{ID: id}
		}
		s.failureNotifier.NotifyRunFailure(ctx, failurenotifier.PayloadFromRun(run, cause, time.Now()))
	}
	return state, nil
}

// GetByID returns a run.
func (s *RunService) GetByID(ctx context.Context, id string) (*model.NotificationRun, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns runs matching opts, newest first.
func (s *RunService) List(ctx context.Context, opts model.RunListOptions) ([]*model.NotificationRun, error) {
	return s.repo.List(ctx, opts)
}

// Stats counts runs per state.
func (s *RunService) Stats(ctx context.Context) (*model.RunStats, error) {
	return s.repo.Stats(ctx)
}

// Steps returns the memoized steps of a run.
func (s *RunService) Steps(ctx context.Context, runID string) ([]model.StepRecord, error) {
	if s.steps == nil {
		return nil, nil
	}
	return s.steps.List(ctx, runID)
}
