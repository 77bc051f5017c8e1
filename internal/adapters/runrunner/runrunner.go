// Package runrunner drives notification runs through the engine with a pool of workers.
package runrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/appointflow/notifier/internal/domain/model"
	"github.com/appointflow/notifier/internal/observability/metrics"
	"github.com/appointflow/notifier/internal/service"
)

// Queue is the subset of service.RunService the runner needs.
type Queue interface {
	ReserveNext(ctx context.Context, lease time.Duration) (*model.NotificationRun, error)
	NextAvailableAt(ctx context.Context) (*time.Time, error)
	Subscribe() (func(), <-chan struct{})
	Fail(ctx context.Context, id string, cause error) (model.RunState, error)
}

// Executor advances one run.
type Executor interface {
	Execute(ctx context.Context, run *model.NotificationRun) (service.Outcome, error)
}

// RunnerOptions configures the run runner adapter.
type RunnerOptions struct {
	Queue    Queue    // Required
	Executor Executor // Required
	Logger   *slog.Logger
	Metrics  *metrics.Recorder

	Lease        time.Duration // per-run lease duration; defaults to 2m
	Concurrency  int           // number of worker goroutines; defaults to 1
	PollInterval time.Duration // upper bound on idle sleeps; defaults to 30s

	// Now is a test hook.
	Now func() time.Time
}

// Runner reserves due runs and executes them.
type Runner struct {
	queue    Queue
	executor Executor
	logger   *slog.Logger
	metrics  *metrics.Recorder
	lease    time.Duration
	workers  int
	poll     time.Duration
	now      func() time.Time
}

// NewRunner constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Queue == nil {
		return nil, errors.New("run queue is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}
	r := &Runner{
		queue:    opts.Queue,
		executor: opts.Executor,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		lease:    opts.Lease,
		workers:  opts.Concurrency,
		poll:     opts.PollInterval,
		now:      opts.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "run_runner")
	if r.lease <= 0 {
		r.lease = 2 * time.Minute
	}
	if r.workers <= 0 {
		r.workers = 1
	}
	if r.poll <= 0 {
		r.poll = 30 * time.Second
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Run starts worker goroutines and processes runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting run runner", "workers", r.workers, "lease", r.lease, "poll", r.poll)

	// Derive a cancellable context that we can signal on first fatal error
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsub, ch := r.queue.Subscribe()
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, ch); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		run, err := r.queue.ReserveNext(ctx, r.lease)
		switch {
		case err == nil:
			if run != nil {
				r.Process(ctx, run)
			}
		case errors.Is(err, model.ErrNoRunsAvailable):
			if !r.waitForWork(ctx, notify) {
				return nil
			}
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return nil
}

// waitForWork sleeps until a notification arrives, the earliest parked run becomes due, or the
// poll interval elapses. It returns false when ctx ends.
func (r *Runner) waitForWork(ctx context.Context, notify <-chan struct{}) bool {
	timer := time.NewTimer(r.idleDelay(ctx))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	case <-timer.C:
		return true
	}
}

func (r *Runner) idleDelay(ctx context.Context) time.Duration {
	next, err := r.queue.NextAvailableAt(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "next available lookup failed", "error", err)
		return r.poll
	}
	if next == nil {
		return r.poll
	}
	d := next.Sub(r.now())
	switch {
	case d <= 0:
		// Due but leased elsewhere; back off briefly.
		return min(time.Second, r.poll)
	case d > r.poll:
		return r.poll
	}
	return d
}

// Process executes one reserved run and records infrastructure failures.
func (r *Runner) Process(ctx context.Context, run *model.NotificationRun) {
	start := r.now()
	out, err := r.executor.Execute(ctx, run)
	pass := metrics.RunMetric{
		Kind:       string(run.Kind),
		Transition: "execute",
		Result:     metrics.ResultSuccess,
		Duration:   r.now().Sub(start),
	}
	switch {
	case err == nil:
		if out.Status == service.OutcomeSuspended {
			pass.Result = metrics.ResultNoop
		}
		r.metrics.RunTransition(pass)
		r.logger.DebugContext(ctx, "run executed",
			"run_id", run.ID, "kind", run.Kind, "status", out.Status, "state", out.State)
	case errors.Is(err, model.ErrInvalidTransition):
		// Another worker moved the run on; nothing to record.
		r.logger.InfoContext(ctx, "run already advanced elsewhere", "run_id", run.ID, "error", err)
	case errors.Is(err, service.ErrLeaseLost):
		pass.Transition, pass.Result, pass.Err = "lease_lost", metrics.ResultError, err
		r.metrics.RunTransition(pass)
		r.logger.WarnContext(ctx, "run lease lost", "run_id", run.ID)
	case ctx.Err() != nil:
		r.logger.InfoContext(ctx, "run interrupted by shutdown", "run_id", run.ID, "state", run.State)
	default:
		r.logger.ErrorContext(ctx, "run execution failed", "run_id", run.ID, "kind", run.Kind, "error", err)
		if _, ferr := r.queue.Fail(ctx, run.ID, err); ferr != nil {
			r.logger.ErrorContext(ctx, "fail run error", "run_id", run.ID, "error", ferr, "original_error", err)
		}
	}
}
