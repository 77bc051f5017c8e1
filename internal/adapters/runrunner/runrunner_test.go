package runrunner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/appointflow/notifier/internal/domain/model"
	"github.com/appointflow/notifier/internal/observability/metrics"
	"github.com/appointflow/notifier/internal/observability/statsd"
	"github.com/appointflow/notifier/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu      sync.Mutex
	runs    []*model.NotificationRun
	next    *time.Time
	nextErr error
	failed  map[string]error
	notify  chan struct{}
}

func newFakeQueue(runs ...*model.NotificationRun) *fakeQueue {
	return &fakeQueue{runs: runs, failed: make(map[string]error), notify: make(chan struct{}, 1)}
}

func (q *fakeQueue) ReserveNext(context.Context, time.Duration) (*model.NotificationRun, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.runs) == 0 {
		return nil, model.ErrNoRunsAvailable
	}
	run := q.runs[0]
	q.runs = q.runs[1:]
	return run, nil
}

func (q *fakeQueue) NextAvailableAt(context.Context) (*time.Time, error) { return q.next, q.nextErr }

func (q *fakeQueue) Subscribe() (func(), <-chan struct{}) { return func() {}, q.notify }

func (q *fakeQueue) Fail(_ context.Context, id string, cause error) (model.RunState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[id] = cause
	return model.RunStatePending, nil
}

func (q *fakeQueue) failures() map[string]error {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]error, len(q.failed))
	for k, v := range q.failed {
		out[k] = v
	}
	return out
}

type executorFunc func(ctx context.Context, run *model.NotificationRun) (service.Outcome, error)

func (f executorFunc) Execute(ctx context.Context, run *model.NotificationRun) (service.Outcome, error) {
	return f(ctx, run)
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)
	_, err = NewRunner(RunnerOptions{Queue: newFakeQueue()})
	require.Error(t, err)
}

func TestRunner_Process(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantFail bool
	}{
		{name: "success", err: nil},
		{name: "infrastructure error", err: errors.New("db timeout"), wantFail: true},
		{name: "stale transition", err: model.ErrInvalidTransition},
		{name: "lease lost", err: service.ErrLeaseLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newFakeQueue()
			r, err := NewRunner(RunnerOptions{
				Queue: q,
				Executor: executorFunc(func(context.Context, *model.NotificationRun) (service.Outcome, error) {
					return service.Outcome{Status: service.OutcomeFinished, State: model.RunStateCompleted}, tt.err
				}),
			})
			require.NoError(t, err)

			r.Process(context.Background(), &model.NotificationRun{ID: "run-1", State: model.RunStateSending})

			failures := q.failures()
			if tt.wantFail {
				assert.Equal(t, tt.err, failures["run-1"])
			} else {
				assert.Empty(t, failures)
			}
		})
	}
}

func TestRunner_Process_RecordsPassMetrics(t *testing.T) {
	outcomes := []struct {
		out service.Outcome
		err error
	}{
		{out: service.Outcome{Status: service.OutcomeFinished, State: model.RunStateCompleted}},
		{out: service.Outcome{Status: service.OutcomeSuspended, State: model.RunStateWaiting}},
		{err: service.ErrLeaseLost},
	}
	sink := &statsd.Recorder{}
	calls := 0
	r, err := NewRunner(RunnerOptions{
		Queue:   newFakeQueue(),
		Metrics: metrics.NewRecorder(nil, sink),
		Executor: executorFunc(func(context.Context, *model.NotificationRun) (service.Outcome, error) {
			o := outcomes[calls]
			calls++
			return o.out, o.err
		}),
	})
	require.NoError(t, err)

	for range outcomes {
		r.Process(context.Background(), &model.NotificationRun{ID: "run-1", Kind: model.RunKindBroadcast})
	}

	samples := sink.Samples("run.transition")
	require.Len(t, samples, 3)
	assert.Equal(t, "success", samples[0].Tags["result"])
	assert.Equal(t, "noop", samples[1].Tags["result"])
	assert.Equal(t, "lease_lost", samples[2].Tags["transition"])
	assert.Equal(t, "broadcast", samples[2].Tags["kind"])
}

func TestRunner_Run_ProcessesUntilCancelled(t *testing.T) {
	q := newFakeQueue(&model.NotificationRun{ID: "a"}, &model.NotificationRun{ID: "b"})
	var (
		mu   sync.Mutex
		seen []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := NewRunner(RunnerOptions{
		Queue:        q,
		PollInterval: 10 * time.Millisecond,
		Executor: executorFunc(func(_ context.Context, run *model.NotificationRun) (service.Outcome, error) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, run.ID)
			if len(seen) == 2 {
				cancel()
			}
			return service.Outcome{Status: service.OutcomeFinished}, nil
		}),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestRunner_IdleDelay(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		next *time.Time
		err  error
		want time.Duration
	}{
		{name: "nothing parked", want: 30 * time.Second},
		{name: "lookup error", err: errors.New("boom"), want: 30 * time.Second},
		{name: "due soon", next: ptr(now.Add(5 * time.Second)), want: 5 * time.Second},
		{name: "far future capped", next: ptr(now.Add(24 * time.Hour)), want: 30 * time.Second},
		{name: "already due", next: ptr(now.Add(-time.Minute)), want: time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newFakeQueue()
			q.next, q.nextErr = tt.next, tt.err
			r, err := NewRunner(RunnerOptions{
				Queue:    q,
				Executor: executorFunc(nil),
				Now:      func() time.Time { return now },
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.idleDelay(context.Background()))
		})
	}
}

func ptr(t time.Time) *time.Time { return &t }
