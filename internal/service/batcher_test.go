package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/appointflow/notifier/internal/domain/model"
	"github.com/appointflow/notifier/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{name: "empty", n: 0, size: 50, sizes: []int{}},
		{name: "exact", n: 100, size: 50, sizes: []int{50, 50}},
		{name: "remainder", n: 120, size: 50, sizes: []int{50, 50, 20}},
		{name: "single", n: 1, size: 50, sizes: []int{1}},
		{name: "default size", n: 51, size: 0, sizes: []int{50, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Partition(testutil.SampleRecipients(tt.n), tt.size)
			got := make([]int, 0, len(chunks))
			for _, c := range chunks {
				got = append(got, len(c))
			}
			assert.Equal(t, tt.sizes, got)
		})
	}
}

func TestPartition_PreservesOrder(t *testing.T) {
	chunks := Partition(testutil.SampleRecipients(5), 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, "r-1", chunks[0][0].ID)
	assert.Equal(t, "r-3", chunks[1][0].ID)
	assert.Equal(t, "r-5", chunks[2][0].ID)
}

func sendAll(ctx context.Context, r model.Recipient) model.DispatchResult {
	return model.Sent(r.ID, "msg-"+r.ID)
}

func TestBatcher_Run_PausesBetweenBatches(t *testing.T) {
	sleeper := &recordingSleep{}
	b := NewBatcher(BatcherOptions{Sleep: sleeper.sleep})
	assert.Equal(t, DefaultBatchSize, b.Size())

	var after []int
	summary, err := b.Run(context.Background(), BatchRun{
		Kind:       model.RunKindReminder24h,
		Recipients: testutil.SampleRecipients(120),
		Send:       sendAll,
		AfterBatch: func(_ context.Context, i int) error {
			after = append(after, i)
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, BatchSummary{Sent: 120, Batches: 3}, summary)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.pauses)
	assert.Equal(t, []int{0, 1, 2}, after)
}

func TestBatcher_Run_SingleBatchNeverPauses(t *testing.T) {
	sleeper := &recordingSleep{}
	b := NewBatcher(BatcherOptions{Sleep: sleeper.sleep})

	summary, err := b.Run(context.Background(), BatchRun{
		Recipients: testutil.SampleRecipients(50),
		Send:       sendAll,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Batches)
	assert.Empty(t, sleeper.pauses)
}

func TestBatcher_Run_FailureIsolation(t *testing.T) {
	b := NewBatcher(BatcherOptions{Size: 10, Pause: -1})

	summary, err := b.Run(context.Background(), BatchRun{
		Recipients: testutil.SampleRecipients(10),
		Send: func(ctx context.Context, r model.Recipient) model.DispatchResult {
			if r.ID == "r-3" {
				return model.Failed(r.ID, errors.New("mailbox full"))
			}
			return sendAll(ctx, r)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 9, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
}

func TestBatcher_Run_ChunkMembersRunConcurrently(t *testing.T) {
	b := NewBatcher(BatcherOptions{Size: 4, Pause: -1})

	var (
		inFlight, peak atomic.Int32
		release        = make(chan struct{})
		once           sync.Once
	)
	_, err := b.Run(context.Background(), BatchRun{
		Recipients: testutil.SampleRecipients(4),
		Send: func(ctx context.Context, r model.Recipient) model.DispatchResult {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			if n == 4 {
				once.Do(func() { close(release) })
			}
			select {
			case <-release:
			case <-time.After(2 * time.Second):
			}
			inFlight.Add(-1)
			return sendAll(ctx, r)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(4), peak.Load())
}

func TestBatcher_Run_ReplayedBatchesSkipDispatchAndPause(t *testing.T) {
	sleeper := &recordingSleep{}
	b := NewBatcher(BatcherOptions{Size: 2, Sleep: sleeper.sleep})

	var sends atomic.Int32
	summary, err := b.Run(context.Background(), BatchRun{
		Recipients: testutil.SampleRecipients(6),
		Send: func(ctx context.Context, r model.Recipient) model.DispatchResult {
			sends.Add(1)
			return sendAll(ctx, r)
		},
		Step: func(
			ctx context.Context,
			index int,
			exec func(context.Context) (model.BatchResult, error),
		) (model.BatchResult, bool, error) {
			if index == 0 {
				return model.BatchResult{Index: 0, Sent: 2}, true, nil
			}
			res, err := exec(ctx)
			return res, false, err
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(4), sends.Load())
	assert.Equal(t, 6, summary.Sent)
	assert.Equal(t, 1, summary.Replayed)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.pauses, "only the pause after batch 1")
}

func TestBatcher_Run_AfterBatchErrorStops(t *testing.T) {
	b := NewBatcher(BatcherOptions{Size: 2, Pause: -1})
	stop := errors.New("lease lost")

	summary, err := b.Run(context.Background(), BatchRun{
		Recipients: testutil.SampleRecipients(6),
		Send:       sendAll,
		AfterBatch: func(context.Context, int) error { return stop },
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, summary.Batches)
}

func TestBatcher_Run_RequiresSend(t *testing.T) {
	_, err := NewBatcher(BatcherOptions{}).Run(context.Background(), BatchRun{})
	require.Error(t, err)
}

func TestBatcher_Run_StopsWhenContextEndsDuringPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBatcher(BatcherOptions{Size: 1, Sleep: func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}})

	summary, err := b.Run(ctx, BatchRun{Recipients: testutil.SampleRecipients(3), Send: sendAll})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Batches)
}
