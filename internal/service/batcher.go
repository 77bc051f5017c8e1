package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/appointflow/notifier/internal/domain/model"
	"github.com/appointflow/notifier/internal/observability/metrics"
)

// Default batching parameters.
const (
	DefaultBatchSize  = 50
	DefaultBatchPause = time.Second
)

// BatcherOptions configures a Batcher.
type BatcherOptions struct {
	Size    int               // Optional: defaults to DefaultBatchSize
	Pause   time.Duration     // Optional: defaults to DefaultBatchPause; negative disables pauses
	Sleep   SleepFunc         // Optional: test hook
	Metrics *metrics.Recorder // Optional
	Logger  *slog.Logger      // Optional
}

// Batcher dispatches recipients in fixed-size chunks. Chunks run strictly in order; members of a
// chunk run concurrently and one member's failure never affects its siblings.
type Batcher struct {
	size    int
	pause   time.Duration
	sleep   SleepFunc
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewBatcher constructs a Batcher.
func NewBatcher(opts BatcherOptions) *Batcher {
	b := &Batcher{size: opts.Size, pause: opts.Pause, sleep: opts.Sleep, metrics: opts.Metrics}
	if b.size < 1 {
		b.size = DefaultBatchSize
	}
	switch {
	case b.pause == 0:
		b.pause = DefaultBatchPause
	case b.pause < 0:
		b.pause = 0
	}
	if b.sleep == nil {
		b.sleep = sleepContext
	}
	if opts.Logger != nil {
		b.logger = opts.Logger.With("component", "batcher")
	}
	return b
}

// Size returns the chunk size.
func (b *Batcher) Size() int { return b.size }

// BatchStepFunc memoizes one chunk. It returns the stored result with replayed=true when the chunk
// already completed, and otherwise calls exec and stores its result.
type BatchStepFunc func(
	ctx context.Context,
	index int,
	exec func(context.Context) (model.BatchResult, error),
) (result model.BatchResult, replayed bool, err error)

// BatchRun describes one batched send.
type BatchRun struct {
	Kind       model.RunKind
	Recipients []model.Recipient
	// Send delivers to one recipient and never fails.
	Send func(ctx context.Context, r model.Recipient) model.DispatchResult
	// Step memoizes chunks; nil dispatches every chunk.
	Step BatchStepFunc
	// AfterBatch runs after every chunk, e.g. to extend a lease. An error stops the run.
	AfterBatch func(ctx context.Context, index int) error
}

// BatchSummary aggregates all chunk results.
type BatchSummary struct {
	Sent     int
	Failed   int
	Batches  int
	Replayed int
}

// Partition splits recipients into consecutive chunks of at most size members.
func Partition(recipients []model.Recipient, size int) [][]model.Recipient {
	if size < 1 {
		size = DefaultBatchSize
	}
	chunks := make([][]model.Recipient, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := min(start+size, len(recipients))
		chunks = append(chunks, recipients[start:end])
	}
	return chunks
}

// Run dispatches every chunk. It pauses between chunks that were actually dispatched and never
// after the last one. Errors only come from the memo, AfterBatch, or ctx.
func (b *Batcher) Run(ctx context.Context, in BatchRun) (BatchSummary, error) {
	var summary BatchSummary
	if in.Send == nil {
		return summary, errors.New("batch send func is required")
	}
	chunks := Partition(in.Recipients, b.size)

	for i, chunk := range chunks {
		exec := func(ctx context.Context) (model.BatchResult, error) {
			return b.dispatchChunk(ctx, i, chunk, in.Send), nil
		}

		var (
			result   model.BatchResult
			replayed bool
			err      error
		)
		if in.Step != nil {
			result, replayed, err = in.Step(ctx, i, exec)
		} else {
			result, err = exec(ctx)
		}
		if err != nil {
			return summary, fmt.Errorf("batch %d: %w", i, err)
		}

		summary.Batches++
		summary.Sent += result.Sent
		summary.Failed += result.Failed
		if replayed {
			summary.Replayed++
		}
		b.metrics.Batch(string(in.Kind), len(chunk), replayed)
		if b.logger != nil {
			b.logger.DebugContext(ctx, "batch completed",
				"kind", in.Kind, "index", i, "size", len(chunk),
				"sent", result.Sent, "failed", result.Failed, "replayed", replayed)
		}

		if in.AfterBatch != nil {
			if err := in.AfterBatch(ctx, i); err != nil {
				return summary, fmt.Errorf("after batch %d: %w", i, err)
			}
		}

		if i < len(chunks)-1 && !replayed && b.pause > 0 {
			if err := b.sleep(ctx, b.pause); err != nil {
				return summary, err
			}
		}
	}
	return summary, nil
}

func (b *Batcher) dispatchChunk(
	ctx context.Context,
	index int,
	chunk []model.Recipient,
	send func(context.Context, model.Recipient) model.DispatchResult,
) model.BatchResult {
	results := make([]model.DispatchResult, len(chunk))
	// A plain Group: no shared cancellation between members.
	var g errgroup.Group
	for i, r := range chunk {
		g.Go(func() error {
			results[i] = send(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	out := model.BatchResult{Index: index, Results: results}
	out.Tally()
	return out
}
