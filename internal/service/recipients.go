package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/domain/model"
)

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RecipientResolverOptions groups dependencies for RecipientResolver.
type RecipientResolverOptions struct {
	Store    core.RegistrationStore // Required
	Attempts int                    // Optional: defaults to 3
	Backoff  time.Duration          // Optional: base delay, doubled per attempt; defaults to 200ms
	Sleep    SleepFunc              // Optional: test hook
	Logger   *slog.Logger           // Optional
}

// RecipientResolver reads the current eligible registrants of an event.
type RecipientResolver struct {
	store    core.RegistrationStore
	attempts int
	backoff  time.Duration
	sleep    SleepFunc
	logger   *slog.Logger
}

// NewRecipientResolver constructs a RecipientResolver.
func NewRecipientResolver(opts RecipientResolverOptions) (*RecipientResolver, error) {
	if opts.Store == nil {
		return nil, errors.New("RegistrationStore is required")
	}
	r := &RecipientResolver{
		store:    opts.Store,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		sleep:    opts.Sleep,
	}
	if r.attempts < 1 {
		r.attempts = 3
	}
	if r.backoff <= 0 {
		r.backoff = 200 * time.Millisecond
	}
	if r.sleep == nil {
		r.sleep = sleepContext
	}
	if opts.Logger != nil {
		r.logger = opts.Logger.With("component", "recipient_resolver")
	}
	return r, nil
}

// Resolve returns the registered recipients of eventID in sign-up order. Store failures are retried
// with exponential backoff; once the budget is spent an empty list is returned. The only error is
// the context's, so a shutdown is never mistaken for an empty audience.
func (r *RecipientResolver) Resolve(ctx context.Context, eventID string) ([]model.Recipient, error) {
	var lastErr error
	delay := r.backoff
	for attempt := 1; attempt <= r.attempts; attempt++ {
		list, err := r.store.ListRegistered(ctx, eventID)
		if err == nil {
			return model.EligibleRecipients(list), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if attempt == r.attempts {
			break
		}
		if r.logger != nil {
			r.logger.DebugContext(ctx, "recipient read failed, retrying",
				"event_id", eventID, "attempt", attempt, "retry_in", delay, "error", err)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}

	if r.logger != nil {
		r.logger.ErrorContext(ctx, "recipient resolution failed",
			"event_id", eventID, "attempts", r.attempts, "error", lastErr)
	}
	return []model.Recipient{}, nil
}
