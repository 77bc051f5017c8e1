// Package failurenotifier fans run failure alerts out to the configured sinks.
package failurenotifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/appointflow/notifier/internal/domain/model"
	obserrors "github.com/appointflow/notifier/internal/observability/errors"
	"github.com/appointflow/notifier/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "failure_notifier")

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{Name: name, Sink: entry.Sink})
	}

	return &Service{logger: logger, sinks: sinks}
}

// PayloadFromRun builds the alert payload for a run that ended in the failed state.
func PayloadFromRun(run *model.NotificationRun, cause error, occurredAt time.Time) notify.RunFailurePayload {
	p := notify.RunFailurePayload{
		Severity:   notify.SeverityCritical,
		OccurredAt: occurredAt,
	}
	if cause != nil {
		p.Error = cause.Error()
		p.ErrorClass = obserrors.Classify(cause)
	}
	if run == nil {
		return p
	}
	p.RunID = run.ID
	p.Kind = string(run.Kind)
	p.EventID = run.EventID
	p.EventTitle = run.EventSnapshot.Title
	p.Attempts = run.AttemptCount + 1
	if run.SentCount > 0 {
		p.Metadata = map[string]string{"note": "some recipients were already delivered"}
	}
	return p
}

// NotifyRunFailure fans the payload out to all sinks and waits for them.
func (s *Service) NotifyRunFailure(ctx context.Context, payload notify.RunFailurePayload) {
	if s == nil || len(s.sinks) == 0 {
		return
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendRunFailure(ctx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"run_id", payload.RunID,
					"kind", payload.Kind,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
