package failurenotifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/appointflow/notifier/internal/domain/model"
	"github.com/appointflow/notifier/internal/observability/notify"
)

func TestServiceNotifyRunFailure(t *testing.T) {
	ctx := context.Background()

	var (
		mu       sync.Mutex
		received []notify.RunFailurePayload
	)
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{
				Name: "capture",
				Sink: notify.SinkFunc(func(_ context.Context, payload notify.RunFailurePayload) error {
					mu.Lock()
					defer mu.Unlock()
					received = append(received, payload)
					return nil
				}),
			},
			{
				Name: "broken",
				Sink: notify.SinkFunc(func(context.Context, notify.RunFailurePayload) error {
					return errors.New("boom")
				}),
			},
			{Name: "nil"},
		},
	})

	if !svc.Enabled() {
		t.Fatal("expected service to be enabled")
	}

	svc.NotifyRunFailure(ctx, notify.RunFailurePayload{RunID: "run-1", Kind: "broadcast"})

	if len(received) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(received))
	}
	if received[0].Severity != notify.SeverityCritical {
		t.Fatalf("expected default severity, got %q", received[0].Severity)
	}
}

func TestServiceWithoutSinks(t *testing.T) {
	svc := NewService(Options{})
	if svc.Enabled() {
		t.Fatal("expected service without sinks to be disabled")
	}
	svc.NotifyRunFailure(context.Background(), notify.RunFailurePayload{RunID: "run-1"})

	var nilSvc *Service
	nilSvc.NotifyRunFailure(context.Background(), notify.RunFailurePayload{})
}

func TestPayloadFromRun(t *testing.T) {
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	run := &model.NotificationRun{
		ID:            "run-7",
		Kind:          model.RunKindReminder24h,
		EventID:       "evt-1",
		EventSnapshot: model.EventSnapshot{ID: "evt-1", Title: "Community Meetup"},
		AttemptCount:  9,
		SentCount:     3,
	}

	p := PayloadFromRun(run, errors.New("db unavailable"), at)

	if p.RunID != "run-7" || p.Kind != "reminder_24h" || p.EventTitle != "Community Meetup" {
		t.Fatalf("unexpected identity fields: %+v", p)
	}
	if p.Attempts != 10 {
		t.Fatalf("expected attempts to include the failing one, got %d", p.Attempts)
	}
	if p.Error != "db unavailable" || p.ErrorClass == "" {
		t.Fatalf("expected error details, got %+v", p)
	}
	if p.Metadata["note"] == "" {
		t.Fatal("expected partial delivery note")
	}
	if !p.OccurredAt.Equal(at) {
		t.Fatalf("unexpected timestamp %v", p.OccurredAt)
	}
}
