// Package testutil provides database, Redis and fixture helpers for notifier tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/appointflow/notifier/internal/domain/model"
)

// SampleEvent returns an offline event starting at 2026-02-21 10:00 with both switches on.
func SampleEvent(id string) model.EventSnapshot {
	return model.EventSnapshot{
		ID:                     id,
		Title:                  "Community Meetup",
		StartDate:              "2026-02-21",
		StartTime:              "10:00",
		Location:               "Main Hall",
		EventType:              model.EventTypeOffline,
		Send24hReminder:        true,
		ConfirmationEmailHours: model.Hours(48),
	}
}

// SampleRecipients returns n registered recipients with ids r-1..r-n.
func SampleRecipients(n int) []model.Recipient {
	out := make([]model.Recipient, n)
	for i := range out {
		out[i] = model.Recipient{
			ID:       fmt.Sprintf("r-%d", i+1),
			FullName: fmt.Sprintf("Attendee %d", i+1),
			Email:    fmt.Sprintf("attendee%d@example.com", i+1),
			Status:   model.RecipientStatusRegistered,
		}
	}
	return out
}

// RunRequestBuilder provides a fluent interface for building CreateRunRequest objects for testing.
type RunRequestBuilder struct {
	req *model.CreateRunRequest
}

// NewRunRequest creates a builder for a custom reminder on SampleEvent("evt-1").
func NewRunRequest() *RunRequestBuilder {
	return &RunRequestBuilder{
		req: &model.CreateRunRequest{
			Kind:          model.RunKindReminderCustom,
			EventSnapshot: SampleEvent("evt-1"),
			Payload: model.CustomReminderPayload{
				CustomMessage: "Bring your badge.",
				HoursBefore:   model.Hours(2),
			},
		},
	}
}

// WithEvent sets the event snapshot.
func (b *RunRequestBuilder) WithEvent(ev model.EventSnapshot) *RunRequestBuilder {
	b.req.EventSnapshot = ev
	return b
}

// WithPayload sets the payload and the matching kind.
func (b *RunRequestBuilder) WithPayload(p model.RunPayload) *RunRequestBuilder {
	b.req.Payload = p
	b.req.Kind = p.Kind()
	return b
}

// WithDedupeKey sets the dedupe key.
func (b *RunRequestBuilder) WithDedupeKey(key string) *RunRequestBuilder {
	b.req.DedupeKey = key
	return b
}

// WithMaxAttempts sets the attempt budget.
func (b *RunRequestBuilder) WithMaxAttempts(n int) *RunRequestBuilder {
	b.req.MaxAttempts = n
	return b
}

// WithAvailableAt sets when the run first becomes reservable.
func (b *RunRequestBuilder) WithAvailableAt(t time.Time) *RunRequestBuilder {
	b.req.AvailableAt = &t
	return b
}

// Build returns the constructed CreateRunRequest.
func (b *RunRequestBuilder) Build() *model.CreateRunRequest {
	return b.req
}

// SeedEvent inserts an event row into the collaborator events table.
func SeedEvent(t TestingTB, db *sql.DB, ev model.EventSnapshot) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var hours any
	if ev.ConfirmationEmailHours.Valid {
		hours = ev.ConfirmationEmailHours.Value
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (id, title, start_date, start_time, location, event_type, meeting_link,
		                    send_24h_reminder, confirmation_email_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ev.ID, ev.Title, ev.StartDate, ev.StartTime, ev.Location, string(ev.EventType), ev.MeetingLink,
		ev.Send24hReminder, hours)
	if err != nil {
		t.Fatalf("seed event %s: %v", ev.ID, err)
	}
}

// SeedRegistrations inserts registrations for an event, one second apart in sign-up order.
func SeedRegistrations(t TestingTB, db *sql.DB, eventID string, recipients ...model.Recipient) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base := TestTime()
	for i, r := range recipients {
		status := r.Status
		if status == "" {
			status = model.RecipientStatusRegistered
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO registrations (id, event_id, full_name, email, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, r.ID, eventID, r.FullName, r.Email, string(status), base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("seed registration %s: %v", r.ID, err)
		}
	}
}

// RunStateInfo is a compact view of a run row for debugging.
type RunStateInfo struct {
	ID           string
	Kind         string
	State        string
	AttemptCount int
	LastError    *string
}

// InspectRunStates returns every run in creation order.
func InspectRunStates(t TestingTB, db *sql.DB) []RunStateInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, state, attempt_count, last_error
		FROM notification_runs
		ORDER BY created_at ASC
	`)
	if err != nil {
		t.Fatalf("Failed to query run states: %v", err)
	}
	defer func() {
		if rerr := rows.Close(); rerr != nil {
			t.Logf("warning: failed to close run state rows: %v", rerr)
		}
	}()

	var out []RunStateInfo
	for rows.Next() {
		var info RunStateInfo
		if scanErr := rows.Scan(&info.ID, &info.Kind, &info.State, &info.AttemptCount, &info.LastError); scanErr != nil {
			t.Fatalf("Failed to scan run state: %v", scanErr)
		}
		out = append(out, info)
	}
	if iterErr := rows.Err(); iterErr != nil {
		t.Fatalf("Error iterating over rows: %v", iterErr)
	}
	return out
}
