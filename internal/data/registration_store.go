package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/domain/model"
)

// RegistrationStore reads registrants and event switches from the tables owned by the main
// application. It never writes.
type RegistrationStore struct {
	DB *sql.DB
}

var (
	_ core.RegistrationStore = (*RegistrationStore)(nil)
	_ core.EventFlagReader   = (*RegistrationStore)(nil)
)

// NewRegistrationStore creates a RegistrationStore.
func NewRegistrationStore(db *sql.DB) *RegistrationStore {
	return &RegistrationStore{DB: db}
}

// ListRegistered returns the registered attendees of an event in sign-up order.
func (s *RegistrationStore) ListRegistered(ctx context.Context, eventID string) ([]model.Recipient, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, full_name, email, status
		FROM registrations
		WHERE event_id = $1 AND status = 'registered'
		ORDER BY created_at, id
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Recipient, 0)
	for rows.Next() {
		var rec model.Recipient
		if err = rows.Scan(&rec.ID, &rec.FullName, &rec.Email, &rec.Status); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		out = append(out, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return out, nil
}

// GetEventFlags reads the current notification switches of an event.
func (s *RegistrationStore) GetEventFlags(ctx context.Context, eventID string) (model.EventFlags, error) {
	var (
		flags model.EventFlags
		hours sql.NullFloat64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT send_24h_reminder, confirmation_email_hours::float8
		FROM events
		WHERE id = $1
	`, eventID).Scan(&flags.Send24hReminder, &hours)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EventFlags{}, fmt.Errorf("event %s: %w", eventID, ErrEventNotFound)
	}
	if err != nil {
		return model.EventFlags{}, fmt.Errorf("get event flags: %w", err)
	}
	if hours.Valid {
		flags.ConfirmationEmailHours = model.Hours(hours.Float64)
	}
	return flags, nil
}
