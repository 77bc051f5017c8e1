// Package model defines the core data types shared by the notification scheduling engine.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunKind identifies which notification a run delivers.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type RunKind string

// RunState is the lifecycle position of a run.
type RunState string

const (
	// RunKindRegistrationConfirmed is sent immediately after a registration.
	RunKindRegistrationConfirmed RunKind = "registration_confirmed"
	// RunKindReminder24h is sent 24 hours before the event start.
	RunKindReminder24h RunKind = "reminder_24h"
	// RunKindReminderCustom is sent a caller-chosen number of hours before the event start.
	RunKindReminderCustom RunKind = "reminder_custom"
	// RunKindAttendanceRequest asks a registrant to confirm they are still coming.
	RunKindAttendanceRequest RunKind = "attendance_request"
	// RunKindBroadcast is an organizer-authored message sent immediately.
	RunKindBroadcast RunKind = "broadcast"
)

const (
	// RunStatePending indicates the send time has not been computed yet.
	RunStatePending RunState = "pending"
	// RunStateWaiting indicates the run is parked until its scheduled instant.
	RunStateWaiting RunState = "waiting"
	// RunStateResolving indicates gating and recipient resolution are in progress.
	RunStateResolving RunState = "resolving"
	// RunStateSending indicates batches are being dispatched.
	RunStateSending RunState = "sending"
	// RunStateCompleted indicates every batch was attempted.
	RunStateCompleted RunState = "completed"
	// RunStateSkippedDisabled indicates the event turned the notification off.
	RunStateSkippedDisabled RunState = "skipped_disabled"
	// RunStateSkippedEmpty indicates there was nobody to notify.
	RunStateSkippedEmpty RunState = "skipped_empty"
	// RunStateFailed indicates infrastructure errors exhausted the retry budget.
	RunStateFailed RunState = "failed"
)

var (
	// ErrNoRunsAvailable is returned when no run is due for reservation.
	ErrNoRunsAvailable = errors.New("no runs available")
	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("run not found")
	// ErrInvalidTransition is returned when a guarded state transition does not match the stored state.
	ErrInvalidTransition = errors.New("invalid run state transition")
)

var allRunKinds = []RunKind{
	RunKindRegistrationConfirmed,
	RunKindReminder24h,
	RunKindReminderCustom,
	RunKindAttendanceRequest,
	RunKindBroadcast,
}

// RunKinds returns every supported kind in a stable order.
func RunKinds() []RunKind {
	out := make([]RunKind, len(allRunKinds))
	copy(out, allRunKinds)
	return out
}

// Valid returns true if the RunKind is known.
func (k RunKind) Valid() bool {
	for _, v := range allRunKinds {
		if k == v {
			return true
		}
	}
	return false
}

// UnmarshalText implements encoding.TextUnmarshaler so kinds can be parsed from query strings and env.
func (k *RunKind) UnmarshalText(text []byte) error {
	v := RunKind(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid RunKind: %q", v)
	}
	*k = v
	return nil
}

// Immediate reports whether runs of this kind skip the durable wait.
func (k RunKind) Immediate() bool {
	return k == RunKindRegistrationConfirmed || k == RunKindBroadcast
}

// Valid returns true if the RunState is known.
func (s RunState) Valid() bool {
	switch s {
	case RunStatePending, RunStateWaiting, RunStateResolving, RunStateSending,
		RunStateCompleted, RunStateSkippedDisabled, RunStateSkippedEmpty, RunStateFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateCompleted, RunStateSkippedDisabled, RunStateSkippedEmpty, RunStateFailed:
		return true
	}
	return false
}

// rank orders non-terminal states; terminal states share the highest rank.
func (s RunState) rank() int {
	switch s {
	case RunStatePending:
		return 0
	case RunStateWaiting:
		return 1
	case RunStateResolving:
		return 2
	case RunStateSending:
		return 3
	}
	return 4
}

// CanTransition reports whether moving from s to next respects forward-only progress.
func (s RunState) CanTransition(next RunState) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	switch next {
	case RunStateFailed:
		return true
	case RunStateSkippedDisabled, RunStateSkippedEmpty:
		return s == RunStateResolving
	case RunStateCompleted:
		return s == RunStateSending
	}
	return next.rank() == s.rank()+1
}

// NotificationRun is one durable unit of notification work.
type NotificationRun struct {
	ID             string          `json:"id"`
	Kind           RunKind         `json:"kind"`
	State          RunState        `json:"state"`
	EventID        string          `json:"event_id"`
	EventSnapshot  EventSnapshot   `json:"event_snapshot"`
	Payload        json.RawMessage `json:"payload"`
	ScheduledFor   *time.Time      `json:"scheduled_for,omitempty"`
	AvailableAt    time.Time       `json:"available_at"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	AttemptCount   int             `json:"attempt_count"`
	MaxAttempts    int             `json:"max_attempts"`
	LastError      *string         `json:"last_error,omitempty"`
	SentCount      int             `json:"sent_count"`
	FailedCount    int             `json:"failed_count"`
	DedupeKey      *string         `json:"dedupe_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// DecodePayload decodes the stored payload into the kind-specific variant.
func (r *NotificationRun) DecodePayload() (RunPayload, error) {
	if r == nil {
		return nil, errors.New("run is nil")
	}
	return DecodePayload(r.Kind, r.Payload)
}

// CreateRunRequest describes a run to persist in the pending state.
type CreateRunRequest struct {
	Kind          RunKind
	EventSnapshot EventSnapshot
	Payload       RunPayload
	DedupeKey     string
	MaxAttempts   int
	AvailableAt   *time.Time
}

// Validate validates the CreateRunRequest fields.
func (r *CreateRunRequest) Validate() error {
	if r == nil {
		return errors.New("create run request is required")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid run kind: %s", r.Kind)
	}
	if r.Payload == nil {
		return errors.New("payload is required")
	}
	if r.Payload.Kind() != r.Kind {
		return fmt.Errorf("payload kind %s does not match run kind %s", r.Payload.Kind(), r.Kind)
	}
	if strings.TrimSpace(r.EventSnapshot.ID) == "" {
		return errors.New("event id is required")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	return nil
}

// FinishRequest records the terminal outcome of a run.
type FinishRequest struct {
	ID     string
	From   RunState
	To     RunState
	Sent   int
	Failed int
}

// RunListOptions filters run listings.
type RunListOptions struct {
	EventID *string
	Kind    *RunKind
	State   *RunState
	Limit   int
	Offset  int
}

// RunStats counts runs per state.
type RunStats struct {
	Pending         int64 `json:"pending"`
	Waiting         int64 `json:"waiting"`
	Resolving       int64 `json:"resolving"`
	Sending         int64 `json:"sending"`
	Completed       int64 `json:"completed"`
	SkippedDisabled int64 `json:"skipped_disabled"`
	SkippedEmpty    int64 `json:"skipped_empty"`
	Failed          int64 `json:"failed"`
}
