// Package core declares the ports between the notification services and their stores and transports.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/appointflow/notifier/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Service implementations depend on these interfaces, not on concrete implementations.

// RunRepository is the durable run queue.
type RunRepository interface {
	// Create persists a pending run. When the dedupe key already exists the stored run is returned
	// with created=false.
	Create(ctx context.Context, req *model.CreateRunRequest) (run *model.NotificationRun, created bool, err error)
	GetByID(ctx context.Context, id string) (*model.NotificationRun, error)
	List(ctx context.Context, opts model.RunListOptions) ([]*model.NotificationRun, error)
	Stats(ctx context.Context) (*model.RunStats, error)

	ReserveNext(ctx context.Context, lease time.Duration) (*model.NotificationRun, error)
	WaitForNotification(ctx context.Context) error
	NextAvailableAt(ctx context.Context) (*time.Time, error)
	Heartbeat(ctx context.Context, id string, lease time.Duration) (bool, error)

	// BeginWait moves a pending run to waiting and records its scheduled instant.
	BeginWait(ctx context.Context, req BeginWaitRequest) (bool, error)
	// Advance performs a guarded non-terminal transition.
	Advance(ctx context.Context, id string, from, to model.RunState) (bool, error)
	// Finish performs a guarded transition into a terminal state.
	Finish(ctx context.Context, req model.FinishRequest) (bool, error)
	// Fail records an infrastructure failure and reports the state the run ended up in.
	Fail(ctx context.Context, id, errMsg string) (model.RunState, error)
}

// BeginWaitRequest groups the pending -> waiting transition parameters.
type BeginWaitRequest struct {
	ID           string
	ScheduledFor time.Time
	// Release drops the caller's lease so the run sleeps without holding a worker.
	Release bool
}

// StepStore memoizes completed engine steps per run.
type StepStore interface {
	Get(ctx context.Context, runID, key string) (json.RawMessage, bool, error)
	// Save records a step result. The first write for a key wins and its stored value is returned.
	Save(ctx context.Context, runID, key string, result any) (json.RawMessage, error)
	List(ctx context.Context, runID string) ([]model.StepRecord, error)
}

// RegistrationStore reads the current registrants of an event.
type RegistrationStore interface {
	ListRegistered(ctx context.Context, eventID string) ([]model.Recipient, error)
}

// EventFlagReader reads the live notification switches of an event.
type EventFlagReader interface {
	GetEventFlags(ctx context.Context, eventID string) (model.EventFlags, error)
}

// Transport delivers one email and returns the provider message id.
type Transport interface {
	Send(ctx context.Context, email model.Email) (string, error)
}

// SentMarker records recipients that already received a run's message. A marker is written only
// after the transport accepted the message, so a crash between the two resends rather than drops.
type SentMarker interface {
	// Sent reports whether a delivery for key was recorded.
	Sent(ctx context.Context, key string) (bool, error)
	// MarkSent records a successful delivery.
	MarkSent(ctx context.Context, key string) error
}

// OutcomePublisher announces terminal runs to downstream consumers.
type OutcomePublisher interface {
	Publish(ctx context.Context, outcome model.RunOutcome) error
}

// StepReaper compacts old step memos and recovers abandoned leases.
type StepReaper interface {
	DeleteOldSteps(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	ReleaseStaleLeases(ctx context.Context, grace time.Duration, batchSize int) (int64, error)
}
