package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidEventTime is reported when an event's date and time cannot be parsed.
	ErrInvalidEventTime = errors.New("invalid event time")
	// ErrTemplateRender is reported when a message template fails and default content is used.
	ErrTemplateRender = errors.New("template render failed")
	// ErrDispatchFailed is reported when a transport rejects a message.
	ErrDispatchFailed = errors.New("dispatch failed")
)

// DispatchStatus is the per-recipient send outcome.
type DispatchStatus string

const (
	// DispatchSent means the transport accepted the message.
	DispatchSent DispatchStatus = "sent"
	// DispatchFailed means the transport rejected the message or was unreachable.
	DispatchFailed DispatchStatus = "failed"
	// DispatchDuplicate means an earlier attempt already delivered to this recipient.
	DispatchDuplicate DispatchStatus = "duplicate"
)

// DispatchResult records what happened to one recipient.
type DispatchResult struct {
	RecipientID string         `json:"recipient_id"`
	Status      DispatchStatus `json:"status"`
	MessageID   string         `json:"message_id,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// Sent builds a successful result.
func Sent(recipientID, messageID string) DispatchResult {
	return DispatchResult{RecipientID: recipientID, Status: DispatchSent, MessageID: messageID}
}

// Failed builds a failed result.
func Failed(recipientID string, reason error) DispatchResult {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	return DispatchResult{RecipientID: recipientID, Status: DispatchFailed, Reason: msg}
}

// Delivered reports whether the recipient has the message.
func (d DispatchResult) Delivered() bool {
	return d.Status == DispatchSent || d.Status == DispatchDuplicate
}

// BatchResult is the memoized outcome of one batch.
type BatchResult struct {
	Index   int              `json:"index"`
	Sent    int              `json:"sent"`
	Failed  int              `json:"failed"`
	Results []DispatchResult `json:"results"`
}

// Tally aggregates per-recipient results into counts.
func (b *BatchResult) Tally() {
	b.Sent, b.Failed = 0, 0
	for _, r := range b.Results {
		if r.Delivered() {
			b.Sent++
		} else {
			b.Failed++
		}
	}
}

// Sender is the from-address used for outbound mail.
type Sender struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RenderedMessage is the output of template rendering.
type RenderedMessage struct {
	Subject string
	HTML    string
}

// Email is one message handed to a transport.
type Email struct {
	From    Sender
	To      Recipient
	Subject string
	HTML    string
	// IdempotencyKey lets transports that support it deduplicate retries.
	IdempotencyKey string
}

// SentMarkerKey is the idempotency key for a recipient within a run.
func SentMarkerKey(runID, recipientID string) string {
	return fmt.Sprintf("sent:%s:%s", runID, recipientID)
}

// RunOutcome summarizes a terminal run for publishing.
type RunOutcome struct {
	RunID       string    `json:"run_id"`
	Kind        RunKind   `json:"kind"`
	EventID     string    `json:"event_id"`
	State       RunState  `json:"state"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	CompletedAt time.Time `json:"completed_at"`
}
