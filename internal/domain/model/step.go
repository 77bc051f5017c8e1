package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Step keys memoized per run.
const (
	StepComputeSendTime = "compute-send-time"
	StepCheckGating     = "check-gating"
	StepFetchRecipients = "fetch-recipients"
	batchStepPrefix     = "send-batch-"
)

// BatchStepKey returns the memo key for the batch at index.
func BatchStepKey(index int) string {
	return fmt.Sprintf("%s%d", batchStepPrefix, index)
}

// StepRecord is one completed, memoized step.
type StepRecord struct {
	RunID       string          `json:"run_id"`
	Key         string          `json:"step_key"`
	Result      json.RawMessage `json:"result"`
	CompletedAt time.Time       `json:"completed_at"`
}

// SendTimeResult is the memoized output of compute-send-time.
type SendTimeResult struct {
	FireAt time.Time `json:"fire_at"`
	Reason string    `json:"reason"`
}

// GatingResult is the memoized output of check-gating.
type GatingResult struct {
	Enabled bool   `json:"enabled"`
	Source  string `json:"source"`
}

// RecipientsResult is the memoized output of fetch-recipients.
type RecipientsResult struct {
	Recipients []Recipient `json:"recipients"`
	Source     string      `json:"source"`
}
