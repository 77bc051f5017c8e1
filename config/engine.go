package config

import (
	"time"
)

// EngineConfig controls the scheduling and dispatch engine.
type EngineConfig struct {
	// EventTimezone is the IANA zone event dates and times are written in.
	EventTimezone string `env:"EVENT_TIMEZONE" envDefault:"UTC"`

	// BatchSize is the number of recipients dispatched concurrently per batch.
	BatchSize int `env:"BATCH_SIZE" envDefault:"50"`

	// BatchPause is slept between consecutive batches.
	BatchPause time.Duration `env:"BATCH_PAUSE" envDefault:"1s"`

	// Reminder24hPinRecipients sends the 24h reminder to the registrants captured at trigger time
	// instead of re-reading the registration store when it fires.
	Reminder24hPinRecipients bool `env:"REMINDER_24H_PIN_RECIPIENTS" envDefault:"false"`

	// RecipientFetchAttempts bounds retries of the registration store read.
	RecipientFetchAttempts int `env:"RECIPIENT_FETCH_ATTEMPTS" envDefault:"3"`

	// RecipientFetchBackoff is the base delay between recipient read attempts.
	RecipientFetchBackoff time.Duration `env:"RECIPIENT_FETCH_BACKOFF" envDefault:"200ms"`

	// MaxAttempts is how many infrastructure failures a run tolerates before it is marked failed.
	MaxAttempts int `env:"RUN_MAX_ATTEMPTS" envDefault:"10"`

	// RetryDelay is how long a run waits after an infrastructure failure.
	RetryDelay time.Duration `env:"RUN_RETRY_DELAY" envDefault:"30s"`
}

// Sanitize applies guardrails to engine configuration values.
func (e *EngineConfig) Sanitize() {
	if e.EventTimezone == "" {
		e.EventTimezone = "UTC"
	}
	if e.BatchSize < 1 {
		e.BatchSize = 50
	}
	if e.BatchPause < 0 {
		e.BatchPause = 0
	}
	if e.RecipientFetchAttempts < 1 {
		e.RecipientFetchAttempts = 1
	}
	if e.RecipientFetchBackoff < 0 {
		e.RecipientFetchBackoff = 0
	}
	if e.MaxAttempts < 1 {
		e.MaxAttempts = 1
	}
	if e.RetryDelay < time.Second {
		e.RetryDelay = time.Second
	}
}

// Location loads EventTimezone, falling back to UTC when the zone is unknown.
func (e *EngineConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(e.EventTimezone)
	if err != nil {
		return time.UTC, err
	}
	return loc, nil
}

// RunnerConfig controls the notification run workers.
type RunnerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"NOTIFICATION_RUNNER_CONCURRENCY" envDefault:"2"`

	// Lease is how long a worker holds a run before another worker may take it over.
	Lease time.Duration `env:"NOTIFICATION_RUNNER_LEASE" envDefault:"60s"`

	// PollInterval bounds how long an idle worker sleeps without a notification.
	PollInterval time.Duration `env:"NOTIFICATION_RUNNER_POLL_INTERVAL" envDefault:"15s"`
}

// Sanitize applies guardrails to runner configuration values.
func (r *RunnerConfig) Sanitize() {
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.Lease < 5*time.Second {
		r.Lease = 5 * time.Second
	}
	if r.PollInterval < time.Second {
		r.PollInterval = time.Second
	}
}
