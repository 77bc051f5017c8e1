package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the trigger and inspection HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeNotificationRunner runs the workers that execute notification runs.
	ServiceModeNotificationRunner ServiceMode = "notification-runner"
	// ServiceModeReaper runs scheduled cleanup of old step records and stale leases.
	ServiceModeReaper ServiceMode = "reaper"
	// ServiceModeTriggerConsumer consumes triggers from Kafka.
	ServiceModeTriggerConsumer ServiceMode = "trigger-consumer"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeNotificationRunner,
		ServiceModeReaper,
		ServiceModeTriggerConsumer,
	}
}

// ParseServices parses a comma-delimited list of service names.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)
	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		mode := ServiceMode(name)
		switch mode {
		case ServiceModeHTTP, ServiceModeNotificationRunner, ServiceModeReaper, ServiceModeTriggerConsumer:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, notification-runner, reaper, trigger-consumer)",
				name,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}
	return services, nil
}

// ReaperConfig contains reaper service configuration.
type ReaperConfig struct {
	// Schedule is a cron spec (robfig/cron syntax, descriptors allowed).
	Schedule string `env:"REAPER_SCHEDULE" envDefault:"@every 5m"`

	// StepMaxAge is how long step memos of terminal runs are retained.
	StepMaxAge time.Duration `env:"REAPER_STEP_MAX_AGE" envDefault:"720h"`

	// StaleLeaseGrace is added to an expired lease before the reaper releases it.
	StaleLeaseGrace time.Duration `env:"REAPER_STALE_LEASE_GRACE" envDefault:"1m"`

	// BatchSize is the maximum number of rows touched per statement.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if strings.TrimSpace(r.Schedule) == "" {
		r.Schedule = "@every 5m"
	}
	if r.StepMaxAge < time.Hour {
		r.StepMaxAge = time.Hour
	}
	if r.StaleLeaseGrace < 0 {
		r.StaleLeaseGrace = 0
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
