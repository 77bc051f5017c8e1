package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service",
			input:    "http",
			expected: map[ServiceMode]bool{ServiceModeHTTP: true},
		},
		{
			name:  "all services with spaces",
			input: " http , notification-runner , reaper , trigger-consumer ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:               true,
				ServiceModeNotificationRunner: true,
				ServiceModeReaper:             true,
				ServiceModeTriggerConsumer:    true,
			},
		},
		{
			name:  "duplicates collapse",
			input: "reaper,reaper,http",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeReaper: true,
			},
		},
		{name: "empty string", input: "", expectError: true},
		{name: "only separators", input: " , , ", expectError: true},
		{name: "unknown service", input: "http,scheduler", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(result) != len(tt.expected) {
				t.Fatalf("expected %d services, got %d", len(tt.expected), len(result))
			}
			for service := range tt.expected {
				if !result[service] {
					t.Errorf("expected service %s to be enabled", service)
				}
			}
		})
	}
}

func TestAppConfig_IsServiceEnabled(t *testing.T) {
	cfg := AppConfig{Services: "http,notification-runner"}
	if !cfg.IsServiceEnabled(ServiceModeHTTP) || !cfg.IsServiceEnabled(ServiceModeNotificationRunner) {
		t.Fatal("expected http and notification-runner to be enabled")
	}
	if cfg.IsServiceEnabled(ServiceModeReaper) {
		t.Fatal("did not expect reaper to be enabled")
	}

	bad := AppConfig{Services: "nope"}
	if bad.IsServiceEnabled(ServiceModeHTTP) {
		t.Fatal("invalid configuration should enable nothing")
	}
}

func TestAppConfig_ParseDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Engine.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", cfg.Engine.BatchSize)
	}
	if cfg.Engine.BatchPause != time.Second {
		t.Errorf("BatchPause = %v, want 1s", cfg.Engine.BatchPause)
	}
	if cfg.Engine.Reminder24hPinRecipients {
		t.Error("24h reminders should re-resolve recipients by default")
	}
	if cfg.HTTP.Addr != ":3001" {
		t.Errorf("HTTP.Addr = %q, want :3001", cfg.HTTP.Addr)
	}
	if cfg.HTTP.FrontendURL != "http://localhost:5173" {
		t.Errorf("FrontendURL = %q", cfg.HTTP.FrontendURL)
	}
	if cfg.Mail.Provider != MailProviderLog {
		t.Errorf("Mail.Provider = %q, want log", cfg.Mail.Provider)
	}
	if cfg.Reaper.Schedule != "@every 5m" {
		t.Errorf("Reaper.Schedule = %q", cfg.Reaper.Schedule)
	}
	if cfg.Redis.SentMarkerTTL != 72*time.Hour {
		t.Errorf("SentMarkerTTL = %v", cfg.Redis.SentMarkerTTL)
	}
	if cfg.Kafka.Enabled() {
		t.Error("kafka should be disabled without brokers")
	}
}

func TestAppConfig_ParseEnv(t *testing.T) {
	t.Setenv("MAIL_PROVIDER", "SendGrid")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("KAFKA_OUTCOME_TOPIC", "run-outcomes")
	t.Setenv("BATCH_SIZE", "0")
	t.Setenv("EVENT_TIMEZONE", "Africa/Lagos")
	t.Setenv("DB_HOST", "pg.internal")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Mail.Provider != MailProviderSendGrid {
		t.Errorf("Mail.Provider = %q, want sendgrid", cfg.Mail.Provider)
	}
	if len(cfg.Kafka.Brokers) != 2 || !cfg.Kafka.PublishOutcomes() {
		t.Errorf("Kafka = %+v", cfg.Kafka)
	}
	if cfg.Engine.BatchSize != 50 {
		t.Errorf("BatchSize should fall back to 50, got %d", cfg.Engine.BatchSize)
	}
	if cfg.Postgres.Host != "pg.internal" {
		t.Errorf("Postgres.Host = %q", cfg.Postgres.Host)
	}
	loc, err := cfg.Engine.Location()
	if err != nil || loc.String() != "Africa/Lagos" {
		t.Errorf("Location() = %v, %v", loc, err)
	}
}

func TestAppConfig_ParseRejectsUnknownProvider(t *testing.T) {
	t.Setenv("MAIL_PROVIDER", "carrier-pigeon")
	var cfg AppConfig
	if err := env.Parse(&cfg); err == nil {
		t.Fatal("expected parse error for unknown mail provider")
	}
}

func TestEngineConfig_LocationFallback(t *testing.T) {
	cfg := EngineConfig{EventTimezone: "Mars/Olympus"}
	loc, err := cfg.Location()
	if err == nil {
		t.Fatal("expected error for unknown zone")
	}
	if loc != time.UTC {
		t.Fatalf("expected UTC fallback, got %v", loc)
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: " "}
	cfg.Sanitize()
	if cfg.Enabled {
		t.Fatal("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{Enabled: true, StatsdAddress: " statsd:1234 "}
	cfg.Sanitize()
	if !cfg.IsEnabled() || cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected trimmed enabled config, got %+v", cfg)
	}
}

func TestObservabilityTracingConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityTracingConfig{Enabled: true, Endpoint: "  ", SampleRatio: 3}
	cfg.Sanitize()
	if cfg.Enabled {
		t.Fatal("tracing without an endpoint should be disabled")
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("SampleRatio = %v, want 1", cfg.SampleRatio)
	}
	if cfg.ServiceName != "notifier" {
		t.Fatalf("ServiceName = %q", cfg.ServiceName)
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled:    true,
		RetryLimit: -1,
		Slack:      SlackNotificationConfig{Enabled: true, WebhookURL: " "},
		PagerDuty:  PagerDutyNotificationConfig{Enabled: true, RoutingKey: " "},
	}
	cfg.Sanitize()

	if cfg.Timeout <= 0 {
		t.Fatalf("expected timeout default, got %v", cfg.Timeout)
	}
	if cfg.RetryLimit != 0 {
		t.Fatalf("expected retry limit clamp, got %d", cfg.RetryLimit)
	}
	if cfg.Slack.Enabled || cfg.PagerDuty.Enabled {
		t.Fatal("sinks without credentials should be disabled")
	}
	if cfg.PagerDuty.Source != "notifier" || cfg.PagerDuty.Component != "notifier" {
		t.Fatalf("unexpected pagerduty defaults: %+v", cfg.PagerDuty)
	}

	cfg = ObservabilityNotificationsConfig{
		Slack:     SlackNotificationConfig{Enabled: true, WebhookURL: "https://hooks.slack.com/services/test"},
		PagerDuty: PagerDutyNotificationConfig{Enabled: true, RoutingKey: "abc"},
	}
	cfg.Sanitize()
	if cfg.Slack.Enabled || cfg.PagerDuty.Enabled {
		t.Fatal("top-level disable should disable child sinks")
	}
}

func TestDBConfigDSN(t *testing.T) {
	cfg := DBConfig{Host: "db", Port: 5432, User: "app", Password: "p@ss:word", Name: "notifier"}
	want := "postgres://app:p%40ss%3Aword@db:5432/notifier?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}

	cfg.SSLMode = "require"
	cfg.Host = "::1"
	want = "postgres://app:p%40ss%3Aword@[::1]:5432/notifier?sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}
}
