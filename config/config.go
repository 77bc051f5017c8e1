// Package config defines the environment-driven configuration for the notifier service.
package config

import (
	"os"
	"strings"
)

// AppConfig composes the per-domain configuration structs.
//
// Values are loaded from environment variables with github.com/caarlos0/env; see the individual
// files for the variables each concern reads:
//   - database.go: Postgres and Redis
//   - http.go: HTTP server and public URLs
//   - engine.go: scheduling engine, batching, and run workers
//   - mail.go: outbound email transport
//   - kafka.go: trigger consumer and outcome publisher
//   - services.go: service modes and the reaper
//   - observability.go: metrics, tracing, and failure notifications
type AppConfig struct {
	// IsDev relaxes a few production guardrails. Set DEV=true or NODE_ENV=development.
	IsDev bool `env:"DEV" envDefault:"false"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	HTTP HTTPConfig

	// Services is a comma-delimited list of service modes to run in this process.
	Services string `env:"SERVICES" envDefault:"http,notification-runner"`

	Engine EngineConfig
	Runner RunnerConfig
	Mail   MailConfig
	Kafka  KafkaConfig
	Reaper ReaperConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Engine.Sanitize()
	c.Runner.Sanitize()
	c.Mail.Sanitize()
	c.Kafka.Sanitize()
	c.Reaper.Sanitize()
	c.Observability.Sanitize()
	c.detectDevMode()
}

// detectDevMode falls back to NODE_ENV, which frontend tooling commonly sets.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsServiceEnabled reports whether mode is listed in SERVICES.
func (c *AppConfig) IsServiceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}
