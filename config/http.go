package config

import (
	"strings"
	"time"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":3001"`

	// PublicBaseURL is this service's externally reachable URL. Attendance links in emails point
	// here when a trigger does not carry its own origin.
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:3001"`

	// FrontendURL receives the attendance confirmation redirect.
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`

	// MaxBodyBytes caps inbound request bodies.
	MaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576"`

	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT"  envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT"  envDefault:"120s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if strings.TrimSpace(h.Addr) == "" {
		h.Addr = ":3001"
	}
	h.PublicBaseURL = strings.TrimRight(strings.TrimSpace(h.PublicBaseURL), "/")
	h.FrontendURL = strings.TrimRight(strings.TrimSpace(h.FrontendURL), "/")
	if h.FrontendURL == "" {
		h.FrontendURL = "http://localhost:5173"
	}
	if h.MaxBodyBytes <= 0 {
		h.MaxBodyBytes = 1 << 20
	}
	if h.ReadTimeout <= 0 {
		h.ReadTimeout = 30 * time.Second
	}
	if h.WriteTimeout <= 0 {
		h.WriteTimeout = 30 * time.Second
	}
	if h.IdleTimeout <= 0 {
		h.IdleTimeout = 120 * time.Second
	}
}
