package config

import (
	"fmt"
	"strings"
	"time"
)

// MailProvider selects the outbound email transport.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type MailProvider string

const (
	// MailProviderBrevo sends through the Brevo transactional email API.
	MailProviderBrevo MailProvider = "brevo"
	// MailProviderSendGrid sends through the SendGrid v3 mail API.
	MailProviderSendGrid MailProvider = "sendgrid"
	// MailProviderLog writes messages to the log instead of sending them.
	MailProviderLog MailProvider = "log"
)

// Valid returns true if the provider is known.
func (p MailProvider) Valid() bool {
	return p == MailProviderBrevo || p == MailProviderSendGrid || p == MailProviderLog
}

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (p *MailProvider) UnmarshalText(text []byte) error {
	v := MailProvider(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid MailProvider: %q (valid options: brevo, sendgrid, log)", v)
	}
	*p = v
	return nil
}

// MailConfig controls the outbound email transport.
type MailConfig struct {
	Provider  MailProvider `env:"MAIL_PROVIDER"   envDefault:"log"`
	FromEmail string       `env:"MAIL_FROM_EMAIL" envDefault:"no-reply@example.com"`
	FromName  string       `env:"MAIL_FROM_NAME"  envDefault:"Events"`

	BrevoAPIKey  string `env:"BREVO_API_KEY"`
	BrevoBaseURL string `env:"BREVO_BASE_URL" envDefault:"https://api.brevo.com"`

	SendGridAPIKey string `env:"SENDGRID_API_KEY"`

	// MessageIDPath is a JMESPath expression locating the message id in the provider response.
	MessageIDPath string `env:"MAIL_MESSAGE_ID_PATH" envDefault:"messageId"`

	// Timeout bounds each provider request.
	Timeout time.Duration `env:"MAIL_TIMEOUT" envDefault:"15s"`

	// RateLimitRPS caps provider calls per second across all batches; 0 disables limiting.
	RateLimitRPS float64 `env:"MAIL_RATE_LIMIT_RPS" envDefault:"20"`
	// RateLimitBurst is the limiter's bucket size.
	RateLimitBurst int `env:"MAIL_RATE_LIMIT_BURST" envDefault:"50"`
}

// Sanitize applies guardrails to mail configuration values.
func (m *MailConfig) Sanitize() {
	m.FromEmail = strings.TrimSpace(m.FromEmail)
	m.BrevoAPIKey = strings.TrimSpace(m.BrevoAPIKey)
	m.SendGridAPIKey = strings.TrimSpace(m.SendGridAPIKey)
	m.BrevoBaseURL = strings.TrimRight(strings.TrimSpace(m.BrevoBaseURL), "/")
	if m.BrevoBaseURL == "" {
		m.BrevoBaseURL = "https://api.brevo.com"
	}
	if strings.TrimSpace(m.MessageIDPath) == "" {
		m.MessageIDPath = "messageId"
	}
	if !m.Provider.Valid() {
		m.Provider = MailProviderLog
	}
	if m.Timeout <= 0 {
		m.Timeout = 15 * time.Second
	}
	if m.RateLimitRPS < 0 {
		m.RateLimitRPS = 0
	}
	if m.RateLimitBurst < 1 {
		m.RateLimitBurst = 1
	}
}

// Sender returns the from-address pair.
func (m *MailConfig) Sender() (name, email string) {
	return m.FromName, m.FromEmail
}
