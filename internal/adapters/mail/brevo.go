package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/appointflow/notifier/internal/domain/model"
)

const brevoSendPath = "/v3/smtp/email"

// IdempotencyHeader is attached to outbound messages so provider-side retries can be correlated.
const IdempotencyHeader = "X-Idempotency-Key"

// BrevoOptions configures the Brevo transport.
type BrevoOptions struct {
	APIKey  string
	BaseURL string
	// MessageIDPath is a JMESPath expression applied to the response body.
	MessageIDPath string
	Client        *http.Client
}

// Brevo sends through the Brevo transactional email API.
type Brevo struct {
	apiKey    string
	endpoint  string
	client    *http.Client
	messageID messageIDExtractor
}

type brevoAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoRequest struct {
	Sender      brevoAddress      `json:"sender"`
	To          []brevoAddress    `json:"to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// NewBrevo constructs a Brevo transport.
func NewBrevo(opts BrevoOptions) (*Brevo, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("brevo api key is required")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = "https://api.brevo.com"
	}
	extractor, err := newMessageIDExtractor(opts.MessageIDPath)
	if err != nil {
		return nil, err
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Brevo{
		apiKey:    opts.APIKey,
		endpoint:  base + brevoSendPath,
		client:    client,
		messageID: extractor,
	}, nil
}

// Send implements core.Transport.
func (b *Brevo) Send(ctx context.Context, email model.Email) (string, error) {
	payload := brevoRequest{
		Sender:      brevoAddress{Name: email.From.Name, Email: email.From.Email},
		To:          []brevoAddress{{Name: email.To.FullName, Email: email.To.Email}},
		Subject:     email.Subject,
		HTMLContent: email.HTML,
	}
	if email.IdempotencyKey != "" {
		payload.Headers = map[string]string{IdempotencyHeader: email.IdempotencyKey}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode brevo payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build brevo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("brevo request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read brevo response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: brevo status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return "", nil
		}
	}
	return b.messageID.extract(decoded), nil
}
