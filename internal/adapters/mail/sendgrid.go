package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/appointflow/notifier/internal/domain/model"
)

const sendGridSendPath = "/v3/mail/send"

// SendGridOptions configures the SendGrid transport.
type SendGridOptions struct {
	APIKey string
	// Host overrides the API host, e.g. for tests. Empty means api.sendgrid.com.
	Host string
}

// SendGrid sends through the SendGrid v3 mail API.
type SendGrid struct {
	apiKey string
	host   string
}

// NewSendGrid constructs a SendGrid transport.
func NewSendGrid(opts SendGridOptions) (*SendGrid, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	return &SendGrid{apiKey: opts.APIKey, host: strings.TrimRight(opts.Host, "/")}, nil
}

// Send implements core.Transport. sendgrid.Client stores the request body on itself, so each
// call builds its own client.
func (s *SendGrid) Send(ctx context.Context, email model.Email) (string, error) {
	msg := sgmail.NewV3Mail()
	msg.SetFrom(sgmail.NewEmail(email.From.Name, email.From.Email))
	msg.Subject = email.Subject

	p := sgmail.NewPersonalization()
	p.AddTos(sgmail.NewEmail(email.To.FullName, email.To.Email))
	msg.AddPersonalizations(p)
	msg.AddContent(sgmail.NewContent("text/html", email.HTML))
	if email.IdempotencyKey != "" {
		msg.SetHeader(IdempotencyHeader, email.IdempotencyKey)
		msg.SetCustomArg("idempotency_key", email.IdempotencyKey)
	}

	client := &sendgrid.Client{Request: sendgrid.GetRequest(s.apiKey, sendGridSendPath, s.host)}
	client.Method = rest.Post

	resp, err := client.SendWithContext(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("sendgrid request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: sendgrid status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	return headerValue(resp.Headers, "X-Message-Id"), nil
}

func headerValue(headers map[string][]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
