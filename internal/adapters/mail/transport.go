// Package mail provides the outbound email transports.
package mail

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/appointflow/notifier/config"
	"github.com/appointflow/notifier/internal/core"
)

// ErrRejected wraps provider responses outside the 2xx range.
var ErrRejected = errors.New("mail provider rejected message")

// New returns the transport selected by cfg.Provider.
func New(cfg config.MailConfig, logger *slog.Logger) (core.Transport, error) {
	switch cfg.Provider {
	case config.MailProviderBrevo:
		b, err := NewBrevo(BrevoOptions{
			APIKey:        cfg.BrevoAPIKey,
			BaseURL:       cfg.BrevoBaseURL,
			MessageIDPath: cfg.MessageIDPath,
			Client:        &http.Client{Timeout: cfg.Timeout},
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.MailProviderSendGrid:
		s, err := NewSendGrid(SendGridOptions{APIKey: cfg.SendGridAPIKey})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.MailProviderLog, "":
		return NewLog(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// messageIDExtractor pulls the provider message id out of a decoded JSON response.
type messageIDExtractor struct {
	path string
}

func newMessageIDExtractor(path string) (messageIDExtractor, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "messageId"
	}
	if _, err := jmespath.Compile(path); err != nil {
		return messageIDExtractor{}, fmt.Errorf("compile message id path %q: %w", path, err)
	}
	return messageIDExtractor{path: path}, nil
}

func (m messageIDExtractor) extract(data any) string {
	if data == nil {
		return ""
	}
	v, err := jmespath.Search(m.path, data)
	if err != nil || v == nil {
		return ""
	}
	switch id := v.(type) {
	case string:
		return id
	case []any:
		if len(id) > 0 {
			if s, ok := id[0].(string); ok {
				return s
			}
		}
		return ""
	default:
		return fmt.Sprint(id)
	}
}
