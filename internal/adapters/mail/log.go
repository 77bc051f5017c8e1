package mail

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/appointflow/notifier/internal/domain/model"
)

// Log writes messages to the logger instead of delivering them. It is the default for local runs.
type Log struct {
	logger *slog.Logger
}

// NewLog constructs a Log transport.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "mail_log")}
}

// Send implements core.Transport.
func (l *Log) Send(ctx context.Context, email model.Email) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	l.logger.InfoContext(ctx, "email",
		"message_id", id,
		"to", email.To.Email,
		"subject", email.Subject,
		"idempotency_key", email.IdempotencyKey,
		"html_bytes", len(email.HTML),
	)
	return id, nil
}
