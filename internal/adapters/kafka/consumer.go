// Package kafka connects the notifier to Kafka: inbound triggers and outbound run outcomes.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/appointflow/notifier/config"
	"github.com/appointflow/notifier/internal/domain/model"
	apperrors "github.com/appointflow/notifier/internal/errors"
	"github.com/appointflow/notifier/internal/observability/metrics"
)

// IdempotencyHeader is read when the message body carries no idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// TriggerAcceptor persists the runs implied by a trigger.
type TriggerAcceptor interface {
	Accept(ctx context.Context, t model.Trigger) ([]*model.NotificationRun, error)
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerOptions configures a TriggerConsumer.
type ConsumerOptions struct {
	Reader   MessageReader   // Required
	Acceptor TriggerAcceptor // Required
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	// RetryDelay is the pause before redelivering a message that failed for infrastructure reasons.
	RetryDelay time.Duration
}

// TriggerConsumer reads trigger envelopes from a topic and hands them to the trigger service.
// Offsets are committed only after the runs are stored, so a crash redelivers the message and the
// offset-derived idempotency key turns the redelivery into a no-op.
type TriggerConsumer struct {
	reader     MessageReader
	acceptor   TriggerAcceptor
	logger     *slog.Logger
	metrics    *metrics.Recorder
	retryDelay time.Duration
}

// NewReader builds a consumer-group reader for cfg.TriggerTopic.
func NewReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.TriggerTopic,
		GroupID:  cfg.GroupID,
		MaxBytes: 10e6, // 10MB
	})
}

// NewTriggerConsumer constructs a TriggerConsumer.
func NewTriggerConsumer(opts ConsumerOptions) (*TriggerConsumer, error) {
	if opts.Reader == nil {
		return nil, errors.New("kafka reader is required")
	}
	if opts.Acceptor == nil {
		return nil, errors.New("trigger acceptor is required")
	}
	c := &TriggerConsumer{
		reader:     opts.Reader,
		acceptor:   opts.Acceptor,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		retryDelay: opts.RetryDelay,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "trigger_consumer")
	if c.retryDelay <= 0 {
		c.retryDelay = 5 * time.Second
	}
	return c, nil
}

// Run consumes until ctx is cancelled.
func (c *TriggerConsumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "starting trigger consumer")
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.WarnContext(ctx, "close kafka reader", "error", err)
		}
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		if err := c.handleWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// handleWithRetry retries infrastructure failures until they succeed or ctx ends. Invalid
// messages are logged and skipped.
func (c *TriggerConsumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	for {
		err := c.Handle(ctx, msg)
		if err == nil || apperrors.IsValidation(err) {
			return nil
		}
		c.logger.WarnContext(ctx, "trigger handling failed, retrying",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
			"retry_in", c.retryDelay, "error", err)

		timer := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Handle decodes and accepts one message.
func (c *TriggerConsumer) Handle(ctx context.Context, msg kafka.Message) error {
	t, err := DecodeTrigger(msg)
	if err != nil {
		c.metrics.KafkaMessage(msg.Topic, "consume", metrics.ResultError)
		c.logger.WarnContext(ctx, "dropping invalid trigger message",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return err
	}

	runs, err := c.acceptor.Accept(ctx, t)
	if err != nil {
		c.metrics.KafkaMessage(msg.Topic, "consume", metrics.ResultError)
		if apperrors.IsValidation(err) {
			c.logger.WarnContext(ctx, "dropping invalid trigger",
				"trigger", t.Name, "offset", msg.Offset, "error", err)
		}
		return err
	}
	c.metrics.KafkaMessage(msg.Topic, "consume", metrics.ResultSuccess)
	c.logger.DebugContext(ctx, "trigger consumed", "trigger", t.Name, "runs", len(runs), "offset", msg.Offset)
	return nil
}

// DecodeTrigger parses a message body into a Trigger. The idempotency key falls back to the
// Idempotency-Key header and then to the message's topic, partition, and offset.
func DecodeTrigger(msg kafka.Message) (model.Trigger, error) {
	var t model.Trigger
	if err := json.Unmarshal(msg.Value, &t); err != nil {
		return t, apperrors.Validationf("decode trigger message: %v", err)
	}
	if strings.TrimSpace(t.IdempotencyKey) == "" {
		for _, h := range msg.Headers {
			if strings.EqualFold(h.Key, IdempotencyHeader) && len(h.Value) > 0 {
				t.IdempotencyKey = string(h.Value)
				break
			}
		}
	}
	if strings.TrimSpace(t.IdempotencyKey) == "" {
		t.IdempotencyKey = fmt.Sprintf("kafka:%s:%d:%d", msg.Topic, msg.Partition, msg.Offset)
	}
	return t, nil
}
