package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/domain/model"
	"github.com/appointflow/notifier/internal/observability/metrics"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutcomePublisher writes one message per terminal run, keyed by event id so all outcomes of an
// event land on the same partition.
type OutcomePublisher struct {
	writer  MessageWriter
	topic   string
	metrics *metrics.Recorder
}

var _ core.OutcomePublisher = (*OutcomePublisher)(nil)

// NewWriter builds a writer for brokers.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
}

// NewOutcomePublisher constructs an OutcomePublisher for topic.
func NewOutcomePublisher(writer MessageWriter, topic string, m *metrics.Recorder) (*OutcomePublisher, error) {
	if writer == nil {
		return nil, errors.New("kafka writer is required")
	}
	if topic == "" {
		return nil, errors.New("outcome topic is required")
	}
	return &OutcomePublisher{writer: writer, topic: topic, metrics: m}, nil
}

// Publish implements core.OutcomePublisher.
func (p *OutcomePublisher) Publish(ctx context.Context, outcome model.RunOutcome) error {
	value, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(outcome.EventID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(outcome.RunID)},
			{Key: "state", Value: []byte(outcome.State)},
		},
	})
	if err != nil {
		p.metrics.KafkaMessage(p.topic, "publish", metrics.ResultError)
		return fmt.Errorf("write outcome: %w", err)
	}
	p.metrics.KafkaMessage(p.topic, "publish", metrics.ResultSuccess)
	return nil
}

// Close flushes and closes the writer.
func (p *OutcomePublisher) Close() error {
	return p.writer.Close()
}
