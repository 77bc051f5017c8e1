package config

import "strings"

// KafkaConfig controls the trigger consumer and the run outcome publisher.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// TriggerTopic is consumed by the trigger-consumer service mode.
	TriggerTopic string `env:"KAFKA_TRIGGER_TOPIC" envDefault:"notification-triggers"`
	GroupID      string `env:"KAFKA_GROUP_ID"      envDefault:"notifier"`

	// OutcomeTopic receives one message per terminal run; empty disables publishing.
	OutcomeTopic string `env:"KAFKA_OUTCOME_TOPIC"`
}

// Sanitize trims broker addresses and drops empties.
func (k *KafkaConfig) Sanitize() {
	brokers := k.Brokers[:0]
	for _, b := range k.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	k.Brokers = brokers
	k.TriggerTopic = strings.TrimSpace(k.TriggerTopic)
	k.OutcomeTopic = strings.TrimSpace(k.OutcomeTopic)
}

// Enabled reports whether any broker is configured.
func (k *KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// PublishOutcomes reports whether run outcomes should be written to Kafka.
func (k *KafkaConfig) PublishOutcomes() bool { return k.Enabled() && k.OutcomeTopic != "" }
