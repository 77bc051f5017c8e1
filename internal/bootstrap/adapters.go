package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/appointflow/notifier/config"
	kafkaadapter "github.com/appointflow/notifier/internal/adapters/kafka"
	"github.com/appointflow/notifier/internal/adapters/reaper"
	redisadapter "github.com/appointflow/notifier/internal/adapters/redis"
	"github.com/appointflow/notifier/internal/adapters/runrunner"
	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/observability/metrics"
	"github.com/appointflow/notifier/internal/service"
	"github.com/redis/go-redis/v9"
)

// NotificationRunnerConfig contains configuration for the run workers.
type NotificationRunnerConfig struct {
	Runs         *service.RunService
	Engine       *service.Engine
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	Lease        time.Duration
	Concurrency  int
	PollInterval time.Duration
}

// RunNotificationRunner reserves due runs and executes them until ctx is cancelled.
func RunNotificationRunner(ctx context.Context, cfg NotificationRunnerConfig) error {
	if cfg.Runs == nil || cfg.Engine == nil {
		return errors.New("run service and engine are required")
	}
	runner, err := runrunner.NewRunner(runrunner.RunnerOptions{
		Queue:        cfg.Runs,
		Executor:     cfg.Engine,
		Logger:       cfg.Logger,
		Metrics:      cfg.Metrics,
		Lease:        cfg.Lease,
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		return fmt.Errorf("create notification runner: %w", err)
	}

	return runner.Run(ctx)
}

// ReaperConfig contains configuration for the reaper service.
type ReaperConfig struct {
	DB          *sql.DB
	Repo        core.StepReaper
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	Config      config.ReaperConfig
	Metrics     *metrics.Recorder
}

// RunReaper starts the reaper. With Redis available, replicas share a lock so one pass runs per tick.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	opts := reaper.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	}
	if cfg.Repo != nil {
		opts.Repo = cfg.Repo
	}
	if cfg.RedisClient != nil {
		opts.Locker = redisadapter.NewLocker(cfg.RedisClient)
	}

	runner, err := reaper.NewRunner(opts)
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}

// TriggerConsumerConfig contains configuration for the Kafka trigger consumer.
type TriggerConsumerConfig struct {
	Kafka      config.KafkaConfig
	Triggers   *service.TriggerService
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
	RetryDelay time.Duration
}

// RunTriggerConsumer consumes trigger envelopes until ctx is cancelled.
func RunTriggerConsumer(ctx context.Context, cfg TriggerConsumerConfig) error {
	if !cfg.Kafka.Enabled() {
		return errors.New("kafka brokers are not configured")
	}
	if cfg.Triggers == nil {
		return errors.New("trigger service is required")
	}
	consumer, err := kafkaadapter.NewTriggerConsumer(kafkaadapter.ConsumerOptions{
		Reader:     kafkaadapter.NewReader(cfg.Kafka),
		Acceptor:   cfg.Triggers,
		Logger:     cfg.Logger,
		Metrics:    cfg.Metrics,
		RetryDelay: cfg.RetryDelay,
	})
	if err != nil {
		return fmt.Errorf("create trigger consumer: %w", err)
	}

	return consumer.Run(ctx)
}
