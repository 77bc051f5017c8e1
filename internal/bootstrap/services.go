package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/appointflow/notifier/config"
	kafkaadapter "github.com/appointflow/notifier/internal/adapters/kafka"
	"github.com/appointflow/notifier/internal/adapters/mail"
	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/data"
	"github.com/appointflow/notifier/internal/domain/model"
	"github.com/appointflow/notifier/internal/domain/schedule"
	"github.com/appointflow/notifier/internal/observability/metrics"
	"github.com/appointflow/notifier/internal/observability/notify/pagerduty"
	"github.com/appointflow/notifier/internal/observability/notify/slack"
	"github.com/appointflow/notifier/internal/observability/statsd"
	"github.com/appointflow/notifier/internal/observability/tracing"
	"github.com/appointflow/notifier/internal/service"
	"github.com/appointflow/notifier/internal/service/failurenotifier"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Triggers      *service.TriggerService
	Runs          *service.RunService
	Engine        *service.Engine
	RunRepo       *data.RunRepo
	Outcomes      *kafkaadapter.OutcomePublisher
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	Registry        *prometheus.Registry
	Metrics         *metrics.Recorder
	Tracer          trace.Tracer
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig

	shutdownTracing func(context.Context) error
}

// Close flushes tracing and releases the outcome writer and StatsD socket.
func (c ServiceContainer) Close(ctx context.Context) error {
	var errs []error
	if c.Outcomes != nil {
		if err := c.Outcomes.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close outcome publisher: %w", err))
		}
	}
	if c.Observability.shutdownTracing != nil {
		if err := c.Observability.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	if c.Observability.MetricsSink != nil {
		if err := c.Observability.MetricsSink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close statsd client: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	Runs          *data.RunRepo
	Steps         *data.StepRepo
	Registrations *data.RegistrationStore
	SentMarker    core.SentMarker
}

// buildObservability configures metrics, tracing, and notification adapters.
func buildObservability(ctx context.Context, logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var (
		metricsSink *statsd.Client
		sink        statsd.Sink
	)
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
			sink = client
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(metrics.NewCollectors(registry), sink)

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		obsLogger.Error("failed to initialise tracing", "error", err)
		shutdownTracing = nil
	}

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		Registry:        registry,
		Metrics:         recorder,
		Tracer:          tracing.Tracer(),
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
		shutdownTracing: shutdownTracing,
	}
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, client redis.UniversalClient, cfg *config.AppConfig, logger *slog.Logger) *serviceRepositories {
	repos := &serviceRepositories{
		Runs: data.NewRunRepo(db, data.RepoConfig{
			RetryDelay:  cfg.Engine.RetryDelay,
			MaxAttempts: cfg.Engine.MaxAttempts,
			Logger:      logger,
		}),
		Steps:         data.NewStepRepo(db, &data.RealTimeProvider{}),
		Registrations: data.NewRegistrationStore(db),
	}
	if client != nil {
		repos.SentMarker = data.NewRedisSentMarker(data.RedisSentMarkerOptions{
			Client: client,
			TTL:    cfg.Redis.SentMarkerTTL,
		})
	} else {
		logger.Warn("redis unavailable; sends after a crash mid-batch will not be suppressed")
	}
	return repos
}

func newLimiter(cfg config.MailConfig) *rate.Limiter {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
}

func newOutcomePublisher(cfg config.KafkaConfig, m *metrics.Recorder) (*kafkaadapter.OutcomePublisher, error) {
	if !cfg.PublishOutcomes() {
		return nil, nil //nolint:nilnil // publishing outcomes is optional
	}
	return kafkaadapter.NewOutcomePublisher(kafkaadapter.NewWriter(cfg.Brokers), cfg.OutcomeTopic, m)
}

// EngineDeps groups dependencies for the scheduling engine.
type EngineDeps struct {
	Config        *config.AppConfig
	Repos         *serviceRepositories
	Observability ObservabilityContainer
	Outcomes      *kafkaadapter.OutcomePublisher
	Logger        *slog.Logger
}

// buildEngine assembles the dispatch pipeline and the engine that drives it.
func buildEngine(d EngineDeps) (*service.Engine, error) {
	cfg := d.Config
	obs := d.Observability

	transport, err := mail.New(cfg.Mail, d.Logger)
	if err != nil {
		return nil, fmt.Errorf("create mail transport: %w", err)
	}

	senderName, senderEmail := cfg.Mail.Sender()
	dispatcher, err := service.NewDispatcher(service.DispatcherOptions{
		Transport: transport,
		Provider:  string(cfg.Mail.Provider),
		Sender:    model.Sender{Name: senderName, Email: senderEmail},
		Marker:    d.Repos.SentMarker,
		Limiter:   newLimiter(cfg.Mail),
		Metrics:   obs.Metrics,
		Tracer:    obs.Tracer,
		Logger:    d.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	audience, err := service.NewRecipientResolver(service.RecipientResolverOptions{
		Store:    d.Repos.Registrations,
		Attempts: cfg.Engine.RecipientFetchAttempts,
		Backoff:  cfg.Engine.RecipientFetchBackoff,
		Logger:   d.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create recipient resolver: %w", err)
	}

	templates, err := service.NewTemplateRenderer()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	loc, err := cfg.Engine.Location()
	if err != nil {
		return nil, fmt.Errorf("load event timezone: %w", err)
	}

	opts := service.EngineOptions{
		Runs:       d.Repos.Runs,
		Steps:      d.Repos.Steps,
		Flags:      d.Repos.Registrations,
		Audience:   audience,
		Dispatcher: dispatcher,
		Times:      schedule.NewResolver(loc),
		Renderer:   service.NewSafeRenderer(templates, d.Logger),
		Batcher: service.NewBatcher(service.BatcherOptions{
			Size:    cfg.Engine.BatchSize,
			Pause:   cfg.Engine.BatchPause,
			Metrics: obs.Metrics,
			Logger:  d.Logger,
		}),
		Lease:          cfg.Runner.Lease,
		PinReminder24h: cfg.Engine.Reminder24hPinRecipients,
		PublicBaseURL:  cfg.HTTP.PublicBaseURL,
		Metrics:        obs.Metrics,
		Tracer:         obs.Tracer,
		Logger:         d.Logger,
	}
	if d.Outcomes != nil {
		opts.Publisher = d.Outcomes
	}
	return service.NewEngine(opts)
}

// NewServices wires repositories, observability, and domain services.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	observability := buildObservability(ctx, logger, cfg.Observability)
	repos := buildRepositories(deps.DB, deps.RedisClient, cfg, logger)
	container := ServiceContainer{RunRepo: repos.Runs, Observability: observability}

	outcomes, err := newOutcomePublisher(cfg.Kafka, observability.Metrics)
	if err != nil {
		return container, fmt.Errorf("create outcome publisher: %w", err)
	}
	container.Outcomes = outcomes

	container.Engine, err = buildEngine(EngineDeps{
		Config:        cfg,
		Repos:         repos,
		Observability: observability,
		Outcomes:      outcomes,
		Logger:        logger,
	})
	if err != nil {
		return container, fmt.Errorf("create engine: %w", err)
	}

	container.Triggers, err = service.NewTriggerService(service.TriggerServiceOptions{
		Runs:        repos.Runs,
		MaxAttempts: cfg.Engine.MaxAttempts,
		Metrics:     observability.Metrics,
		Logger:      logger,
	})
	if err != nil {
		return container, fmt.Errorf("create trigger service: %w", err)
	}

	container.Runs, err = service.NewRunService(service.RunServiceOptions{
		Repo:            repos.Runs,
		Steps:           repos.Steps,
		DefaultLease:    cfg.Runner.Lease,
		FailureNotifier: observability.FailureNotifier,
		Metrics:         observability.Metrics,
		Logger:          logger,
	})
	if err != nil {
		return container, fmt.Errorf("create run service: %w", err)
	}

	return container, nil
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger,
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			RunURLPrefix: cfg.Slack.RunURLPrefix,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: baseLogger,
		Sinks:  sinks,
	})
}
