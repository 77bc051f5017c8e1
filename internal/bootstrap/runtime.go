package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/appointflow/notifier/config"
	"github.com/appointflow/notifier/internal/service"
	"github.com/redis/go-redis/v9"
)

// ServiceOrchestrationConfig is everything RunServicesWithShutdown needs to run the enabled modes.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// shutdownWaitTimeout bounds the whole drain, not each service.
const shutdownWaitTimeout = 15 * time.Second

type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// RunServicesWithShutdown starts every enabled mode and blocks until SIGINT/SIGTERM or the first
// service failure, then drains.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config with AppConfig is required")
	}
	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := &serviceStartupDeps{
		ctx:             ctx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabled,
		errCh:           make(chan error, errorChannelBufferSize(enabled)),
	}

	var server *http.Server
	if enabled[config.ServiceModeHTTP] {
		server = StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
			ErrCh:    deps.errCh,
		})
	}

	var handles []backgroundServiceHandle
	for _, svc := range backgroundServices(cfg) {
		if done := launchBackground(ctx, deps, svc); done != nil {
			handles = append(handles, backgroundServiceHandle{mode: svc.mode, name: svc.name, done: done})
		}
	}

	return waitForShutdown(shutdownConfig{
		ctx:         ctx,
		cancel:      cancel,
		errCh:       deps.errCh,
		httpServer:  server,
		runService:  cfg.Services.Runs,
		logger:      logger,
		backgrounds: handles,
	})
}

func backgroundServices(cfg *ServiceOrchestrationConfig) []backgroundService {
	app := cfg.Config
	obs := cfg.Services.Observability
	return []backgroundService{
		{
			mode: config.ServiceModeNotificationRunner,
			name: "notification runner",
			start: func(ctx context.Context) error {
				return RunNotificationRunner(ctx, NotificationRunnerConfig{
					Runs:         cfg.Services.Runs,
					Engine:       cfg.Services.Engine,
					Logger:       cfg.Logger,
					Metrics:      obs.Metrics,
					Lease:        app.Runner.Lease,
					Concurrency:  app.Runner.Concurrency,
					PollInterval: app.Runner.PollInterval,
				})
			},
		},
		{
			mode: config.ServiceModeReaper,
			name: "reaper",
			start: func(ctx context.Context) error {
				return RunReaper(ctx, ReaperConfig{
					DB:          cfg.DB,
					Repo:        cfg.Services.RunRepo,
					RedisClient: cfg.RedisClient,
					Logger:      cfg.Logger,
					Config:      app.Reaper,
					Metrics:     obs.Metrics,
				})
			},
		},
		{
			mode: config.ServiceModeTriggerConsumer,
			name: "trigger consumer",
			start: func(ctx context.Context) error {
				return RunTriggerConsumer(ctx, TriggerConsumerConfig{
					Kafka:      app.Kafka,
					Triggers:   cfg.Services.Triggers,
					Logger:     cfg.Logger,
					Metrics:    obs.Metrics,
					RetryDelay: app.Engine.RetryDelay,
				})
			},
		},
	}
}

// launchBackground starts svc when its mode is enabled. The returned channel closes when svc
// returns; nil means it was not started. A failure is forwarded to errCh without blocking.
func launchBackground(ctx context.Context, deps *serviceStartupDeps, svc backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[svc.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := svc.start(ctx)
		if err == nil {
			return
		}
		err = fmt.Errorf("%s failed: %w", svc.name, err)
		select {
		case deps.errCh <- err:
		case <-ctx.Done():
		default:
			deps.logger.WarnContext(ctx, "dropping background service error", "service", svc.name, "error", err)
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", svc.name, "mode", svc.mode)
	return done
}

// errorChannelCapacity counts enabled modes; each reports at most one terminal error.
func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	n := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			n++
		}
	}
	return n
}

// errorChannelBufferSize leaves one extra slot for the HTTP listener.
func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	signals     <-chan os.Signal // nil subscribes to SIGINT and SIGTERM
	httpServer  *http.Server
	runService  *service.RunService
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

func waitForShutdown(cfg shutdownConfig) error {
	quit := cfg.signals
	if quit == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		quit = ch
	}

	var cause error
	select {
	case sig := <-quit:
		cfg.logger.Info("shutting down services", "signal", sig.String())
	case cause = <-cfg.errCh:
		cfg.logger.Error("service error", "error", cause)
	}
	cfg.cancel()

	stopErr := gracefulStop(cfg)
	if cause == nil {
		return stopErr
	}
	if stopErr != nil {
		cfg.logger.Error("graceful stop failed", "error", stopErr)
	}
	return cause
}

// gracefulStop drains HTTP first so no new triggers arrive, then waits for the background
// services under one shared deadline. Runs still leased when the deadline passes are recovered
// by the reaper.
func gracefulStop(cfg shutdownConfig) error {
	deadline, cancel := context.WithTimeout(context.WithoutCancel(cfg.ctx), shutdownWaitTimeout)
	defer cancel()

	if cfg.httpServer != nil {
		if err := ShutdownHTTPServer(ShutdownConfig{
			Context:    deadline,
			Server:     cfg.httpServer,
			RunService: cfg.runService,
			Logger:     cfg.logger,
		}); err != nil {
			return err
		}
	} else if cfg.runService != nil {
		cfg.runService.StopListeners()
	}

	var wg sync.WaitGroup
	for _, h := range cfg.backgrounds {
		if h.done == nil {
			continue
		}
		wg.Add(1)
		go func(h backgroundServiceHandle) {
			defer wg.Done()
			select {
			case <-h.done:
				cfg.logger.Info("service stopped", "service", h.name)
			case <-deadline.Done():
				cfg.logger.Warn("timeout waiting for service to stop", "service", h.name)
			}
		}(h)
	}
	wg.Wait()
	return nil
}
