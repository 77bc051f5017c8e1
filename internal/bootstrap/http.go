package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/appointflow/notifier/config"
	httpx "github.com/appointflow/notifier/internal/http"
	"github.com/appointflow/notifier/internal/service"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
	// ErrCh receives listener failures; nil logs them instead.
	ErrCh chan<- error
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	return startServer(serverConfig{
		Logger:  logger,
		Handler: buildHTTPHandler(appCfg.HTTP, cfg.Services, logger),
		HTTP:    appCfg.HTTP,
		ErrCh:   cfg.ErrCh,
	})
}

func buildHTTPHandler(httpCfg config.HTTPConfig, services ServiceContainer, logger *slog.Logger) http.Handler {
	routerServices := httpx.RouterServices{
		Triggers:     services.Triggers,
		FrontendURL:  httpCfg.FrontendURL,
		MaxBodyBytes: httpCfg.MaxBodyBytes,
		Metrics:      services.Observability.Metrics,
		Logger:       logger,
	}
	if services.Runs != nil {
		routerServices.Runs = services.Runs
	}
	if services.Observability.Registry != nil {
		routerServices.Gatherer = services.Observability.Registry
	}
	return httpx.NewRouter(routerServices)
}

type serverConfig struct {
	Logger  *slog.Logger
	Handler http.Handler
	HTTP    config.HTTPConfig
	ErrCh   chan<- error
}

func startServer(cfg serverConfig) *http.Server {
	addr := cfg.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":3001"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           cfg.Handler,
		ReadTimeout:       orDefault(cfg.HTTP.ReadTimeout, 30*time.Second),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      orDefault(cfg.HTTP.WriteTimeout, 30*time.Second),
		IdleTimeout:       orDefault(cfg.HTTP.IdleTimeout, 120*time.Second),
	}

	go func() {
		cfg.Logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cfg.Logger.Error("HTTP server failed", "error", err)
			if cfg.ErrCh != nil {
				select {
				case cfg.ErrCh <- fmt.Errorf("http server failed: %w", err):
				default:
				}
			}
		}
	}()

	return server
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context    context.Context
	Server     *http.Server
	RunService *service.RunService
	Logger     *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	// Wake idle workers first so they observe cancellation.
	if cfg.RunService != nil {
		cfg.RunService.StopListeners()
	}

	shutdownCtx, cancel := context.WithTimeout(cfg.Context, 10*time.Second)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
