package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/appointflow/notifier/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  1,
		},
		{
			name:  "http and notification runner",
			modes: []config.ServiceMode{config.ServiceModeHTTP, config.ServiceModeNotificationRunner},
			want:  2,
		},
		{
			name: "all services enabled",
			modes: []config.ServiceMode{
				config.ServiceModeHTTP,
				config.ServiceModeNotificationRunner,
				config.ServiceModeReaper,
				config.ServiceModeTriggerConsumer,
			},
			want: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			assert.Equal(t, tt.want, errorChannelCapacity(enabled))
			assert.Equal(t, tt.want+1, errorChannelBufferSize(enabled))
		})
	}
}

func TestGetEnabledServices_StableOrder(t *testing.T) {
	cfg := &config.AppConfig{Services: "trigger-consumer, reaper,http"}
	assert.Equal(t, []string{"http", "reaper", "trigger-consumer"}, GetEnabledServices(cfg))

	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "bogus"}))
	assert.Empty(t, GetEnabledServices(nil))
}

func TestValidateServiceConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.AppConfig
		wantErr string
	}{
		{name: "nil config", wantErr: "service config is required"},
		{
			name:    "unknown service",
			cfg:     &config.AppConfig{Services: "scheduler"},
			wantErr: "invalid service configuration",
		},
		{
			name:    "consumer without brokers",
			cfg:     &config.AppConfig{Services: "trigger-consumer"},
			wantErr: "KAFKA_BROKERS",
		},
		{
			name: "bad timezone",
			cfg: &config.AppConfig{
				Services: "http",
				Engine:   config.EngineConfig{EventTimezone: "Mars/Olympus"},
			},
			wantErr: "EVENT_TIMEZONE",
		},
		{
			name: "valid",
			cfg: &config.AppConfig{
				Services: "http,trigger-consumer",
				Kafka:    config.KafkaConfig{Brokers: []string{"localhost:9092"}},
				Engine:   config.EngineConfig{EventTimezone: "UTC"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceConfig(tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, newLimiter(config.MailConfig{RateLimitRPS: 0}))

	l := newLimiter(config.MailConfig{RateLimitRPS: 5, RateLimitBurst: 0})
	require.NotNil(t, l)
	assert.Equal(t, rate.Limit(5), l.Limit())
	assert.Equal(t, 1, l.Burst())
}

func TestLaunchBackground(t *testing.T) {
	t.Run("disabled mode is skipped", func(t *testing.T) {
		deps := &serviceStartupDeps{
			ctx:             context.Background(),
			logger:          discardLogger(),
			enabledServices: map[config.ServiceMode]bool{},
			errCh:           make(chan error, 1),
		}
		done := launchBackground(deps.ctx, deps, backgroundService{
			mode:  config.ServiceModeReaper,
			name:  "reaper",
			start: func(context.Context) error { t.Fatal("should not start"); return nil },
		})
		assert.Nil(t, done)
	})

	t.Run("failure is reported", func(t *testing.T) {
		deps := &serviceStartupDeps{
			ctx:             context.Background(),
			logger:          discardLogger(),
			enabledServices: map[config.ServiceMode]bool{config.ServiceModeReaper: true},
			errCh:           make(chan error, 1),
		}
		done := launchBackground(deps.ctx, deps, backgroundService{
			mode:  config.ServiceModeReaper,
			name:  "reaper",
			start: func(context.Context) error { return errors.New("boom") },
		})
		require.NotNil(t, done)
		<-done

		select {
		case err := <-deps.errCh:
			assert.EqualError(t, err, "reaper failed: boom")
		default:
			t.Fatal("expected error on channel")
		}
	})
}

func TestWaitForShutdown(t *testing.T) {
	t.Run("signal cancels services and waits for them", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(done)
		}()

		sig := make(chan os.Signal, 1)
		sig <- syscall.SIGTERM

		err := waitForShutdown(shutdownConfig{
			ctx:         ctx,
			cancel:      cancel,
			errCh:       make(chan error),
			signals:     sig,
			logger:      discardLogger(),
			backgrounds: []backgroundServiceHandle{{name: "runner", done: done}},
		})
		require.NoError(t, err)
		assert.Error(t, ctx.Err())
	})

	t.Run("service error is returned", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		errCh <- errors.New("consumer failed")

		err := waitForShutdown(shutdownConfig{
			ctx:     ctx,
			cancel:  cancel,
			errCh:   errCh,
			signals: make(chan os.Signal),
			logger:  discardLogger(),
		})
		require.EqualError(t, err, "consumer failed")
		assert.Error(t, ctx.Err())
	})
}

func TestShutdownHTTPServer_StopsServer(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.NotFoundHandler())
	srv.Start()
	defer srv.Close()

	err := ShutdownHTTPServer(ShutdownConfig{
		Context: context.Background(),
		Server:  srv.Config,
		Logger:  discardLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, ShutdownHTTPServer(ShutdownConfig{Context: context.Background()}))
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, 5*time.Second, orDefault(0, 5*time.Second))
	assert.Equal(t, time.Second, orDefault(time.Second, 5*time.Second))
}
