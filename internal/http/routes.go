// Package httpx serves the trigger surface, run inspection, and operational endpoints.
package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/appointflow/notifier/internal/domain/model"
	"github.com/appointflow/notifier/internal/observability/metrics"
)

// TriggerAcceptor persists the runs implied by a trigger.
type TriggerAcceptor interface {
	Accept(ctx context.Context, t model.Trigger) ([]*model.NotificationRun, error)
	AcceptData(ctx context.Context, data model.TriggerData, idempotencyKey string) ([]*model.NotificationRun, error)
}

// RunInspector reads runs and their memoized steps.
type RunInspector interface {
	GetByID(ctx context.Context, id string) (*model.NotificationRun, error)
	List(ctx context.Context, opts model.RunListOptions) ([]*model.NotificationRun, error)
	Stats(ctx context.Context) (*model.RunStats, error)
	Steps(ctx context.Context, runID string) ([]model.StepRecord, error)
}

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Triggers TriggerAcceptor // Required
	Runs     RunInspector    // Optional: inspection routes are skipped when nil

	// FrontendURL receives the attendance confirmation redirect.
	FrontendURL  string
	MaxBodyBytes int64

	Metrics  *metrics.Recorder
	Gatherer prometheus.Gatherer // Optional: defaults to prometheus.DefaultGatherer
	Logger   *slog.Logger
}

// NewRouter creates the HTTP handler with logging, metrics, panic recovery, and body limits applied.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	triggerHandlers := &TriggerHandlers{Svc: services.Triggers}
	emailHandlers := &EmailHandlers{
		Svc:         services.Triggers,
		FrontendURL: services.FrontendURL,
		Logger:      logger.With("component", "email_routes"),
	}

	registerTriggerRoutes(mux, triggerHandlers)
	registerEmailRoutes(mux, emailHandlers)
	if services.Runs != nil {
		registerRunRoutes(mux, &RunHandlers{Svc: services.Runs})
	}

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	gatherer := services.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return Chain(mux,
		Recover(logger),
		Logging(logger, services.Metrics),
		LimitBody(services.MaxBodyBytes),
	)
}

func registerTriggerRoutes(mux *http.ServeMux, h *TriggerHandlers) {
	mux.HandleFunc("POST /api/triggers/{name}", h.Create)
}

func registerEmailRoutes(mux *http.ServeMux, h *EmailHandlers) {
	mux.HandleFunc("POST /api/email/confirm", h.Confirm)
	mux.HandleFunc("POST /api/email/send-update", h.SendUpdate)
	mux.HandleFunc("POST /api/email/schedule-attendance-request", h.ScheduleAttendanceRequest)
	mux.HandleFunc("POST /api/email/schedule-reminders", h.ScheduleReminders)
	mux.HandleFunc("GET /api/email/attendance/confirm", h.AttendanceConfirm)
	mux.HandleFunc("POST /api/email/webhook", h.Webhook)
}

func registerRunRoutes(mux *http.ServeMux, h *RunHandlers) {
	mux.HandleFunc("GET /api/runs", h.List)
	mux.HandleFunc("GET /api/runs/stats", h.Stats)
	mux.HandleFunc("GET /api/runs/{id}", h.Get)
}
