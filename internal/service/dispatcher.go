package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/domain/model"
	"github.com/appointflow/notifier/internal/observability/metrics"
	"github.com/appointflow/notifier/internal/observability/tracing"
)

// DispatcherOptions groups dependencies for Dispatcher.
type DispatcherOptions struct {
	Transport core.Transport    // Required: email transport
	Provider  string            // Optional: transport name used in metrics
	Sender    model.Sender      // Required: from-address
	Marker    core.SentMarker   // Optional: suppresses resends after a crash mid-batch
	Limiter   *rate.Limiter     // Optional: provider rate limit shared by all batches
	Metrics   *metrics.Recorder // Optional
	Tracer    trace.Tracer      // Optional: defaults to the global service tracer
	Logger    *slog.Logger      // Optional
}

// DispatchRequest is one message for one recipient of a run.
type DispatchRequest struct {
	RunID     string
	Kind      model.RunKind
	Recipient model.Recipient
	Message   model.RenderedMessage
}

// Dispatcher sends a single message and reports the outcome. It never retries and never returns
// an error; every failure is captured in the DispatchResult.
type Dispatcher struct {
	transport core.Transport
	provider  string
	sender    model.Sender
	marker    core.SentMarker
	limiter   *rate.Limiter
	metrics   *metrics.Recorder
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Transport == nil {
		return nil, errors.New("Transport is required")
	}
	if _, err := model.NormalizeEmail(opts.Sender.Email); err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	d := &Dispatcher{
		transport: opts.Transport,
		provider:  opts.Provider,
		sender:    opts.Sender,
		marker:    opts.Marker,
		limiter:   opts.Limiter,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
	}
	if d.provider == "" {
		d.provider = "unknown"
	}
	if d.tracer == nil {
		d.tracer = tracing.Tracer()
	}
	if opts.Logger != nil {
		d.logger = opts.Logger.With("component", "dispatcher")
	}
	return d, nil
}

// Dispatch delivers req and returns its per-recipient result.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) model.DispatchResult {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "notifier.dispatch", trace.WithAttributes(
		attribute.String("run.id", req.RunID),
		attribute.String("run.kind", string(req.Kind)),
		attribute.String("recipient.id", req.Recipient.ID),
		attribute.String("mail.provider", d.provider),
	))
	defer span.End()

	result := d.dispatch(ctx, req)

	span.SetAttributes(attribute.String("dispatch.status", string(result.Status)))
	if result.Status == model.DispatchFailed {
		span.SetStatus(codes.Error, result.Reason)
	}
	d.metrics.Dispatch(metrics.DispatchMetric{
		Kind:     string(req.Kind),
		Provider: d.provider,
		Status:   string(result.Status),
		Duration: time.Since(start),
	})
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, req DispatchRequest) model.DispatchResult {
	to, err := model.NormalizeEmail(req.Recipient.Email)
	if err != nil {
		return d.fail(ctx, req, err)
	}
	recipient := req.Recipient
	recipient.Email = to

	key := ""
	if req.RunID != "" {
		key = model.SentMarkerKey(req.RunID, recipient.ID)
	}
	if d.marker != nil && key != "" {
		sent, err := d.marker.Sent(ctx, key)
		switch {
		case err != nil:
			d.warn(ctx, "sent marker unavailable, sending anyway", req, err)
		case sent:
			return model.DispatchResult{RecipientID: recipient.ID, Status: model.DispatchDuplicate}
		}
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return d.fail(ctx, req, fmt.Errorf("rate limiter: %w", err))
		}
	}

	messageID, err := d.transport.Send(ctx, model.Email{
		From:           d.sender,
		To:             recipient,
		Subject:        req.Message.Subject,
		HTML:           req.Message.HTML,
		IdempotencyKey: key,
	})
	if err != nil {
		return d.fail(ctx, req, err)
	}
	if d.marker != nil && key != "" {
		if err := d.marker.MarkSent(context.WithoutCancel(ctx), key); err != nil {
			d.warn(ctx, "failed to record sent marker", req, err)
		}
	}
	return model.Sent(recipient.ID, messageID)
}

func (d *Dispatcher) fail(ctx context.Context, req DispatchRequest, cause error) model.DispatchResult {
	err := fmt.Errorf("%w: %w", model.ErrDispatchFailed, cause)
	if d.logger != nil {
		d.logger.WarnContext(ctx, "dispatch failed",
			"run_id", req.RunID,
			"kind", req.Kind,
			"recipient_id", req.Recipient.ID,
			"error", err,
		)
	}
	return model.Failed(req.Recipient.ID, err)
}

func (d *Dispatcher) warn(ctx context.Context, msg string, req DispatchRequest, err error) {
	if d.logger != nil {
		d.logger.WarnContext(ctx, msg, "run_id", req.RunID, "recipient_id", req.Recipient.ID, "error", err)
	}
}
