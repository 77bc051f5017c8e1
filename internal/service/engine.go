package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/domain/model"
	"github.com/appointflow/notifier/internal/domain/schedule"
	"github.com/appointflow/notifier/internal/observability/metrics"
	"github.com/appointflow/notifier/internal/observability/tracing"
)

// ErrLeaseLost is returned when a heartbeat finds the run no longer leased by this worker.
var ErrLeaseLost = errors.New("run lease lost")

// AudienceResolver resolves the current recipients of an event.
type AudienceResolver interface {
	Resolve(ctx context.Context, eventID string) ([]model.Recipient, error)
}

// RecipientDispatcher delivers one message to one recipient.
type RecipientDispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) model.DispatchResult
}

// OutcomeStatus says whether Execute parked the run or drove it to a terminal state.
type OutcomeStatus string

const (
	// OutcomeSuspended means the run is parked until ResumeAt and holds no worker.
	OutcomeSuspended OutcomeStatus = "suspended"
	// OutcomeFinished means the run reached a terminal state.
	OutcomeFinished OutcomeStatus = "finished"
)

// Outcome is the result of one Execute call.
type Outcome struct {
	Status   OutcomeStatus
	State    model.RunState
	ResumeAt time.Time
	Sent     int
	Failed   int
}

// EngineOptions groups dependencies for Engine.
type EngineOptions struct {
	Runs       core.RunRepository   // Required
	Steps      core.StepStore       // Required
	Flags      core.EventFlagReader // Required: live gating flags
	Audience   AudienceResolver     // Required
	Dispatcher RecipientDispatcher  // Required
	Times      *schedule.Resolver   // Optional: defaults to UTC
	Renderer   *SafeRenderer        // Optional: defaults to the built-in templates
	Batcher    *Batcher             // Optional: defaults to 50 per batch with a 1s pause
	Publisher  core.OutcomePublisher

	// Lease is the duration each between-batch heartbeat extends the lease by.
	Lease time.Duration
	// PinReminder24h sends the 24h reminder to the registrants captured by the trigger.
	PinReminder24h bool
	// PublicBaseURL is the default base for attendance links.
	PublicBaseURL string

	Now     func() time.Time
	Metrics *metrics.Recorder
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

// Engine executes notification runs as a sequence of memoized steps. Each call resumes from the
// run's stored state, so a run interrupted at any point can be executed again safely.
type Engine struct {
	runs       core.RunRepository
	steps      core.StepStore
	flags      core.EventFlagReader
	audience   AudienceResolver
	dispatcher RecipientDispatcher
	times      *schedule.Resolver
	renderer   *SafeRenderer
	batcher    *Batcher
	publisher  core.OutcomePublisher

	lease          time.Duration
	pinReminder24h bool
	publicBaseURL  string

	now     func() time.Time
	metrics *metrics.Recorder
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	switch {
	case opts.Runs == nil:
		return nil, errors.New("RunRepository is required")
	case opts.Steps == nil:
		return nil, errors.New("StepStore is required")
	case opts.Flags == nil:
		return nil, errors.New("EventFlagReader is required")
	case opts.Audience == nil:
		return nil, errors.New("AudienceResolver is required")
	case opts.Dispatcher == nil:
		return nil, errors.New("RecipientDispatcher is required")
	}

	e := &Engine{
		runs:           opts.Runs,
		steps:          opts.Steps,
		flags:          opts.Flags,
		audience:       opts.Audience,
		dispatcher:     opts.Dispatcher,
		times:          opts.Times,
		renderer:       opts.Renderer,
		batcher:        opts.Batcher,
		publisher:      opts.Publisher,
		lease:          opts.Lease,
		pinReminder24h: opts.PinReminder24h,
		publicBaseURL:  opts.PublicBaseURL,
		now:            opts.Now,
		metrics:        opts.Metrics,
		tracer:         opts.Tracer,
	}
	if e.times == nil {
		e.times = schedule.NewResolver(time.UTC)
	}
	if e.renderer == nil {
		tr, err := NewTemplateRenderer()
		if err != nil {
			return nil, err
		}
		e.renderer = NewSafeRenderer(tr, opts.Logger)
	}
	if e.batcher == nil {
		e.batcher = NewBatcher(BatcherOptions{Metrics: opts.Metrics, Logger: opts.Logger})
	}
	if e.lease <= 0 {
		e.lease = time.Minute
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.tracer == nil {
		e.tracer = tracing.Tracer()
	}
	if opts.Logger != nil {
		e.logger = opts.Logger.With("component", "engine")
	}
	return e, nil
}

// execution carries per-call state through the steps.
type execution struct {
	run     *model.NotificationRun
	payload model.RunPayload
	state   model.RunState
	started time.Time
}

// Execute advances run as far as it can go: to a suspension while it waits for its send instant,
// or to a terminal state. Errors are infrastructure failures; the caller records them with Fail
// and the run is retried from its last completed step.
func (e *Engine) Execute(ctx context.Context, run *model.NotificationRun) (Outcome, error) {
	if run == nil {
		return Outcome{}, errors.New("run is required")
	}

	ctx, span := e.tracer.Start(ctx, "notifier.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("run.kind", string(run.Kind)),
		attribute.String("run.state", string(run.State)),
		attribute.String("event.id", run.EventID),
	))
	defer span.End()

	if run.State.Terminal() {
		return Outcome{Status: OutcomeFinished, State: run.State, Sent: run.SentCount, Failed: run.FailedCount}, nil
	}

	payload, err := run.DecodePayload()
	if err != nil {
		return Outcome{}, err
	}
	x := &execution{run: run, payload: payload, state: run.State, started: e.now()}

	if x.state == model.RunStatePending {
		out, suspended, err := e.schedule(ctx, x)
		if err != nil || suspended {
			return out, err
		}
	}

	if x.state == model.RunStateWaiting {
		if err := e.advance(ctx, x, model.RunStateResolving); err != nil {
			return Outcome{}, err
		}
	}

	if x.state == model.RunStateResolving {
		out, done, err := e.resolve(ctx, x)
		if err != nil || done {
			return out, err
		}
	}

	if x.state == model.RunStateSending {
		return e.send(ctx, x)
	}

	return Outcome{}, fmt.Errorf("run %s: unexpected state %s", run.ID, x.state)
}

// schedule computes the send instant and parks the run when it lies in the future.
func (e *Engine) schedule(ctx context.Context, x *execution) (Outcome, bool, error) {
	now := e.now()
	var plan model.SendTimeResult
	if x.run.Kind.Immediate() {
		plan = model.SendTimeResult{FireAt: now, Reason: "immediate"}
	} else {
		var err error
		plan, _, err = memo(ctx, e.steps, x.run.ID, model.StepComputeSendTime, func(context.Context) (model.SendTimeResult, error) {
			return e.computeSendTime(ctx, x), nil
		})
		if err != nil {
			return Outcome{}, false, err
		}
	}

	suspend := plan.FireAt.After(now)
	ok, err := e.runs.BeginWait(ctx, core.BeginWaitRequest{
		ID:           x.run.ID,
		ScheduledFor: plan.FireAt,
		Release:      suspend,
	})
	if err != nil {
		return Outcome{}, false, fmt.Errorf("begin wait: %w", err)
	}
	if !ok {
		return Outcome{}, false, fmt.Errorf("begin wait %s: %w", x.run.ID, model.ErrInvalidTransition)
	}
	x.state = model.RunStateWaiting

	if !suspend {
		return Outcome{}, false, nil
	}
	if e.logger != nil {
		e.logger.InfoContext(ctx, "run suspended",
			"run_id", x.run.ID, "kind", x.run.Kind, "fire_at", plan.FireAt, "reason", plan.Reason)
	}
	e.record(x, "suspended")
	return Outcome{Status: OutcomeSuspended, State: model.RunStateWaiting, ResumeAt: plan.FireAt}, true, nil
}

func (e *Engine) computeSendTime(ctx context.Context, x *execution) model.SendTimeResult {
	var offset model.HourOffset
	switch p := x.payload.(type) {
	case model.Reminder24hPayload:
		offset = model.Hours(24)
	case model.CustomReminderPayload:
		offset = p.HoursBefore
	case model.AttendancePayload:
		offset = x.run.EventSnapshot.ConfirmationEmailHours
	}

	ev := x.run.EventSnapshot
	plan, err := e.times.Resolve(ev.StartDate, ev.StartTime, offset, e.now())
	if err != nil && e.logger != nil {
		e.logger.WarnContext(ctx, "invalid event time, sending immediately",
			"run_id", x.run.ID, "event_id", ev.ID, "error", err)
	}
	return model.SendTimeResult{FireAt: plan.FireAt.UTC(), Reason: string(plan.Reason)}
}

// resolve runs gating and recipient resolution. done reports a terminal skip.
func (e *Engine) resolve(ctx context.Context, x *execution) (Outcome, bool, error) {
	gate, _, err := memo(ctx, e.steps, x.run.ID, model.StepCheckGating, func(ctx context.Context) (model.GatingResult, error) {
		return e.checkGating(ctx, x), nil
	})
	if err != nil {
		return Outcome{}, false, err
	}
	if !gate.Enabled {
		out, err := e.finish(ctx, x, model.RunStateSkippedDisabled, 0, 0)
		return out, true, err
	}

	audience, _, err := memo(ctx, e.steps, x.run.ID, model.StepFetchRecipients, func(ctx context.Context) (model.RecipientsResult, error) {
		return e.fetchRecipients(ctx, x)
	})
	if err != nil {
		return Outcome{}, false, err
	}
	if len(audience.Recipients) == 0 {
		out, err := e.finish(ctx, x, model.RunStateSkippedEmpty, 0, 0)
		return out, true, err
	}

	return Outcome{}, false, e.advance(ctx, x, model.RunStateSending)
}

func (e *Engine) checkGating(ctx context.Context, x *execution) model.GatingResult {
	switch x.run.Kind {
	case model.RunKindReminder24h, model.RunKindAttendanceRequest:
	default:
		return model.GatingResult{Enabled: true, Source: "ungated"}
	}

	flags, err := e.flags.GetEventFlags(ctx, x.run.EventID)
	source := "store"
	if err != nil {
		if e.logger != nil {
			e.logger.WarnContext(ctx, "event flag read failed, using snapshot",
				"run_id", x.run.ID, "event_id", x.run.EventID, "error", err)
		}
		flags, source = x.run.EventSnapshot.Flags(), "snapshot"
	}

	enabled := flags.Send24hReminder
	if x.run.Kind == model.RunKindAttendanceRequest {
		enabled = flags.ConfirmationEmailHours.Positive()
	}
	return model.GatingResult{Enabled: enabled, Source: source}
}

func (e *Engine) fetchRecipients(ctx context.Context, x *execution) (model.RecipientsResult, error) {
	pinned := x.run.Kind.Immediate() || (x.run.Kind == model.RunKindReminder24h && e.pinReminder24h)
	if pinned {
		return model.RecipientsResult{
			Recipients: model.EligibleRecipients(model.PinnedRecipients(x.payload)),
			Source:     "pinned",
		}, nil
	}

	list, err := e.audience.Resolve(ctx, x.run.EventID)
	if err != nil {
		return model.RecipientsResult{}, fmt.Errorf("resolve recipients: %w", err)
	}

	if p, ok := x.payload.(model.AttendancePayload); ok {
		filtered := make([]model.Recipient, 0, 1)
		for _, r := range list {
			if r.ID == p.Registrant.ID {
				filtered = append(filtered, r)
				break
			}
		}
		list = filtered
	}
	return model.RecipientsResult{Recipients: list, Source: "store"}, nil
}

func (e *Engine) send(ctx context.Context, x *execution) (Outcome, error) {
	raw, ok, err := e.steps.Get(ctx, x.run.ID, model.StepFetchRecipients)
	if err != nil {
		return Outcome{}, fmt.Errorf("load recipients: %w", err)
	}
	if !ok {
		return Outcome{}, fmt.Errorf("run %s is sending without a recipient list", x.run.ID)
	}
	var audience model.RecipientsResult
	if err := json.Unmarshal(raw, &audience); err != nil {
		return Outcome{}, fmt.Errorf("decode recipients: %w", err)
	}

	summary, err := e.batcher.Run(ctx, BatchRun{
		Kind:       x.run.Kind,
		Recipients: audience.Recipients,
		Send: func(ctx context.Context, r model.Recipient) model.DispatchResult {
			return e.dispatcher.Dispatch(ctx, DispatchRequest{
				RunID:     x.run.ID,
				Kind:      x.run.Kind,
				Recipient: r,
				Message:   e.renderer.Render(x.run.Kind, e.messageData(x, r)),
			})
		},
		Step: func(
			ctx context.Context,
			index int,
			exec func(context.Context) (model.BatchResult, error),
		) (model.BatchResult, bool, error) {
			return memo(ctx, e.steps, x.run.ID, model.BatchStepKey(index), exec)
		},
		AfterBatch: func(ctx context.Context, _ int) error {
			ok, err := e.runs.Heartbeat(ctx, x.run.ID, e.lease)
			if err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
			if !ok {
				return ErrLeaseLost
			}
			return nil
		},
	})
	if err != nil {
		return Outcome{}, err
	}

	return e.finish(ctx, x, model.RunStateCompleted, summary.Sent, summary.Failed)
}

func (e *Engine) messageData(x *execution, r model.Recipient) MessageData {
	data := MessageData{Event: x.run.EventSnapshot, Recipient: r}
	switch p := x.payload.(type) {
	case model.CustomReminderPayload:
		data.CustomMessage = p.CustomMessage
		data.HoursBefore = p.HoursBefore
	case model.Reminder24hPayload:
		data.HoursBefore = model.Hours(24)
	case model.BroadcastPayload:
		data.Subject = p.Subject
		data.HTMLBody = p.HTMLBody
	case model.AttendancePayload:
		base := p.OriginURL
		if base == "" {
			base = e.publicBaseURL
		}
		data.HoursBefore = x.run.EventSnapshot.ConfirmationEmailHours
		data.ConfirmURL, data.DeclineURL = AttendanceLinks(base, r.ID)
	}
	return data
}

func (e *Engine) advance(ctx context.Context, x *execution, to model.RunState) error {
	ok, err := e.runs.Advance(ctx, x.run.ID, x.state, to)
	if err != nil {
		return fmt.Errorf("advance %s -> %s: %w", x.state, to, err)
	}
	if !ok {
		return fmt.Errorf("advance %s -> %s: %w", x.state, to, model.ErrInvalidTransition)
	}
	x.state = to
	return nil
}

func (e *Engine) finish(ctx context.Context, x *execution, to model.RunState, sent, failed int) (Outcome, error) {
	ok, err := e.runs.Finish(ctx, model.FinishRequest{
		ID: x.run.ID, From: x.state, To: to, Sent: sent, Failed: failed,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("finish %s: %w", to, err)
	}
	if !ok {
		return Outcome{}, fmt.Errorf("finish %s -> %s: %w", x.state, to, model.ErrInvalidTransition)
	}
	x.state = to

	if e.logger != nil {
		if to == model.RunStateCompleted {
			e.logger.InfoContext(ctx, "run completed",
				"run_id", x.run.ID, "kind", x.run.Kind, "sent", sent, "failed", failed)
		} else {
			e.logger.InfoContext(ctx, "run skipped", "run_id", x.run.ID, "kind", x.run.Kind, "state", to)
		}
	}
	e.record(x, string(to))
	e.publish(ctx, x, to, sent, failed)

	return Outcome{Status: OutcomeFinished, State: to, Sent: sent, Failed: failed}, nil
}

func (e *Engine) publish(ctx context.Context, x *execution, state model.RunState, sent, failed int) {
	if e.publisher == nil {
		return
	}
	err := e.publisher.Publish(ctx, model.RunOutcome{
		RunID:       x.run.ID,
		Kind:        x.run.Kind,
		EventID:     x.run.EventID,
		State:       state,
		Sent:        sent,
		Failed:      failed,
		CompletedAt: e.now().UTC(),
	})
	if err != nil && e.logger != nil {
		e.logger.WarnContext(ctx, "failed to publish run outcome", "run_id", x.run.ID, "error", err)
	}
}

func (e *Engine) record(x *execution, transition string) {
	e.metrics.RunTransition(metrics.RunMetric{
		Kind:       string(x.run.Kind),
		Transition: transition,
		Result:     metrics.ResultSuccess,
		Duration:   e.now().Sub(x.started),
	})
}

// memo returns the stored result of key, or computes, stores, and returns it. When two workers
// race on the same key the first stored value is returned to both.
func memo[T any](
	ctx context.Context,
	steps core.StepStore,
	runID, key string,
	compute func(context.Context) (T, error),
) (T, bool, error) {
	var out T
	raw, ok, err := steps.Get(ctx, runID, key)
	if err != nil {
		return out, false, fmt.Errorf("load step %s: %w", key, err)
	}
	if ok {
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, false, fmt.Errorf("decode step %s: %w", key, err)
		}
		return out, true, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return out, false, err
	}
	stored, err := steps.Save(ctx, runID, key, value)
	if err != nil {
		return out, false, fmt.Errorf("save step %s: %w", key, err)
	}
	if err := json.Unmarshal(stored, &out); err != nil {
		return out, false, fmt.Errorf("decode step %s: %w", key, err)
	}
	return out, false, nil
}
