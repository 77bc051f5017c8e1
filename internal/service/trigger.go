package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/domain/model"
	apperrors "github.com/appointflow/notifier/internal/errors"
	"github.com/appointflow/notifier/internal/observability/metrics"
)

// TriggerServiceOptions groups dependencies for TriggerService.
type TriggerServiceOptions struct {
	Runs        core.RunRepository // Required
	MaxAttempts int                // Optional: per-run infrastructure retry budget
	Metrics     *metrics.Recorder  // Optional
	Logger      *slog.Logger       // Optional
}

// TriggerService validates inbound triggers and persists the runs they imply. It never sends mail
// itself; callers are acknowledged as soon as the runs are stored.
type TriggerService struct {
	runs        core.RunRepository
	maxAttempts int
	metrics     *metrics.Recorder
	logger      *slog.Logger
}

// NewTriggerService constructs a TriggerService.
func NewTriggerService(opts TriggerServiceOptions) (*TriggerService, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunRepository is required")
	}
	s := &TriggerService{
		runs:        opts.Runs,
		maxAttempts: opts.MaxAttempts,
		metrics:     opts.Metrics,
	}
	if opts.Logger != nil {
		s.logger = opts.Logger.With("component", "trigger_service")
	}
	return s, nil
}

// Accept validates t and creates its runs. Invalid triggers return a validation AppError. When the
// idempotency key was seen before, the runs created the first time are returned instead.
func (s *TriggerService) Accept(ctx context.Context, t model.Trigger) ([]*model.NotificationRun, error) {
	data, err := t.Decode()
	if err != nil {
		s.metrics.Trigger(string(t.Name), metrics.ResultError, 0)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}
	return s.create(ctx, t.Name, t.IdempotencyKey, PlanRuns(data))
}

// AcceptData persists the runs for already-decoded trigger data.
func (s *TriggerService) AcceptData(
	ctx context.Context,
	data model.TriggerData,
	idempotencyKey string,
) ([]*model.NotificationRun, error) {
	if data == nil {
		return nil, apperrors.Validation("trigger data is required")
	}
	if err := data.Validate(); err != nil {
		s.metrics.Trigger(string(data.TriggerName()), metrics.ResultError, 0)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}
	return s.create(ctx, data.TriggerName(), idempotencyKey, PlanRuns(data))
}

func (s *TriggerService) create(
	ctx context.Context,
	name model.TriggerName,
	idempotencyKey string,
	reqs []*model.CreateRunRequest,
) ([]*model.NotificationRun, error) {
	key := strings.TrimSpace(idempotencyKey)
	out := make([]*model.NotificationRun, 0, len(reqs))
	created := 0
	for _, req := range reqs {
		if key != "" {
			req.DedupeKey = key + ":" + string(req.Kind)
		}
		if req.MaxAttempts == 0 {
			req.MaxAttempts = s.maxAttempts
		}
		run, isNew, err := s.runs.Create(ctx, req)
		if err != nil {
			s.metrics.Trigger(string(name), metrics.ResultError, created)
			return out, fmt.Errorf("create %s run: %w", req.Kind, err)
		}
		if isNew {
			created++
		}
		out = append(out, run)
	}

	result := metrics.ResultSuccess
	if created == 0 {
		result = metrics.ResultNoop
	}
	s.metrics.Trigger(string(name), result, created)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "trigger accepted",
			"trigger", name, "runs", len(out), "created", created, "idempotency_key", key)
	}
	return out, nil
}

// PlanRuns maps trigger data to the runs it creates.
func PlanRuns(data model.TriggerData) []*model.CreateRunRequest {
	switch d := data.(type) {
	case model.RegistrationCreated:
		reqs := []*model.CreateRunRequest{{
			Kind:          model.RunKindRegistrationConfirmed,
			EventSnapshot: d.Event,
			Payload:       model.ConfirmationPayload{Registrant: d.Registrant, OriginURL: d.OriginURL},
		}}
		if d.Event.ConfirmationEmailHours.Positive() {
			reqs = append(reqs, &model.CreateRunRequest{
				Kind:          model.RunKindAttendanceRequest,
				EventSnapshot: d.Event,
				Payload:       model.AttendancePayload{Registrant: d.Registrant, OriginURL: d.OriginURL},
			})
		}
		return reqs
	case model.Reminder24hRequested:
		return []*model.CreateRunRequest{{
			Kind:          model.RunKindReminder24h,
			EventSnapshot: d.Event,
			Payload:       model.Reminder24hPayload{Registrants: d.Registrants},
		}}
	case model.CustomReminderRequested:
		return []*model.CreateRunRequest{{
			Kind:          model.RunKindReminderCustom,
			EventSnapshot: d.Event,
			Payload:       model.CustomReminderPayload{CustomMessage: d.CustomMessage, HoursBefore: d.HoursBefore},
		}}
	case model.BroadcastRequested:
		return []*model.CreateRunRequest{{
			Kind:          model.RunKindBroadcast,
			EventSnapshot: model.EventSnapshot{ID: d.EventID, Title: d.EventTitle},
			Payload: model.BroadcastPayload{
				Subject:     d.Subject,
				HTMLBody:    d.HTMLBody,
				Registrants: d.Registrants,
			},
		}}
	case model.AttendanceRequested:
		return []*model.CreateRunRequest{{
			Kind:          model.RunKindAttendanceRequest,
			EventSnapshot: d.Event,
			Payload:       model.AttendancePayload{Registrant: d.Registrant, OriginURL: d.OriginURL},
		}}
	}
	return nil
}
