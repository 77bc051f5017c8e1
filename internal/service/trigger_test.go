package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/appointflow/notifier/internal/domain/model"
	apperrors "github.com/appointflow/notifier/internal/errors"
	"github.com/appointflow/notifier/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestPlanRuns(t *testing.T) {
	ev := testutil.SampleEvent("evt-1")
	noAttendance := ev
	noAttendance.ConfirmationEmailHours = model.Hours(0)
	registrant := testutil.SampleRecipients(1)[0]

	tests := []struct {
		name  string
		data  model.TriggerData
		kinds []model.RunKind
	}{
		{
			name:  "registration with attendance hours",
			data:  model.RegistrationCreated{Event: ev, Registrant: registrant},
			kinds: []model.RunKind{model.RunKindRegistrationConfirmed, model.RunKindAttendanceRequest},
		},
		{
			name:  "registration without attendance hours",
			data:  model.RegistrationCreated{Event: noAttendance, Registrant: registrant},
			kinds: []model.RunKind{model.RunKindRegistrationConfirmed},
		},
		{
			name:  "reminder 24h",
			data:  model.Reminder24hRequested{Event: ev},
			kinds: []model.RunKind{model.RunKindReminder24h},
		},
		{
			name:  "custom reminder",
			data:  model.CustomReminderRequested{Event: ev, CustomMessage: "hi", HoursBefore: model.Hours(3)},
			kinds: []model.RunKind{model.RunKindReminderCustom},
		},
		{
			name:  "broadcast",
			data:  model.BroadcastRequested{EventID: "evt-1", EventTitle: "Meetup", Subject: "s", HTMLBody: "b"},
			kinds: []model.RunKind{model.RunKindBroadcast},
		},
		{
			name:  "attendance",
			data:  model.AttendanceRequested{Event: ev, Registrant: registrant},
			kinds: []model.RunKind{model.RunKindAttendanceRequest},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqs := PlanRuns(tt.data)
			kinds := make([]model.RunKind, 0, len(reqs))
			for _, r := range reqs {
				require.NoError(t, r.Validate())
				kinds = append(kinds, r.Kind)
			}
			assert.Equal(t, tt.kinds, kinds)
		})
	}
}

func TestTriggerService_Accept(t *testing.T) {
	runs := newMemRunRepo(func() time.Time { return engineTestNow })
	svc, err := NewTriggerService(TriggerServiceOptions{Runs: runs, MaxAttempts: 5})
	require.NoError(t, err)

	trigger := model.Trigger{
		Name: model.TriggerRegistrationCreated,
		Data: mustJSON(t, model.RegistrationCreated{
			Event:      testutil.SampleEvent("evt-1"),
			Registrant: testutil.SampleRecipients(1)[0],
		}),
		IdempotencyKey: "reg-r-1",
	}

	created, err := svc.Accept(context.Background(), trigger)
	require.NoError(t, err)
	require.Len(t, created, 2)
	for _, run := range created {
		assert.Equal(t, model.RunStatePending, run.State)
		assert.Equal(t, 5, run.MaxAttempts)
		require.NotNil(t, run.DedupeKey)
		assert.Equal(t, "reg-r-1:"+string(run.Kind), *run.DedupeKey)
	}

	again, err := svc.Accept(context.Background(), trigger)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, created[0].ID, again[0].ID)
	assert.Equal(t, created[1].ID, again[1].ID)

	all, err := runs.List(context.Background(), model.RunListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTriggerService_Accept_Invalid(t *testing.T) {
	runs := newMemRunRepo(func() time.Time { return engineTestNow })
	svc, err := NewTriggerService(TriggerServiceOptions{Runs: runs})
	require.NoError(t, err)

	tests := []struct {
		name    string
		trigger model.Trigger
	}{
		{name: "unknown name", trigger: model.Trigger{Name: "nope", Data: json.RawMessage(`{}`)}},
		{name: "missing data", trigger: model.Trigger{Name: model.TriggerBroadcast}},
		{name: "malformed", trigger: model.Trigger{Name: model.TriggerBroadcast, Data: json.RawMessage(`{"subject":`)}},
		{
			name: "missing registrant email",
			trigger: model.Trigger{
				Name: model.TriggerAttendanceRequest,
				Data: mustJSON(t, model.AttendanceRequested{
					Event:      testutil.SampleEvent("evt-1"),
					Registrant: model.Recipient{ID: "r-1"},
				}),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Accept(context.Background(), tt.trigger)
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
		})
	}
}

func TestTriggerService_AcceptData_StoreError(t *testing.T) {
	runs := newMemRunRepo(func() time.Time { return engineTestNow })
	runs.createErr = errors.New("db down")
	svc, err := NewTriggerService(TriggerServiceOptions{Runs: runs})
	require.NoError(t, err)

	_, err = svc.AcceptData(context.Background(), model.Reminder24hRequested{Event: testutil.SampleEvent("evt-1")}, "")
	require.Error(t, err)
	assert.NotEqual(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
}
