package service

import (
	"errors"
	"testing"

	"github.com/appointflow/notifier/internal/domain/model"
	"github.com/appointflow/notifier/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMessageData() MessageData {
	return MessageData{
		Event:     testutil.SampleEvent("evt-1"),
		Recipient: model.Recipient{ID: "reg-9", FullName: "Ada <Lovelace>", Email: "ada@example.com"},
	}
}

func TestSubject(t *testing.T) {
	data := sampleMessageData()
	tests := []struct {
		kind   model.RunKind
		mutate func(*MessageData)
		want   string
	}{
		{kind: model.RunKindRegistrationConfirmed, want: "Registration Confirmed: Community Meetup"},
		{kind: model.RunKindReminder24h, want: "Reminder: Community Meetup is tomorrow!"},
		{
			kind:   model.RunKindReminderCustom,
			mutate: func(d *MessageData) { d.HoursBefore = model.Hours(3) },
			want:   "Reminder: Community Meetup starts in 3 hours",
		},
		{kind: model.RunKindAttendanceRequest, want: "Action Required: Are you still coming to Community Meetup?"},
		{
			kind:   model.RunKindBroadcast,
			mutate: func(d *MessageData) { d.Subject = "Venue change" },
			want:   "Venue change",
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			d := data
			if tt.mutate != nil {
				tt.mutate(&d)
			}
			assert.Equal(t, tt.want, Subject(tt.kind, d))
		})
	}
}

func TestAttendanceLinks(t *testing.T) {
	confirm, decline := AttendanceLinks("https://events.example.com/", "reg 9")
	assert.Equal(t, "https://events.example.com/api/email/attendance/confirm?id=reg+9&status=confirmed", confirm)
	assert.Equal(t, "https://events.example.com/api/email/attendance/confirm?id=reg+9&status=cancelled", decline)

	confirm, decline = AttendanceLinks("", "reg-9")
	assert.Empty(t, confirm)
	assert.Empty(t, decline)
}

func TestTemplateRenderer_Render(t *testing.T) {
	r, err := NewTemplateRenderer()
	require.NoError(t, err)

	for _, kind := range model.RunKinds() {
		t.Run(string(kind), func(t *testing.T) {
			data := sampleMessageData()
			data.CustomMessage = "Bring <snacks>"
			data.Subject = "News"
			data.HTMLBody = "<b>organizer html</b>"
			data.ConfirmURL, data.DeclineURL = AttendanceLinks("https://x.test", "reg-9")

			msg, err := r.Render(kind, data)
			require.NoError(t, err)
			assert.Equal(t, Subject(kind, data), msg.Subject)
			assert.Contains(t, msg.HTML, "Ada &lt;Lovelace&gt;")

			// Broadcasts carry only the organizer's body, without the event details block.
			if kind == model.RunKindBroadcast {
				assert.NotContains(t, msg.HTML, "Main Hall")
			} else {
				assert.Contains(t, msg.HTML, "Main Hall")
			}

			switch kind {
			case model.RunKindReminderCustom:
				assert.Contains(t, msg.HTML, "Bring &lt;snacks&gt;")
			case model.RunKindBroadcast:
				assert.Contains(t, msg.HTML, "<b>organizer html</b>")
			case model.RunKindAttendanceRequest:
				assert.Contains(t, msg.HTML, "status=confirmed")
				assert.Contains(t, msg.HTML, "status=cancelled")
			}
		})
	}
}

func TestTemplateRenderer_OnlineEvent(t *testing.T) {
	r, err := NewTemplateRenderer()
	require.NoError(t, err)

	data := sampleMessageData()
	data.Event.EventType = model.EventTypeOnline
	data.Event.MeetingLink = "https://meet.example.com/abc"

	msg, err := r.Render(model.RunKindReminder24h, data)
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "https://meet.example.com/abc")
	assert.NotContains(t, msg.HTML, "Main Hall")
}

type failingRenderer struct{ panic bool }

func (f failingRenderer) Render(model.RunKind, MessageData) (model.RenderedMessage, error) {
	if f.panic {
		panic("template exploded")
	}
	return model.RenderedMessage{}, errors.New("bad template")
}

func TestSafeRenderer_FallsBack(t *testing.T) {
	for _, inner := range []Renderer{failingRenderer{}, failingRenderer{panic: true}, nil} {
		s := NewSafeRenderer(inner, nil)
		data := sampleMessageData()
		data.CustomMessage = "See you <soon>"

		msg := s.Render(model.RunKindReminderCustom, data)
		assert.Equal(t, Subject(model.RunKindReminderCustom, data), msg.Subject)
		assert.Contains(t, msg.HTML, "See you &lt;soon&gt;")
		assert.Contains(t, msg.HTML, "Ada &lt;Lovelace&gt;")
	}
}
