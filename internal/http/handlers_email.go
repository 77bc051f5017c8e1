package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/appointflow/notifier/internal/domain/model"
	apperrors "github.com/appointflow/notifier/internal/errors"
)

// EmailHandlers serves the /api/email routes used by the existing frontend. Each route maps its
// payload onto a trigger and goes through the same durable path as /api/triggers.
type EmailHandlers struct {
	Svc         TriggerAcceptor
	FrontendURL string
	Logger      *slog.Logger
}

type confirmRequest struct {
	RegistrantName  string              `json:"registrantName"`
	RegistrantEmail string              `json:"registrantEmail"`
	EventDetails    model.EventSnapshot `json:"eventDetails"`
	RegistrationID  string              `json:"registrationId"`
	OriginURL       string              `json:"originUrl,omitempty"`
}

type sendUpdateRequest struct {
	EventID     string            `json:"eventId"`
	EventTitle  string            `json:"eventTitle"`
	Subject     string            `json:"subject"`
	HTMLBody    string            `json:"htmlBody"`
	Registrants []model.Recipient `json:"registrants"`
}

type attendanceScheduleRequest struct {
	EventData   model.EventSnapshot `json:"eventData"`
	Registrant  model.Recipient     `json:"registrant"`
	FrontendURL string              `json:"frontendUrl,omitempty"`
}

type remindersRequest struct {
	EventData     model.EventSnapshot `json:"eventData"`
	CustomMessage string              `json:"customMessage"`
	TimeBefore    json.RawMessage     `json:"timeBefore"`
}

type emailResponse struct {
	Success bool                     `json:"success"`
	Message string                   `json:"message,omitempty"`
	Runs    []*model.NotificationRun `json:"runs"`
}

// Confirm handles POST /api/email/confirm. It only ever queues the confirmation; attendance checks
// are scheduled by the registration.created trigger or /schedule-attendance-request.
func (h *EmailHandlers) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !DecodeJSONLenient(w, r, &req) {
		return
	}
	event := req.EventDetails
	event.ConfirmationEmailHours = model.HourOffset{}

	key := idempotencyKey(r)
	if key == "" && strings.TrimSpace(req.RegistrationID) != "" {
		key = "confirm:" + strings.TrimSpace(req.RegistrationID)
	}
	data := model.RegistrationCreated{
		Event: event,
		Registrant: model.Recipient{
			ID:       req.RegistrationID,
			FullName: req.RegistrantName,
			Email:    req.RegistrantEmail,
		},
		OriginURL: req.OriginURL,
	}
	h.accept(w, r, data, key, "Confirmation queued")
}

// SendUpdate handles POST /api/email/send-update, the organizer broadcast.
func (h *EmailHandlers) SendUpdate(w http.ResponseWriter, r *http.Request) {
	var req sendUpdateRequest
	if !DecodeJSONLenient(w, r, &req) {
		return
	}
	h.log().InfoContext(r.Context(), "broadcast requested",
		"event_id", req.EventID, "event_title", req.EventTitle, "registrants", len(req.Registrants))

	data := model.BroadcastRequested{
		EventID:     req.EventID,
		EventTitle:  req.EventTitle,
		Subject:     req.Subject,
		HTMLBody:    req.HTMLBody,
		Registrants: req.Registrants,
	}
	h.accept(w, r, data, idempotencyKey(r), "Broadcast queued")
}

// ScheduleAttendanceRequest handles POST /api/email/schedule-attendance-request.
func (h *EmailHandlers) ScheduleAttendanceRequest(w http.ResponseWriter, r *http.Request) {
	var req attendanceScheduleRequest
	if !DecodeJSONLenient(w, r, &req) {
		return
	}
	data := model.AttendanceRequested{
		Event:      req.EventData,
		Registrant: req.Registrant,
		OriginURL:  req.FrontendURL,
	}
	h.accept(w, r, data, idempotencyKey(r), "Attendance request scheduled")
}

// ScheduleReminders handles POST /api/email/schedule-reminders. A custom reminder is created only
// when both customMessage and timeBefore are present; otherwise the response carries no runs.
func (h *EmailHandlers) ScheduleReminders(w http.ResponseWriter, r *http.Request) {
	var req remindersRequest
	if !DecodeJSONLenient(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.CustomMessage) == "" || !presentValue(req.TimeBefore) {
		WriteJSON(w, http.StatusOK, emailResponse{
			Success: true,
			Message: "Reminders scheduled",
			Runs:    []*model.NotificationRun{},
		})
		return
	}

	var hours model.HourOffset
	if err := json.Unmarshal(req.TimeBefore, &hours); err != nil {
		writeEmailError(w, apperrors.Wrap(err, apperrors.ErrCodeValidation, "timeBefore: "+err.Error()))
		return
	}
	data := model.CustomReminderRequested{
		Event:         req.EventData,
		CustomMessage: req.CustomMessage,
		HoursBefore:   hours,
	}
	h.accept(w, r, data, idempotencyKey(r), "Reminders scheduled")
}

// AttendanceConfirm handles the link embedded in emails and redirects to the frontend, which
// records the answer.
func (h *EmailHandlers) AttendanceConfirm(w http.ResponseWriter, r *http.Request) {
	q := url.Values{}
	q.Set("id", r.URL.Query().Get("id"))
	q.Set("status", r.URL.Query().Get("status"))
	target := strings.TrimRight(h.FrontendURL, "/") + "/attendance-confirmed?" + q.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// Webhook handles POST /api/email/webhook. Provider events are logged and acknowledged.
func (h *EmailHandlers) Webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, ErrorParams{Code: http.StatusRequestEntityTooLarge, ErrCode: "body_too_large", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "read_failed", Err: err})
		return
	}
	attr := slog.String("payload", string(raw))
	if json.Valid(raw) {
		attr = slog.Any("payload", json.RawMessage(raw))
	}
	h.log().InfoContext(r.Context(), "mail provider webhook", attr)
	w.WriteHeader(http.StatusOK)
}

func (h *EmailHandlers) accept(w http.ResponseWriter, r *http.Request, data model.TriggerData, key, message string) {
	runs, err := h.Svc.AcceptData(r.Context(), data, key)
	if err != nil {
		h.log().WarnContext(r.Context(), "email route failed", "trigger", data.TriggerName(), "error", err)
		writeEmailError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, emailResponse{Success: true, Message: message, Runs: runs})
}

func writeEmailError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	WriteJSON(w, status, map[string]any{"success": false, "error": msg})
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(IdempotencyHeader))
}

// presentValue reports whether a raw JSON value would count as set: not missing, null, false,
// zero, or an empty string.
func presentValue(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	switch string(v) {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}

func (h *EmailHandlers) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
