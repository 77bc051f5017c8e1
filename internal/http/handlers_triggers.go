package httpx

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/appointflow/notifier/internal/domain/model"
)

// IdempotencyHeader carries the caller's idempotency key when the body does not.
const IdempotencyHeader = "Idempotency-Key"

// TriggerHandlers serves the generic trigger endpoint.
type TriggerHandlers struct {
	Svc TriggerAcceptor
}

type triggerBody struct {
	Data           json.RawMessage `json:"data"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// TriggerResponse acknowledges an accepted trigger.
type TriggerResponse struct {
	Accepted bool                     `json:"accepted"`
	Runs     []*model.NotificationRun `json:"runs"`
}

// Create handles POST /api/triggers/{name}. The body is {"data": {...}, "idempotency_key": "..."}.
// Runs are persisted before the 202 is written; nothing is sent inline.
func (h *TriggerHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var body triggerBody
	if !DecodeJSON(w, r, &body) {
		return
	}
	key := strings.TrimSpace(body.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	}
	t := model.Trigger{
		Name:           model.TriggerName(r.PathValue("name")),
		Data:           body.Data,
		IdempotencyKey: key,
	}

	runs, err := h.Svc.Accept(r.Context(), t)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, TriggerResponse{Accepted: true, Runs: runs})
}
