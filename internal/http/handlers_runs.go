package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/appointflow/notifier/internal/domain/model"
	apperrors "github.com/appointflow/notifier/internal/errors"
)

const (
	defaultRunListLimit = 50
	maxRunListLimit     = 500
)

// RunHandlers serves run inspection.
type RunHandlers struct {
	Svc RunInspector
}

// StepSummary is a memoized step without its result payload.
type StepSummary struct {
	Key         string    `json:"step_key"`
	CompletedAt time.Time `json:"completed_at"`
}

// RunDetail is a run with the keys of its completed steps.
type RunDetail struct {
	Run   *model.NotificationRun `json:"run"`
	Steps []StepSummary          `json:"steps"`
}

// Get handles GET /api/runs/{id}.
func (h *RunHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.Svc.GetByID(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	steps, err := h.Svc.Steps(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	summaries := make([]StepSummary, 0, len(steps))
	for _, s := range steps {
		summaries = append(summaries, StepSummary{Key: s.Key, CompletedAt: s.CompletedAt})
	}
	WriteJSON(w, http.StatusOK, RunDetail{Run: run, Steps: summaries})
}

// List handles GET /api/runs?event_id=&kind=&state=&limit=&offset=.
func (h *RunHandlers) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseRunListOptions(r)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	runs, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if runs == nil {
		runs = []*model.NotificationRun{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"runs": runs, "limit": opts.Limit, "offset": opts.Offset})
}

// Stats handles GET /api/runs/stats.
func (h *RunHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func parseRunListOptions(r *http.Request) (model.RunListOptions, error) {
	q := r.URL.Query()
	opts := model.RunListOptions{Limit: defaultRunListLimit}

	if v := q.Get("event_id"); v != "" {
		opts.EventID = &v
	}
	if v := q.Get("kind"); v != "" {
		kind := model.RunKind(v)
		if !kind.Valid() {
			return opts, apperrors.Validationf("unknown kind %q", v)
		}
		opts.Kind = &kind
	}
	if v := q.Get("state"); v != "" {
		state := model.RunState(v)
		if !state.Valid() {
			return opts, apperrors.Validationf("unknown state %q", v)
		}
		opts.State = &state
	}

	var err error
	if opts.Limit, err = intQuery(q.Get("limit"), defaultRunListLimit); err != nil {
		return opts, apperrors.Validationf("limit: %v", err)
	}
	if opts.Offset, err = intQuery(q.Get("offset"), 0); err != nil {
		return opts, apperrors.Validationf("offset: %v", err)
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultRunListLimit
	}
	opts.Limit = min(opts.Limit, maxRunListLimit)
	opts.Offset = max(opts.Offset, 0)
	return opts, nil
}

func intQuery(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
