package httpx

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/appointflow/notifier/internal/domain/model"
	apperrors "github.com/appointflow/notifier/internal/errors"
)

func TestRunGet(t *testing.T) {
	f := newRouterFixture(t)
	done := time.Date(2026, 2, 20, 10, 0, 5, 0, time.UTC)
	f.repo.EXPECT().GetByID(gomock.Any(), "run-1").Return(&model.NotificationRun{
		ID: "run-1", Kind: model.RunKindReminder24h, State: model.RunStateSending,
	}, nil)
	f.steps.EXPECT().List(gomock.Any(), "run-1").Return([]model.StepRecord{
		{RunID: "run-1", Key: "resolve-time", Result: json.RawMessage(`{"at":"x"}`), CompletedAt: done},
		{RunID: "run-1", Key: "batch-0", Result: json.RawMessage(`{}`), CompletedAt: done},
	}, nil)

	rec := f.do(http.MethodGet, "/api/runs/run-1", "", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	detail := decodeBody[RunDetail](t, rec)
	assert.Equal(t, model.RunStateSending, detail.Run.State)
	require.Len(t, detail.Steps, 2)
	assert.Equal(t, "resolve-time", detail.Steps[0].Key)
	assert.NotContains(t, rec.Body.String(), `"result"`)
}

func TestRunGet_NotFound(t *testing.T) {
	f := newRouterFixture(t)
	f.repo.EXPECT().GetByID(gomock.Any(), "missing").Return(nil, apperrors.NotFound("run not found"))

	rec := f.do(http.MethodGet, "/api/runs/missing", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[map[string]string](t, rec)["error"])
}

func TestRunList(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		check    func(t *testing.T, opts model.RunListOptions)
		wantCode int
	}{
		{
			name:  "defaults",
			query: "",
			check: func(t *testing.T, opts model.RunListOptions) {
				assert.Equal(t, defaultRunListLimit, opts.Limit)
				assert.Zero(t, opts.Offset)
				assert.Nil(t, opts.EventID)
			},
			wantCode: http.StatusOK,
		},
		{
			name:  "filters",
			query: "?event_id=evt-1&kind=broadcast&state=completed&limit=10&offset=20",
			check: func(t *testing.T, opts model.RunListOptions) {
				require.NotNil(t, opts.EventID)
				assert.Equal(t, "evt-1", *opts.EventID)
				require.NotNil(t, opts.Kind)
				assert.Equal(t, model.RunKindBroadcast, *opts.Kind)
				require.NotNil(t, opts.State)
				assert.Equal(t, model.RunStateCompleted, *opts.State)
				assert.Equal(t, 10, opts.Limit)
				assert.Equal(t, 20, opts.Offset)
			},
			wantCode: http.StatusOK,
		},
		{
			name:  "limit clamped",
			query: "?limit=100000&offset=-5",
			check: func(t *testing.T, opts model.RunListOptions) {
				assert.Equal(t, maxRunListLimit, opts.Limit)
				assert.Zero(t, opts.Offset)
			},
			wantCode: http.StatusOK,
		},
		{name: "bad kind", query: "?kind=sms", wantCode: http.StatusBadRequest},
		{name: "bad state", query: "?state=paused", wantCode: http.StatusBadRequest},
		{name: "bad limit", query: "?limit=ten", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			if tt.check != nil {
				f.repo.EXPECT().List(gomock.Any(), gomock.Any()).DoAndReturn(
					func(_ any, opts model.RunListOptions) ([]*model.NotificationRun, error) {
						tt.check(t, opts)
						return nil, nil
					})
			}

			rec := f.do(http.MethodGet, "/api/runs"+tt.query, "", nil)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				assert.Contains(t, rec.Body.String(), `"runs":[]`)
			}
		})
	}
}

func TestRunStats(t *testing.T) {
	f := newRouterFixture(t)
	f.repo.EXPECT().Stats(gomock.Any()).Return(&model.RunStats{Waiting: 4, Completed: 12, Failed: 1}, nil)

	rec := f.do(http.MethodGet, "/api/runs/stats", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[model.RunStats](t, rec)
	assert.EqualValues(t, 4, stats.Waiting)
	assert.EqualValues(t, 12, stats.Completed)
}
