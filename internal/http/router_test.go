package httpx

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/appointflow/notifier/internal/domain/model"
	"github.com/appointflow/notifier/internal/mocks"
	"github.com/appointflow/notifier/internal/observability/metrics"
	"github.com/appointflow/notifier/internal/service"
)

type routerFixture struct {
	handler http.Handler
	repo    *mocks.MockRunRepository
	steps   *mocks.MockStepStore
	created []*model.CreateRunRequest
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &routerFixture{
		repo:  mocks.NewMockRunRepository(ctrl),
		steps: mocks.NewMockStepStore(ctrl),
	}

	triggers, err := service.NewTriggerService(service.TriggerServiceOptions{Runs: f.repo, MaxAttempts: 5})
	require.NoError(t, err)
	runs, err := service.NewRunService(service.RunServiceOptions{
		Repo:         f.repo,
		Steps:        f.steps,
		DefaultLease: time.Minute,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	f.handler = NewRouter(RouterServices{
		Triggers:     triggers,
		Runs:         runs,
		FrontendURL:  "https://app.example.com/",
		MaxBodyBytes: 1 << 16,
		Metrics:      metrics.NewRecorder(metrics.NewCollectors(reg), nil),
		Gatherer:     reg,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

// expectCreates accepts every Create and echoes the request back as a pending run.
func (f *routerFixture) expectCreates(times int) {
	f.repo.EXPECT().Create(gomock.Any(), gomock.Any()).Times(times).DoAndReturn(
		func(_ context.Context, req *model.CreateRunRequest) (*model.NotificationRun, bool, error) {
			f.created = append(f.created, req)
			run := &model.NotificationRun{
				ID:          "run-" + string(req.Kind),
				Kind:        req.Kind,
				State:       model.RunStatePending,
				EventID:     req.EventSnapshot.ID,
				MaxAttempts: req.MaxAttempts,
			}
			if req.DedupeKey != "" {
				key := req.DedupeKey
				run.DedupeKey = &key
			}
			return run, true, nil
		})
}

func (f *routerFixture) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(http.MethodHead, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newRouterFixture(t)
	f.do(http.MethodGet, "/healthz", "", nil)

	rec := f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",route="GET /healthz",status="200"} 1`)
}

func TestBodyLimit(t *testing.T) {
	f := newRouterFixture(t)
	big := `{"data":{"pad":"` + strings.Repeat("x", 1<<17) + `"}}`

	rec := f.do(http.MethodPost, "/api/triggers/broadcast", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	h := Recover(slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
