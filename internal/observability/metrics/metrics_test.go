package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appointflow/notifier/internal/observability/statsd"
)

func TestRecorder_FansOut(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := &statsd.Recorder{}
	rec := NewRecorder(NewCollectors(reg), sink)

	rec.RunTransition(RunMetric{Kind: "broadcast", Transition: "completed", Result: ResultSuccess, Duration: time.Second})
	rec.RunTransition(RunMetric{Kind: "broadcast", Transition: "failed", Result: ResultError, Err: errors.New("x")})
	rec.Dispatch(DispatchMetric{Kind: "broadcast", Provider: "log", Status: "sent", Duration: time.Millisecond})
	rec.Batch("broadcast", 50, false)
	rec.Trigger("broadcast", ResultSuccess, 1)
	rec.HTTPRequest("/api/triggers/{name}", "POST", 202, time.Millisecond)

	c := rec.Collectors()
	assert.InDelta(t, 1, testutil.ToFloat64(c.RunTransitions.WithLabelValues("broadcast", "completed", ResultSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.Dispatches.WithLabelValues("broadcast", "sent", "log")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/api/triggers/{name}", "202", "POST")), 0)

	assert.InDelta(t, 2, sink.Total("run.transition"), 0)
	failed := sink.Samples("run.transition")[1]
	assert.Equal(t, "errors_errorstring", failed.Tags["error_class"])
	assert.Len(t, sink.Samples("batch.size"), 1)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRecorder_NilSafe(t *testing.T) {
	var rec *Recorder
	rec.RunTransition(RunMetric{})
	rec.Dispatch(DispatchMetric{})
	rec.Batch("k", 1, true)
	rec.Trigger("t", ResultError, 0)
	rec.HTTPRequest("/", "GET", 200, 0)
	rec.KafkaMessage("topic", "in", ResultSuccess)
	rec.Reaper("delete_steps", 0, nil, 0)
	assert.Nil(t, rec.Collectors())

	NewRecorder(nil, nil).Dispatch(DispatchMetric{Kind: "k"})
}
