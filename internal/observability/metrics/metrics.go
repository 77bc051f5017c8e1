// Package metrics records run, dispatch, trigger, and HTTP metrics to Prometheus collectors and an
// optional StatsD sink. A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	obserrors "github.com/appointflow/notifier/internal/observability/errors"
	"github.com/appointflow/notifier/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Recorder fans metrics out to Prometheus and StatsD.
type Recorder struct {
	prom *Collectors
	sink statsd.Sink
}

// NewRecorder combines Prometheus collectors and a StatsD sink; either may be nil.
func NewRecorder(prom *Collectors, sink statsd.Sink) *Recorder {
	return &Recorder{prom: prom, sink: sink}
}

// Collectors returns the Prometheus collectors, or nil.
func (r *Recorder) Collectors() *Collectors {
	if r == nil {
		return nil
	}
	return r.prom
}

// RunMetric captures one run state transition.
type RunMetric struct {
	Kind       string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// RunTransition records a run lifecycle transition.
func (r *Recorder) RunTransition(in RunMetric) {
	if r == nil {
		return
	}
	if r.prom != nil {
		r.prom.RunTransitions.WithLabelValues(in.Kind, in.Transition, in.Result).Inc()
		if in.Duration > 0 {
			r.prom.RunDuration.WithLabelValues(in.Kind, in.Transition).Observe(in.Duration.Seconds())
		}
	}
	if r.sink == nil {
		return
	}
	tags := map[string]string{
		"kind":       in.Kind,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}
	r.sink.Count("run.transition", 1, tags)
	if in.Duration > 0 {
		r.sink.Timing("run.duration", in.Duration, CloneTags(tags))
	}
}

// DispatchMetric captures one per-recipient send.
type DispatchMetric struct {
	Kind     string
	Provider string
	Status   string
	Duration time.Duration
}

// Dispatch records a dispatch outcome.
func (r *Recorder) Dispatch(in DispatchMetric) {
	if r == nil {
		return
	}
	if r.prom != nil {
		r.prom.Dispatches.WithLabelValues(in.Kind, in.Status, in.Provider).Inc()
		if in.Duration > 0 {
			r.prom.DispatchDuration.WithLabelValues(in.Provider).Observe(in.Duration.Seconds())
		}
	}
	if r.sink == nil {
		return
	}
	tags := map[string]string{"kind": in.Kind, "status": in.Status, "provider": in.Provider}
	r.sink.Count("dispatch.result", 1, tags)
	if in.Duration > 0 {
		r.sink.Timing("dispatch.duration", in.Duration, CloneTags(tags))
	}
}

// Batch records a completed batch. Replayed batches come from the step memo.
func (r *Recorder) Batch(kind string, size int, replayed bool) {
	if r == nil {
		return
	}
	source := "dispatched"
	if replayed {
		source = "replayed"
	}
	if r.prom != nil {
		r.prom.Batches.WithLabelValues(kind, source).Inc()
	}
	if r.sink != nil {
		r.sink.Count("batch.completed", 1, map[string]string{"kind": kind, "source": source})
		r.sink.Gauge("batch.size", float64(size), map[string]string{"kind": kind})
	}
}

// Trigger records an accepted or rejected trigger.
func (r *Recorder) Trigger(name, result string, runs int) {
	if r == nil {
		return
	}
	if r.prom != nil {
		r.prom.Triggers.WithLabelValues(name, result).Inc()
	}
	if r.sink != nil {
		tags := map[string]string{"trigger": name, "result": result}
		r.sink.Count("trigger.accepted", 1, tags)
		if runs > 0 {
			r.sink.Count("trigger.runs_created", int64(runs), CloneTags(tags))
		}
	}
}

// HTTPRequest records one served request.
func (r *Recorder) HTTPRequest(route, method string, status int, d time.Duration) {
	if r == nil || r.prom == nil {
		return
	}
	r.prom.observeHTTP(route, method, status, d)
}

// KafkaMessage records a consumed or published Kafka message.
func (r *Recorder) KafkaMessage(topic, direction, result string) {
	if r == nil {
		return
	}
	if r.prom != nil {
		r.prom.KafkaMessages.WithLabelValues(topic, direction, result).Inc()
	}
	if r.sink != nil {
		r.sink.Count("kafka.message", 1, map[string]string{
			"topic": topic, "direction": direction, "result": result,
		})
	}
}

// Reaper records one reaper operation.
func (r *Recorder) Reaper(operation string, count int64, err error, d time.Duration) {
	if r == nil {
		return
	}
	result := ResultSuccess
	switch {
	case err != nil:
		result = ResultError
	case count == 0:
		result = ResultNoop
	}
	if r.prom != nil {
		r.prom.ReaperRows.WithLabelValues(operation, result).Add(float64(count))
	}
	if r.sink == nil {
		return
	}
	tags := map[string]string{"operation": operation, "result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	r.sink.Count("reaper.cleanup_operation", 1, tags)
	if count > 0 {
		r.sink.Count("reaper.rows_processed", count, CloneTags(tags))
	}
	if d > 0 {
		r.sink.Timing("reaper.cleanup_duration", d, CloneTags(tags))
	}
	if err == nil {
		r.sink.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
