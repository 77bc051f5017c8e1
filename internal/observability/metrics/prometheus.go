package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors holds the Prometheus series exported at /metrics.
type Collectors struct {
	RunTransitions   *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	Dispatches       *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	Batches          *prometheus.CounterVec
	Triggers         *prometheus.CounterVec
	KafkaMessages    *prometheus.CounterVec
	ReaperRows       *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// NewCollectors builds the collectors and registers them with reg when it is not nil.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		RunTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_run_transitions_total",
			Help: "Run state transitions by kind and result",
		}, []string{"kind", "transition", "result"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_run_step_duration_seconds",
			Help:    "Time spent executing a run up to the transition",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "transition"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_attempted_total",
			Help: "Per-recipient dispatch attempts",
		}, []string{"kind", "status", "provider"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_send_duration_seconds",
			Help:    "Time taken to hand a message to the email provider",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_batches_total",
			Help: "Completed batches, dispatched or replayed from the step memo",
		}, []string{"kind", "source"}),
		Triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_triggers_total",
			Help: "Inbound triggers by name and result",
		}, []string{"trigger", "result"}),
		KafkaMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_messages_total",
			Help: "Kafka messages consumed or published",
		}, []string{"topic", "direction", "result"}),
		ReaperRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reaper_rows_total",
			Help: "Rows touched by reaper operations",
		}, []string{"operation", "result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests received",
		}, []string{"route", "status", "method"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	if reg != nil {
		reg.MustRegister(
			c.RunTransitions, c.RunDuration, c.Dispatches, c.DispatchDuration, c.Batches,
			c.Triggers, c.KafkaMessages, c.ReaperRows, c.HTTPRequests, c.HTTPDuration,
		)
	}
	return c
}

func (c *Collectors) observeHTTP(route, method string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(route, strconv.Itoa(status), method).Inc()
	c.HTTPDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
