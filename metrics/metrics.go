package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeSuperseded = "superseded"
	OutcomeAbandoned  = "abandoned"
)

// Recorder is what the session service reports to.
type Recorder interface {
	RecordOperation(op, outcome string, duration time.Duration)
	RecordFanout(event string, listeners int)
	RecordPersistFailure(action string)
	RecordSignedIn(signedIn bool)
}

// Nop discards everything.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordOperation(string, string, time.Duration) {}
func (Nop) RecordFanout(string, int)                      {}
func (Nop) RecordPersistFailure(string)                   {}
func (Nop) RecordSignedIn(bool)                           {}

// Collector records to Prometheus.
type Collector struct {
	operations      *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	fanout          *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	signedIn        prometheus.Gauge
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_session_operations_total",
			Help: "Session operations by kind and outcome",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auth_session_operation_seconds",
			Help:    "Time from operation start until the provider resolved it",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		fanout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_session_listener_invocations_total",
			Help: "Listener callbacks invoked by event",
		}, []string{"event"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_session_persist_failures_total",
			Help: "Failed writes to the persistence backend",
		}, []string{"action"}),
		signedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auth_session_signed_in",
			Help: "1 while a session is held",
		}),
	}

	reg.MustRegister(c.operations, c.latency, c.fanout, c.persistFailures, c.signedIn)
	return c
}

func (c *Collector) RecordOperation(op, outcome string, duration time.Duration) {
	c.operations.WithLabelValues(op, outcome).Inc()
	c.latency.WithLabelValues(op).Observe(duration.Seconds())
}

func (c *Collector) RecordFanout(event string, listeners int) {
	c.fanout.WithLabelValues(event).Add(float64(listeners))
}

func (c *Collector) RecordPersistFailure(action string) {
	c.persistFailures.WithLabelValues(action).Inc()
}

func (c *Collector) RecordSignedIn(signedIn bool) {
	if signedIn {
		c.signedIn.Set(1)
		return
	}
	c.signedIn.Set(0)
}

// Handler serves the metrics in gatherer for scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
