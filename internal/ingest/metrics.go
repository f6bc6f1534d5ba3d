package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors of one or more pipelines.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	deliveries   prometheus.Counter
	acked        prometheus.Counter
	requeued     prometheus.Counter
	redelivered  prometheus.Counter
	failures     *prometheus.CounterVec
	sinkDuration prometheus.Histogram
	state        prometheus.Gauge
}

// NewMetrics creates the pipeline collectors and registers them with reg.
//
// Parameters:
//   - reg: Registry to register with (prometheus.DefaultRegisterer in
//     production, a fresh prometheus.NewRegistry() in tests)
//
// Returns:
//   - *Metrics: Ready to pass in Options.Metrics
//   - error: If a collector with the same name is already registered
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ssds",
			Subsystem: "ingest",
			Name:      "deliveries_total",
			Help:      "Deliveries received from the broker.",
		}),
		acked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ssds",
			Subsystem: "ingest",
			Name:      "acked_total",
			Help:      "Deliveries written to the sink and acknowledged.",
		}),
		requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ssds",
			Subsystem: "ingest",
			Name:      "requeued_total",
			Help:      "Failed deliveries negatively acknowledged with requeue.",
		}),
		redelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ssds",
			Subsystem: "ingest",
			Name:      "redelivered_total",
			Help:      "Deliveries the broker flagged as redelivered.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ssds",
			Subsystem: "ingest",
			Name:      "failures_total",
			Help:      "Deliveries left unacknowledged, by failing stage.",
		}, []string{"stage"}),
		sinkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ssds",
			Subsystem: "ingest",
			Name:      "sink_duration_seconds",
			Help:      "Time spent writing one packet to the sink.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ssds",
			Subsystem: "ingest",
			Name:      "pipeline_state",
			Help:      "Current pipeline state (0 idle .. 5 closed, 6 faulted).",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.deliveries, m.acked, m.requeued, m.redelivered, m.failures, m.sinkDuration, m.state,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) delivery(redelivered bool) {
	if m == nil {
		return
	}
	m.deliveries.Inc()
	if redelivered {
		m.redelivered.Inc()
	}
}

func (m *Metrics) ack() {
	if m != nil {
		m.acked.Inc()
	}
}

func (m *Metrics) requeue() {
	if m != nil {
		m.requeued.Inc()
	}
}

func (m *Metrics) failure(stage Stage) {
	if m != nil {
		m.failures.WithLabelValues(string(stage)).Inc()
	}
}

func (m *Metrics) sinkWrite(d time.Duration) {
	if m != nil {
		m.sinkDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}
