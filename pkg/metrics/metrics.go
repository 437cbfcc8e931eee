package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for webstream
type Metrics struct {
	// Probe metrics
	ProbeAttemptsTotal *prometheus.CounterVec
	ProbeRunsTotal     *prometheus.CounterVec

	// Listener metrics
	ListenerEventsTotal prometheus.Counter
	ListenerConnected   prometheus.Gauge
	ListenerErrorsTotal *prometheus.CounterVec

	// Stream server metrics
	ServerClients         prometheus.Gauge
	ServerEventsPublished prometheus.Counter
	ServerEventsDropped   prometheus.Counter
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		ProbeAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webstream_probe_attempts_total",
				Help: "Total number of probe attempts by result",
			},
			[]string{"result"},
		),
		ProbeRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webstream_probe_runs_total",
				Help: "Total number of probe runs by outcome",
			},
			[]string{"outcome"},
		),

		ListenerEventsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webstream_listener_events_total",
				Help: "Total number of events received by the listener",
			},
		),
		ListenerConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webstream_listener_connected",
				Help: "Whether the listener stream is currently connected",
			},
		),
		ListenerErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webstream_listener_errors_total",
				Help: "Total number of listener stream errors",
			},
			[]string{"kind"},
		),

		ServerClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webstream_server_clients",
				Help: "Number of connected stream subscribers",
			},
		),
		ServerEventsPublished: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webstream_server_events_published_total",
				Help: "Total number of events published to subscribers",
			},
		),
		ServerEventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webstream_server_events_dropped_total",
				Help: "Total number of events dropped for slow subscribers",
			},
		),
	}
}

// RecordProbeAttempt records the result of one probe attempt
func (m *Metrics) RecordProbeAttempt(result string) {
	if m == nil {
		return
	}
	m.ProbeAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordProbeRun records the outcome of a probe run
func (m *Metrics) RecordProbeRun(outcome string) {
	if m == nil {
		return
	}
	m.ProbeRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordListenerEvent records one event received by the listener
func (m *Metrics) RecordListenerEvent() {
	if m == nil {
		return
	}
	m.ListenerEventsTotal.Inc()
}

// SetListenerConnected records the listener connection state
func (m *Metrics) SetListenerConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.ListenerConnected.Set(1)
	} else {
		m.ListenerConnected.Set(0)
	}
}

// RecordListenerError records a listener error; kind is "lost" or "connect"
func (m *Metrics) RecordListenerError(kind string) {
	if m == nil {
		return
	}
	m.ListenerErrorsTotal.WithLabelValues(kind).Inc()
}

// SetServerClients records the number of connected subscribers
func (m *Metrics) SetServerClients(n int) {
	if m == nil {
		return
	}
	m.ServerClients.Set(float64(n))
}

// RecordServerPublish records one published event and how many subscribers
// it could not be delivered to
func (m *Metrics) RecordServerPublish(dropped int) {
	if m == nil {
		return
	}
	m.ServerEventsPublished.Inc()
	if dropped > 0 {
		m.ServerEventsDropped.Add(float64(dropped))
	}
}
