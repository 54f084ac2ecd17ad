package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Bridge metrics
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	PendingRequests  prometheus.Gauge
	RequestDuration  *prometheus.HistogramVec
	HandlerErrors    *prometheus.CounterVec

	// Hub metrics
	HubConnections prometheus.Gauge
	HubFrames      *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewMetrics registers the collectors on reg. Use a fresh prometheus.NewRegistry
// per bridge in tests; production passes prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{startTime: time.Now()}

	m.MessagesSent = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_messages_sent_total",
			Help: "Envelopes handed to the transport",
		},
		[]string{"kind"},
	)
	m.MessagesReceived = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_messages_received_total",
			Help: "Inbound envelopes accepted after origin and structure checks",
		},
		[]string{"kind"},
	)
	m.MessagesDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_messages_dropped_total",
			Help: "Inbound messages discarded before reaching application code",
		},
		[]string{"reason"},
	)
	m.PendingRequests = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_pending_requests",
			Help: "Requests awaiting a correlated response",
		},
	)
	m.RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_request_duration_seconds",
			Help:    "Time from send to settlement of requests expecting a response",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)
	m.HandlerErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_handler_errors_total",
			Help: "Handler failures, by message type",
		},
		[]string{"type"},
	)
	m.HubConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_hub_connections",
			Help: "Open relay connections",
		},
	)
	m.HubFrames = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_hub_frames_total",
			Help: "Frames relayed by the hub",
		},
		[]string{"direction"},
	)
	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "bridge_uptime_seconds",
			Help: "Seconds since the metrics collector started",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordSent counts an outbound envelope; kind is request, notify or response
func (m *Metrics) RecordSent(kind string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(kind).Inc()
}

// RecordReceived counts an accepted inbound envelope
func (m *Metrics) RecordReceived(kind string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

// RecordDropped counts a discarded inbound message
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

// SetPending sets the number of pending requests
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}

// RecordSettled observes how a request ended and how long it took
func (m *Metrics) RecordSettled(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordHandlerError counts a failing handler
func (m *Metrics) RecordHandlerError(msgType string) {
	if m == nil {
		return
	}
	if msgType == "" {
		msgType = "fallback"
	}
	m.HandlerErrors.WithLabelValues(msgType).Inc()
}

// IncHubConnections increments relay connections
func (m *Metrics) IncHubConnections() {
	if m == nil {
		return
	}
	m.HubConnections.Inc()
}

// DecHubConnections decrements relay connections
func (m *Metrics) DecHubConnections() {
	if m == nil {
		return
	}
	m.HubConnections.Dec()
}

// RecordHubFrame counts a relayed frame; direction is in, out or dropped
func (m *Metrics) RecordHubFrame(direction string) {
	if m == nil {
		return
	}
	m.HubFrames.WithLabelValues(direction).Inc()
}
