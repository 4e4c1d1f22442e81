package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace   = "memchat"
	streamingSubsystem = "streaming"
)

// Stream outcomes used as the status label.
const (
	StatusCompleted    = "completed"
	StatusAborted      = "aborted"
	StatusRejected     = "rejected"
	StatusDisconnected = "disconnected"
)

// StreamingMetrics tracks token streams per transport ("http", "ws").
// A nil *StreamingMetrics records nothing.
type StreamingMetrics struct {
	RequestsTotal           *prometheus.CounterVec
	TokensTotal             *prometheus.CounterVec
	TimeToFirstTokenSeconds *prometheus.HistogramVec
	StreamDurationSeconds   *prometheus.HistogramVec
	ActiveStreams           *prometheus.GaugeVec
	ErrorsTotal             *prometheus.CounterVec
	ClientDisconnectsTotal  *prometheus.CounterVec
}

// NewStreamingMetrics registers the collectors with reg.
func NewStreamingMetrics(reg prometheus.Registerer) *StreamingMetrics {
	factory := promauto.With(reg)
	return &StreamingMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "requests_total",
				Help:      "Total number of chat turn requests by transport and outcome",
			},
			[]string{"transport", "status"},
		),
		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "tokens_total",
				Help:      "Total tokens relayed to clients",
			},
			[]string{"transport"},
		),
		TimeToFirstTokenSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first relayed token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"transport"},
		),
		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"transport", "status"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of streams currently relaying tokens",
			},
			[]string{"transport"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "errors_total",
				Help:      "Total streaming errors by kind (validation, prepare, generation)",
			},
			[]string{"transport", "kind"},
		),
		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Streams abandoned by the client before the end",
			},
			[]string{"transport"},
		),
	}
}

// StreamTracker records one stream's lifecycle.
type StreamTracker struct {
	m         *StreamingMetrics
	transport string
	started   time.Time
	firstSeen bool
}

// Begin starts tracking a stream that has been accepted.
func (m *StreamingMetrics) Begin(transport string) *StreamTracker {
	if m != nil {
		m.ActiveStreams.WithLabelValues(transport).Inc()
	}
	return &StreamTracker{m: m, transport: transport, started: time.Now()}
}

// Rejected counts a request that failed before a stream was opened.
func (m *StreamingMetrics) Rejected(transport, kind string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(transport, StatusRejected).Inc()
	m.ErrorsTotal.WithLabelValues(transport, kind).Inc()
}

// Token counts one relayed token.
func (t *StreamTracker) Token() {
	if t.m == nil {
		return
	}
	if !t.firstSeen {
		t.firstSeen = true
		t.m.TimeToFirstTokenSeconds.WithLabelValues(t.transport).Observe(time.Since(t.started).Seconds())
	}
	t.m.TokensTotal.WithLabelValues(t.transport).Inc()
}

// End closes the stream with one of the Status* outcomes.
func (t *StreamTracker) End(status string) {
	if t.m == nil {
		return
	}
	t.m.ActiveStreams.WithLabelValues(t.transport).Dec()
	t.m.RequestsTotal.WithLabelValues(t.transport, status).Inc()
	t.m.StreamDurationSeconds.WithLabelValues(t.transport, status).Observe(time.Since(t.started).Seconds())
	switch status {
	case StatusAborted:
		t.m.ErrorsTotal.WithLabelValues(t.transport, "generation").Inc()
	case StatusDisconnected:
		t.m.ClientDisconnectsTotal.WithLabelValues(t.transport).Inc()
	}
}
