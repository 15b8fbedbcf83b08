// Package metrics exposes Prometheus instrumentation for chat turns.
//
// All methods are safe to call on a nil *Chat, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "codechat"
	subsystem = "streaming"
)

// Turn modes.
const (
	ModeStream   = "stream"
	ModeBlocking = "blocking"
)

// Turn outcomes.
const (
	OutcomeCompleted    = "completed"
	OutcomeProviderErr  = "provider_error"
	OutcomeDisconnected = "client_disconnect"
)

// Chat holds the chat pipeline collectors.
type Chat struct {
	TurnsTotal             *prometheus.CounterVec
	DeltasTotal            prometheus.Counter
	TokensTotal            *prometheus.CounterVec
	TimeToFirstDelta       prometheus.Histogram
	StreamDurationSeconds  *prometheus.HistogramVec
	ActiveStreams          prometheus.Gauge
	ClientDisconnectsTotal prometheus.Counter
	PersistFailuresTotal   prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Chat {
	f := promauto.With(reg)
	return &Chat{
		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "turns_total",
			Help:      "Chat turns by mode and outcome.",
		}, []string{"mode", "outcome"}),

		DeltasTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "deltas_total",
			Help:      "Content frames forwarded to clients.",
		}),

		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tokens_total",
			Help:      "Tokens processed by direction and model.",
		}, []string{"direction", "model"}),

		TimeToFirstDelta: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "time_to_first_delta_seconds",
			Help:      "Time from stream start to the first content frame.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}),

		StreamDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stream_duration_seconds",
			Help:      "Total stream duration by outcome.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_streams",
			Help:      "Streams currently in flight.",
		}),

		ClientDisconnectsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "client_disconnects_total",
			Help:      "Streams abandoned because the client went away.",
		}),

		PersistFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "persist_failures_total",
			Help:      "Completed replies that could not be stored.",
		}),
	}
}

func (m *Chat) RecordTurn(mode, outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(mode, outcome).Inc()
}

func (m *Chat) RecordDelta() {
	if m == nil {
		return
	}
	m.DeltasTotal.Inc()
}

func (m *Chat) RecordTokens(model string, input, output int) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("input", model).Add(float64(input))
	m.TokensTotal.WithLabelValues("output", model).Add(float64(output))
}

func (m *Chat) RecordTimeToFirstDelta(d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstDelta.Observe(d.Seconds())
}

// StreamStarted marks a stream in flight and returns the func that ends it.
func (m *Chat) StreamStarted() func(outcome string, d time.Duration) {
	if m == nil {
		return func(string, time.Duration) {}
	}
	m.ActiveStreams.Inc()
	return func(outcome string, d time.Duration) {
		m.ActiveStreams.Dec()
		m.StreamDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

func (m *Chat) RecordClientDisconnect() {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.Inc()
}

func (m *Chat) RecordPersistFailure() {
	if m == nil {
		return
	}
	m.PersistFailuresTotal.Inc()
}
