// Package metrics exposes the interpreter's prometheus instrumentation.
// Collectors are registered on a per-instance registry so parallel tests
// never collide on the default registerer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsStopped  *prometheus.CounterVec
	AudioChunks      prometheus.Counter
	AudioBytes       prometheus.Counter
	UpstreamEvents   *prometheus.CounterVec
	UpstreamDrops    prometheus.Counter
	Translations     prometheus.Counter
	TranslationFails prometheus.Counter
	TurnDuration     prometheus.Histogram
	WebhookDelivery  *prometheus.CounterVec
}

// New builds the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "interpreter_sessions_active",
			Help: "Number of live interpreter sessions.",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "interpreter_sessions_started_total",
			Help: "Total sessions accepted.",
		}),
		SessionsStopped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "interpreter_sessions_stopped_total",
			Help: "Total sessions stopped, by reason.",
		}, []string{"reason"}),
		AudioChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "interpreter_audio_chunks_received_total",
			Help: "Total client audio chunks received.",
		}),
		AudioBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "interpreter_audio_bytes_received_total",
			Help: "Total client audio bytes received.",
		}),
		UpstreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "interpreter_upstream_events_total",
			Help: "Total upstream provider events, by event type.",
		}, []string{"type"}),
		UpstreamDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "interpreter_upstream_disconnects_total",
			Help: "Total unexpected upstream channel closures.",
		}),
		Translations: factory.NewCounter(prometheus.CounterOpts{
			Name: "interpreter_translations_total",
			Help: "Total finalized translation turns.",
		}),
		TranslationFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "interpreter_translation_failures_total",
			Help: "Total translation turns that failed or were discarded.",
		}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "interpreter_turn_duration_seconds",
			Help:    "Time from finalized transcript to finalized translation.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		WebhookDelivery: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "interpreter_webhook_deliveries_total",
			Help: "Total completion webhook deliveries, by outcome.",
		}, []string{"outcome"}),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Stop reason labels.
const (
	StopReasonClient     = "client"
	StopReasonTimeout    = "timeout"
	StopReasonDisconnect = "disconnect"
	StopReasonHeartbeat  = "heartbeat"
)

// Webhook outcome labels.
const (
	OutcomeOk     = "ok"
	OutcomeFailed = "failed"
)
