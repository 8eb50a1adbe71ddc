package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tick results
const (
	TickPublished = "published"
	TickFailed    = "failed"
	TickSkipped   = "skipped"
)

// AgentMetrics instruments a telemetry agent.
type AgentMetrics struct {
	Ticks           *prometheus.CounterVec
	BlockedSamples  prometheus.Counter
	Peers           prometheus.Gauge
	CollectDuration prometheus.Histogram
	LogLines        prometheus.Counter
}

// NewAgentMetrics registers agent metrics with reg. A nil reg leaves the
// collectors unregistered.
func NewAgentMetrics(reg prometheus.Registerer) *AgentMetrics {
	factory := promauto.With(reg)
	return &AgentMetrics{
		Ticks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "healthdash",
				Subsystem: "agent",
				Name:      "ticks_total",
				Help:      "Timer ticks partitioned by outcome.",
			},
			[]string{"result"},
		),
		BlockedSamples: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "healthdash",
				Subsystem: "agent",
				Name:      "blocked_samples_total",
				Help:      "Samples whose high-water delay exceeded the blocked threshold.",
			},
		),
		Peers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "healthdash",
				Subsystem: "agent",
				Name:      "peers",
				Help:      "Currently connected viewer peers.",
			},
		),
		CollectDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "healthdash",
				Subsystem: "agent",
				Name:      "collect_duration_seconds",
				Help:      "Duration of one sample collection.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
			},
		),
		LogLines: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "healthdash",
				Subsystem: "agent",
				Name:      "log_lines_total",
				Help:      "Log lines forwarded to peers.",
			},
		),
	}
}

// RecordTick counts a tick outcome.
func (m *AgentMetrics) RecordTick(result string) {
	m.Ticks.WithLabelValues(result).Inc()
}

// RecordCollect observes a collection duration.
func (m *AgentMetrics) RecordCollect(d time.Duration) {
	m.CollectDuration.Observe(d.Seconds())
}

// ProviderMetrics instruments a metrics provider.
type ProviderMetrics struct {
	SamplesReceived prometheus.Counter
	LogsReceived    prometheus.Counter
	DecodeErrors    prometheus.Counter
	Reconnects      prometheus.Counter
	Connected       prometheus.Gauge
	WindowSamples   prometheus.Gauge
}

// NewProviderMetrics registers provider metrics with reg. A nil reg leaves
// the collectors unregistered.
func NewProviderMetrics(reg prometheus.Registerer) *ProviderMetrics {
	factory := promauto.With(reg)
	return &ProviderMetrics{
		SamplesReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "healthdash",
				Subsystem: "provider",
				Name:      "samples_received_total",
				Help:      "Samples decoded and stored.",
			},
		),
		LogsReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "healthdash",
				Subsystem: "provider",
				Name:      "log_lines_received_total",
				Help:      "Log lines decoded and stored.",
			},
		),
		DecodeErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "healthdash",
				Subsystem: "provider",
				Name:      "decode_errors_total",
				Help:      "Messages dropped because they could not be decoded.",
			},
		),
		Reconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "healthdash",
				Subsystem: "provider",
				Name:      "reconnects_total",
				Help:      "Successful connections after the first one.",
			},
		),
		Connected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "healthdash",
				Subsystem: "provider",
				Name:      "connected",
				Help:      "1 while the channel to the agent is up.",
			},
		),
		WindowSamples: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "healthdash",
				Subsystem: "provider",
				Name:      "window_samples",
				Help:      "Samples currently held in the rolling window.",
			},
		),
	}
}

// SetConnected flips the connected gauge.
func (m *ProviderMetrics) SetConnected(up bool) {
	if up {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}
