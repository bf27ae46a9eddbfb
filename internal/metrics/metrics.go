// Package metrics exposes Prometheus counters for streams, voice intents and
// proposal request submissions. A nil *Metrics records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bidstream"

// Stream outcomes
const (
	OutcomeComplete = "complete"
	OutcomeError    = "error"
)

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	streamsStarted  *prometheus.CounterVec
	streamsFinished *prometheus.CounterVec
	streamChunks    *prometheus.CounterVec
	streamsActive   prometheus.Gauge
	voiceIntents    *prometheus.CounterVec
	submissions     *prometheus.CounterVec
}

// New creates the collectors and registers them together with the Go and
// process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		streamsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_started_total",
				Help:      "Total number of text streams started",
			},
			[]string{"procedure"},
		),
		streamsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_finished_total",
				Help:      "Total number of text streams finished",
			},
			[]string{"procedure", "outcome"}, // outcome: complete, error
		),
		streamChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_chunks_total",
				Help:      "Total number of text chunks produced",
			},
			[]string{"procedure"},
		),
		streamsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "streams_active",
				Help:      "Number of text streams currently producing",
			},
		),
		voiceIntents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "voice_intents_total",
				Help:      "Total number of resolved voice intents",
			},
			[]string{"role", "intent"}, // intent "none" when nothing matched
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proposal_request_submissions_total",
				Help:      "Total number of proposal request submissions",
			},
			[]string{"outcome"}, // outcome: completed, compensated, failed
		),
	}

	m.registry.MustRegister(
		m.streamsStarted,
		m.streamsFinished,
		m.streamChunks,
		m.streamsActive,
		m.voiceIntents,
		m.submissions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StreamStarted counts a new stream of procedure
func (m *Metrics) StreamStarted(procedure string) {
	if m == nil {
		return
	}
	m.streamsStarted.WithLabelValues(procedure).Inc()
	m.streamsActive.Inc()
}

// StreamChunk counts one produced chunk
func (m *Metrics) StreamChunk(procedure string) {
	if m == nil {
		return
	}
	m.streamChunks.WithLabelValues(procedure).Inc()
}

// StreamFinished counts a finished stream
func (m *Metrics) StreamFinished(procedure, outcome string) {
	if m == nil {
		return
	}
	m.streamsFinished.WithLabelValues(procedure, outcome).Inc()
	m.streamsActive.Dec()
}

// VoiceIntent counts a resolved voice intent
func (m *Metrics) VoiceIntent(role, intent string) {
	if m == nil {
		return
	}
	if intent == "" {
		intent = "none"
	}
	m.voiceIntents.WithLabelValues(role, intent).Inc()
}

// Submission counts a finished proposal request submission
func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}
