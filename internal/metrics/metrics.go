// Package metrics exports Prometheus metrics for turns, tool calls and sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	toolCalls      *prometheus.CounterVec
	toolLatency    *prometheus.HistogramVec
	turns          *prometheus.CounterVec
	activeSessions prometheus.Gauge
	geocodeCache   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitechat",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "status"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bitechat",
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"tool"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitechat",
			Name:      "turns_total",
			Help:      "Completed agent turns by outcome.",
		}, []string{"outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bitechat",
			Name:      "sessions_active",
			Help:      "Sessions currently held in memory.",
		}),
		geocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitechat",
			Name:      "geocode_cache_lookups_total",
			Help:      "Geocode cache lookups by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.toolCalls, m.toolLatency, m.turns, m.activeSessions, m.geocodeCache)
	return m
}

// ObserveTool records one tool invocation.
func (m *Metrics) ObserveTool(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveTurn records a finished turn. outcome is "answered" or "degraded".
func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

// TurnCounter exposes the turn counter for one outcome.
func (m *Metrics) TurnCounter(outcome string) prometheus.Counter {
	return m.turns.WithLabelValues(outcome)
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// CacheLookup records a geocode cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.geocodeCache.WithLabelValues(result).Inc()
}
