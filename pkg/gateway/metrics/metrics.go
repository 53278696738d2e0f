// Package metrics holds the gateway's Prometheus collectors. Every method is
// safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimitHits   *prometheus.CounterVec

	// Voice calls
	CallsActive      prometheus.Gauge
	CallsTotal       *prometheus.CounterVec
	CallDuration     prometheus.Histogram
	TurnsTotal       *prometheus.CounterVec
	TurnDuration     *prometheus.HistogramVec
	TurnFirstChunk   prometheus.Histogram
	TransfersTotal   *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	PendingTurnDepth prometheus.Histogram

	// Chat relay
	ChatCompletionsTotal *prometheus.CounterVec

	// Upstream
	ErrorsTotal *prometheus.CounterVec
}

// New creates a Metrics instance on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callbridge"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"route"}),
		RateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit rejections",
		}, []string{"limit_type"}),
		CallsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_calls_active",
			Help:      "Number of connected voice calls",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_calls_total",
			Help:      "Total number of voice calls by outcome",
		}, []string{"status"}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "voice_call_duration_seconds",
			Help:      "Voice call connection duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_turns_total",
			Help:      "Total number of voice turns",
		}, []string{"kind", "status"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "voice_turn_duration_seconds",
			Help:      "Time from turn start to terminal frame",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"status"}),
		TurnFirstChunk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "voice_turn_first_chunk_seconds",
			Help:      "Time from turn start to the first streamed increment",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 4},
		}),
		TransfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_transfers_total",
			Help:      "Total number of transfer directives sent",
		}, []string{"reason"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_frames_dropped_total",
			Help:      "Inbound voice frames dropped without processing",
		}, []string{"reason"}),
		PendingTurnDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "voice_pending_turns",
			Help:      "Queue depth observed when a turn request arrives while busy",
			Buckets:   []float64{1, 2, 3, 4, 8},
		}),
		ChatCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_completions_total",
			Help:      "Total number of chat relay completions by outcome",
		}, []string{"status"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total number of upstream model errors",
		}, []string{"provider", "error_type"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.RateLimitHits,
		m.CallsActive,
		m.CallsTotal,
		m.CallDuration,
		m.TurnsTotal,
		m.TurnDuration,
		m.TurnFirstChunk,
		m.TransfersTotal,
		m.FramesDropped,
		m.PendingTurnDepth,
		m.ChatCompletionsTotal,
		m.ErrorsTotal,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordRateLimitHit records a rejected request.
func (m *Metrics) RecordRateLimitHit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}

// RecordCallStart records a voice call connecting.
func (m *Metrics) RecordCallStart() {
	if m == nil {
		return
	}
	m.CallsActive.Inc()
}

// RecordCallEnd records a voice call disconnecting.
func (m *Metrics) RecordCallEnd(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CallsActive.Dec()
	m.CallsTotal.WithLabelValues(status).Inc()
	m.CallDuration.Observe(duration.Seconds())
}

// RecordCallRejected records a call refused before upgrade.
func (m *Metrics) RecordCallRejected(reason string) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues("rejected_" + reason).Inc()
}

// RecordTurn records a finished voice turn.
func (m *Metrics) RecordTurn(kind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(kind, status).Inc()
	m.TurnDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) RecordFirstChunk(latency time.Duration) {
	if m == nil {
		return
	}
	m.TurnFirstChunk.Observe(latency.Seconds())
}

// RecordTransfer records a transfer directive; reason is "phrase" or "error".
func (m *Metrics) RecordTransfer(reason string) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordPendingDepth(depth int) {
	if m == nil {
		return
	}
	m.PendingTurnDepth.Observe(float64(depth))
}

func (m *Metrics) RecordChatCompletion(status string) {
	if m == nil {
		return
	}
	m.ChatCompletionsTotal.WithLabelValues(status).Inc()
}

// RecordError records an upstream failure.
func (m *Metrics) RecordError(provider, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(provider, errorType).Inc()
}
