package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions     prometheus.Gauge
	attachedTransports prometheus.Gauge

	queryTotal        *prometheus.CounterVec
	queryDuration     prometheus.Histogram
	envelopesEmitted  *prometheus.CounterVec
	replayedEnvelopes prometheus.Counter

	toolInvocationTotal    *prometheus.CounterVec
	toolInvocationDuration *prometheus.HistogramVec

	modelCallTotal    *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec

	historyLoadDuration prometheus.Histogram
	historySaveDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active session count.",
				},
			),
			attachedTransports: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "attached_transports",
					Help: "Current number of sessions with an attached transport.",
				},
			),
			queryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "query_total",
					Help: "Total queries by terminal outcome.",
				},
				[]string{"outcome"},
			),
			queryDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "query_duration_seconds",
					Help:    "Query duration from acceptance to terminal envelope.",
					Buckets: prometheus.DefBuckets,
				},
			),
			envelopesEmitted: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "envelopes_emitted_total",
					Help: "Total server envelopes emitted by type.",
				},
				[]string{"type"},
			),
			replayedEnvelopes: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "envelopes_replayed_total",
					Help: "Total envelopes re-delivered from the replay buffer on reattach.",
				},
			),
			toolInvocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_invocation_total",
					Help: "Total tool invocations by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolInvocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_invocation_duration_seconds",
					Help:    "Tool invocation duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_call_total",
					Help: "Total model calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "model_call_duration_seconds",
					Help:    "Model call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			historyLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "history_load_duration_seconds",
					Help:    "Conversation history load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			historySaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "history_save_duration_seconds",
					Help:    "Conversation history append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.attachedTransports,
			m.queryTotal,
			m.queryDuration,
			m.envelopesEmitted,
			m.replayedEnvelopes,
			m.toolInvocationTotal,
			m.toolInvocationDuration,
			m.modelCallTotal,
			m.modelCallDuration,
			m.historyLoadDuration,
			m.historySaveDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the /metrics HTTP handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// SetActiveSessions records the current session count.
func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

// SetAttachedTransports records the number of sessions with a live transport.
func SetAttachedTransports(count int) {
	getMetrics().attachedTransports.Set(float64(count))
}

// RecordQuery records a terminal query outcome: completed, cancelled or error.
func RecordQuery(outcome string, duration time.Duration) {
	m := getMetrics()
	m.queryTotal.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(duration.Seconds())
}

// RecordEnvelope counts one emitted server envelope.
func RecordEnvelope(envelopeType string) {
	getMetrics().envelopesEmitted.WithLabelValues(envelopeType).Inc()
}

// RecordReplay counts envelopes re-delivered on reattach.
func RecordReplay(count int) {
	getMetrics().replayedEnvelopes.Add(float64(count))
}

// RecordToolInvocation records one tool invocation.
func RecordToolInvocation(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolInvocationTotal.WithLabelValues(tool, status).Inc()
	m.toolInvocationDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordModelCall records one model call.
func RecordModelCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.modelCallTotal.WithLabelValues(provider, status).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordHistoryLoad records a history load duration.
func RecordHistoryLoad(duration time.Duration) {
	getMetrics().historyLoadDuration.Observe(duration.Seconds())
}

// RecordHistorySave records a history append duration.
func RecordHistorySave(duration time.Duration) {
	getMetrics().historySaveDuration.Observe(duration.Seconds())
}
