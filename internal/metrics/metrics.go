// Package metrics exposes Prometheus instrumentation for sessions, saves and the flow client.
package metrics

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "svx"

// Metrics owns a private registry. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry     *prometheus.Registry
	resolutions  *prometheus.CounterVec
	saves        *prometheus.CounterVec
	flowDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them together with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_resolutions_total",
			Help:      "Session tokens resolved, by outcome.",
		}, []string{"outcome"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_saves_total",
			Help:      "Conversation saves, by result.",
		}, []string{"result"}),
		flowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_request_seconds",
			Help:      "Latency of calls to the remote conversational flow.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.resolutions,
		m.saves,
		m.flowDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SessionResolved counts one resolution.
func (m *Metrics) SessionResolved(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

// ConversationSaved counts one save attempt.
func (m *Metrics) ConversationSaved(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.saves.WithLabelValues(result).Inc()
}

// FlowRequest records the latency of one flow call.
func (m *Metrics) FlowRequest(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.flowDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RegisterPool exports connection pool gauges read from stats on every scrape.
func (m *Metrics) RegisterPool(stats func() sql.DBStats) {
	if m == nil || stats == nil {
		return
	}
	gauge := func(name, help string, read func(sql.DBStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return read(stats()) })
	}
	m.registry.MustRegister(
		gauge("max_open", "Maximum number of open connections.", func(s sql.DBStats) float64 { return float64(s.MaxOpenConnections) }),
		gauge("open", "Open connections.", func(s sql.DBStats) float64 { return float64(s.OpenConnections) }),
		gauge("in_use", "Connections currently in use.", func(s sql.DBStats) float64 { return float64(s.InUse) }),
		gauge("idle", "Idle connections.", func(s sql.DBStats) float64 { return float64(s.Idle) }),
		gauge("wait_count", "Total number of connections waited for.", func(s sql.DBStats) float64 { return float64(s.WaitCount) }),
		gauge("wait_seconds", "Total time blocked waiting for a connection.", func(s sql.DBStats) float64 { return s.WaitDuration.Seconds() }),
	)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
