// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	registry *prometheus.Registry

	// Workflow metrics
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	CyclesSkipped   prometheus.Counter
	TokensAnalyzed  prometheus.Counter
	LastCycleStatus prometheus.Gauge

	// Decision metrics
	Decisions *prometheus.CounterVec

	// Execution metrics
	Executions    *prometheus.CounterVec
	SwapAttempts  *prometheus.CounterVec
	SwapSlippage  *prometheus.HistogramVec
	Notifications *prometheus.CounterVec

	// Upstream metrics
	UpstreamErrors  *prometheus.CounterVec
	UpstreamLatency *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "cookfi"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "cycles_total",
			Help:      "Completed workflow cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one workflow cycle",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		CyclesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "cycles_skipped_total",
			Help:      "Cycle triggers ignored because a cycle was already running",
		}),
		TokensAnalyzed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "tokens_analyzed_total",
			Help:      "Tokens that produced a complete analysis",
		}),
		LastCycleStatus: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "last_cycle_success",
			Help:      "1 if the last cycle succeeded, 0 otherwise",
		}),

		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "decisions_total",
			Help:      "Decisions by recommendation",
		}, []string{"recommendation"}),

		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "executions_total",
			Help:      "Execution results by action and success",
		}, []string{"action", "success"}),
		SwapAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "swap_attempts_total",
			Help:      "Individual swap attempts by chain and result",
		}, []string{"chain", "result"}),
		SwapSlippage: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "swap_slippage_percent",
			Help:      "Slippage used by successful swaps",
			Buckets:   []float64{1, 2, 3, 6, 12, 24, 30},
		}, []string{"chain"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Trade alerts by result",
		}, []string{"result"}),

		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Upstream API failures by service",
		}, []string{"service"}),
		UpstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Upstream API latency by service",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveUpstream records the latency and, on failure, an error for service.
func (m *Metrics) ObserveUpstream(service string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.UpstreamLatency.WithLabelValues(service).Observe(seconds)
	if err != nil {
		m.UpstreamErrors.WithLabelValues(service).Inc()
	}
}

// ObserveSwapAttempt counts one swap attempt. Successful attempts also
// record the slippage they used.
func (m *Metrics) ObserveSwapAttempt(chain string, slippage float64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SwapAttempts.WithLabelValues(chain, "failure").Inc()
		return
	}
	m.SwapAttempts.WithLabelValues(chain, "success").Inc()
	m.SwapSlippage.WithLabelValues(chain).Observe(slippage)
}

// ObserveCycle records a finished workflow cycle.
func (m *Metrics) ObserveCycle(err error, seconds float64) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(seconds)
	if err != nil {
		m.CyclesTotal.WithLabelValues("error").Inc()
		m.LastCycleStatus.Set(0)
		return
	}
	m.CyclesTotal.WithLabelValues("success").Inc()
	m.LastCycleStatus.Set(1)
}

// CycleSkipped counts a trigger that found a cycle already running.
func (m *Metrics) CycleSkipped() {
	if m == nil {
		return
	}
	m.CyclesSkipped.Inc()
}

func (m *Metrics) AddTokensAnalyzed(n int) {
	if m == nil {
		return
	}
	m.TokensAnalyzed.Add(float64(n))
}

func (m *Metrics) ObserveDecision(recommendation string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(recommendation).Inc()
}

func (m *Metrics) ObserveExecution(action string, success bool) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(action, strconv.FormatBool(success)).Inc()
}

func (m *Metrics) ObserveNotification(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Notifications.WithLabelValues("failure").Inc()
		return
	}
	m.Notifications.WithLabelValues("success").Inc()
}
