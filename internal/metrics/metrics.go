// Package metrics exposes the Prometheus collectors for agent runs, quota,
// provider calls, notifications and the worker pool.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/breaker"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "ytagent"

// Metrics implements the observer interfaces of the orchestrator, quota
// broker, notifier, provider transport and worker pool.
type Metrics struct {
	gatherer prometheus.Gatherer

	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	retriesTotal     *prometheus.CounterVec
	runsInFlight     *prometheus.GaugeVec
	quotaUsed        *prometheus.GaugeVec
	quotaLimit       *prometheus.GaugeVec
	quotaDecisions   *prometheus.CounterVec
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	breakerState     *prometheus.GaugeVec
	notifications    *prometheus.CounterVec
	poolTasks        *prometheus.CounterVec
	poolTaskDuration *prometheus.HistogramVec
	poolQueueDepth   prometheus.Gauge
}

// New registers the collectors on reg. A nil reg gets a fresh registry, which
// keeps tests independent of the process-wide default.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_runs_total",
				Help:      "Finished agent runs by kind and terminal status",
			},
			[]string{"agent_kind", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_run_duration_seconds",
				Help:      "Wall time of agent runs including retries",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"agent_kind", "status"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_retries_total",
				Help:      "Attempts retried after a transient failure",
			},
			[]string{"agent_kind", "error_kind"},
		),
		runsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "agent_runs_in_flight",
				Help:      "Agent runs currently executing",
			},
			[]string{"agent_kind"},
		),
		quotaUsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_used_units",
				Help:      "Committed quota units for the current quota day",
			},
			[]string{"provider"},
		),
		quotaLimit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_limit_units",
				Help:      "Daily quota limit",
			},
			[]string{"provider"},
		),
		quotaDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_decisions_total",
				Help:      "Quota reservation decisions",
			},
			[]string{"provider", "decision"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Outbound provider calls by outcome",
			},
			[]string{"provider", "op", "outcome"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Latency of outbound provider calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "op"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_circuit_breaker_state",
				Help:      "Circuit breaker state: 0=closed, 1=open, 2=half-open",
			},
			[]string{"provider"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notification deliveries by level and result",
			},
			[]string{"level", "result"},
		),
		poolTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_pool_tasks_total",
				Help:      "Tasks processed by the worker pool",
			},
			[]string{"task_kind", "outcome"},
		),
		poolTaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_pool_task_duration_seconds",
				Help:      "Duration of worker pool tasks",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"task_kind"},
		),
		poolQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_queue_depth",
				Help:      "Tasks waiting in the worker pool queue",
			},
		),
	}

	reg.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.retriesTotal,
		m.runsInFlight,
		m.quotaUsed,
		m.quotaLimit,
		m.quotaDecisions,
		m.providerCalls,
		m.providerDuration,
		m.breakerState,
		m.notifications,
		m.poolTasks,
		m.poolTaskDuration,
		m.poolQueueDepth,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRun(kind, status string, elapsed time.Duration) {
	m.runsTotal.WithLabelValues(kind, status).Inc()
	m.runDuration.WithLabelValues(kind, status).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRetry(kind, errorKind string) {
	m.retriesTotal.WithLabelValues(kind, errorKind).Inc()
}

func (m *Metrics) AddInFlight(kind string, delta int) {
	m.runsInFlight.WithLabelValues(kind).Add(float64(delta))
}

func (m *Metrics) ObserveQuota(provider string, used, limit int64) {
	m.quotaUsed.WithLabelValues(provider).Set(float64(used))
	m.quotaLimit.WithLabelValues(provider).Set(float64(limit))
}

func (m *Metrics) ObserveQuotaDecision(provider, decision string) {
	m.quotaDecisions.WithLabelValues(provider, decision).Inc()
}

func (m *Metrics) ObserveProviderCall(provider, op, outcome string, elapsed time.Duration) {
	m.providerCalls.WithLabelValues(provider, op, outcome).Inc()
	m.providerDuration.WithLabelValues(provider, op).Observe(elapsed.Seconds())
}

// ObserveBreaker matches breaker.CircuitBreaker.OnStateChange.
func (m *Metrics) ObserveBreaker(provider string, to breaker.State) {
	m.breakerState.WithLabelValues(provider).Set(float64(to))
}

func (m *Metrics) ObserveNotification(level, result string) {
	m.notifications.WithLabelValues(level, result).Inc()
}

func (m *Metrics) ObservePoolTask(kind, outcome string, elapsed time.Duration) {
	m.poolTasks.WithLabelValues(kind, outcome).Inc()
	m.poolTaskDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) SetPoolQueueDepth(depth int) {
	m.poolQueueDepth.Set(float64(depth))
}
