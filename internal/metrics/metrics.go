// Package metrics owns the Prometheus collectors exported on /metrics.
//
// Collectors are registered on a per-process registry created by New rather
// than the global default, so tests can build isolated instances. Every
// recording method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "multitalk"

// Metrics groups the collectors recorded by the ledger, job lifecycle,
// reconciler, replenish scheduler, and API server.
type Metrics struct {
	registry *prometheus.Registry

	debits            *prometheus.CounterVec
	refunds           prometheus.Counter
	fatalFaults       prometheus.Counter
	jobs              *prometheus.CounterVec
	jobConflicts      prometheus.Counter
	submitDuration    prometheus.Histogram
	billingEvents     *prometheus.CounterVec
	replenishAccounts *prometheus.CounterVec
	replenishDuration *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
}

// New builds collectors on a fresh registry, including Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		debits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_debits_total",
			Help:      "Credit debit attempts by outcome",
		}, []string{"outcome"}), // "ok", "insufficient", "not_found", "error"
		refunds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_refunds_total",
			Help:      "Compensating credits issued after a failed submit",
		}),
		fatalFaults: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_fatal_faults_total",
			Help:      "Invariant violations detected by the ledger",
		}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Generation jobs by lifecycle event",
		}, []string{"event"}), // "submitted", "rejected", "completed", "failed"
		jobConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_result_conflicts_total",
			Help:      "Worker results ignored because the job was already terminal",
		}),
		submitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_duration_seconds",
			Help:      "Duration of job submission including persist and dispatch",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		billingEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_events_total",
			Help:      "Billing events received by source and result",
		}, []string{"source", "result"}),
		replenishAccounts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replenish_accounts_total",
			Help:      "Accounts processed by replenish runs",
		}, []string{"plan", "outcome"}),
		replenishDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replenish_run_duration_seconds",
			Help:      "Duration of replenish runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"plan"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Debit(outcome string) {
	if m == nil {
		return
	}
	m.debits.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Refund() {
	if m == nil {
		return
	}
	m.refunds.Inc()
}

func (m *Metrics) FatalFault() {
	if m == nil {
		return
	}
	m.fatalFaults.Inc()
}

func (m *Metrics) Job(event string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(event).Inc()
}

func (m *Metrics) JobConflict() {
	if m == nil {
		return
	}
	m.jobConflicts.Inc()
}

func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitDuration.Observe(d.Seconds())
}

func (m *Metrics) BillingEvent(source, result string) {
	if m == nil {
		return
	}
	m.billingEvents.WithLabelValues(source, result).Inc()
}

// Replenish records one run's per-account outcomes and duration.
func (m *Metrics) Replenish(plan string, replenished, skipped, failed int, d time.Duration) {
	if m == nil {
		return
	}
	m.replenishAccounts.WithLabelValues(plan, "replenished").Add(float64(replenished))
	m.replenishAccounts.WithLabelValues(plan, "skipped").Add(float64(skipped))
	m.replenishAccounts.WithLabelValues(plan, "failed").Add(float64(failed))
	m.replenishDuration.WithLabelValues(plan).Observe(d.Seconds())
}

func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, statusClass(code)).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
