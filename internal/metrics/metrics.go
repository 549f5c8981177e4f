// Package metrics exposes Prometheus metrics for the query cache and the
// reconciliation passes.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Metrics holds all Prometheus metrics of the ledger service. Each instance
// owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	CacheHits          *prometheus.CounterVec // labels: scope
	CacheMisses        *prometheus.CounterVec // labels: scope
	CacheInvalidations *prometheus.CounterVec // labels: scope

	ReconcilePasses   *prometheus.CounterVec   // labels: kind, outcome
	ReconcileDuration *prometheus.HistogramVec // labels: kind
	ReconcileRows     *prometheus.CounterVec   // labels: kind, result
	LossLimitTrips    prometheus.Counter

	SyncTenants prometheus.Gauge
}

// New creates and registers all metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeledger_cache_hits_total",
			Help: "Query cache hits",
		}, []string{"scope"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeledger_cache_misses_total",
			Help: "Query cache misses",
		}, []string{"scope"}),
		CacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeledger_cache_invalidated_entries_total",
			Help: "Query cache entries dropped by ledger writes",
		}, []string{"scope"}),

		ReconcilePasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeledger_reconcile_passes_total",
			Help: "Reconciliation passes by kind and outcome (ok, conflict, invalid, error)",
		}, []string{"kind", "outcome"}),
		ReconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradeledger_reconcile_duration_seconds",
			Help:    "Reconciliation pass latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"kind"}),
		ReconcileRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeledger_reconcile_rows_total",
			Help: "Rows handled by reconciliation (opened, updated, closed, created, skipped, ignored, rejected)",
		}, []string{"kind", "result"}),
		LossLimitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeledger_loss_limit_trips_total",
			Help: "Trading days whose daily loss limit was hit",
		}),

		SyncTenants: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeledger_sync_tenants",
			Help: "Tenants found by the last poll",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CacheHits,
		m.CacheMisses,
		m.CacheInvalidations,
		m.ReconcilePasses,
		m.ReconcileDuration,
		m.ReconcileRows,
		m.LossLimitTrips,
		m.SyncTenants,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CacheHit implements querycache.Recorder.
func (m *Metrics) CacheHit(scope string) {
	m.CacheHits.WithLabelValues(scope).Inc()
}

// CacheMiss implements querycache.Recorder.
func (m *Metrics) CacheMiss(scope string) {
	m.CacheMisses.WithLabelValues(scope).Inc()
}

// CacheInvalidated implements querycache.Recorder.
func (m *Metrics) CacheInvalidated(scope string, entries int) {
	m.CacheInvalidations.WithLabelValues(scope).Add(float64(entries))
}

// ObserveReconcile records one finished pass.
func (m *Metrics) ObserveReconcile(kind string, res domain.ReconcileResult, err error, elapsed time.Duration) {
	m.ReconcilePasses.WithLabelValues(kind, Outcome(err)).Inc()
	m.ReconcileDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if err != nil {
		return
	}
	for result, n := range map[string]int{
		"opened":   res.Opened,
		"updated":  res.Updated,
		"closed":   res.Closed,
		"created":  res.Created,
		"skipped":  res.Skipped,
		"ignored":  res.Ignored,
		"rejected": res.Rejected,
	} {
		if n > 0 {
			m.ReconcileRows.WithLabelValues(kind, result).Add(float64(n))
		}
	}
	m.LossLimitTrips.Add(float64(len(res.LossLimitTripped)))
}

// Outcome classifies a pass error for the outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
