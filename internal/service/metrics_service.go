package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/registrar-api/internal/models"
)

// MetricsService owns the Prometheus registry for HTTP, cache and registration metrics.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	ledgerOps          *prometheus.CounterVec
	ledgerWait         *prometheus.HistogramVec
	transitionOutcomes *prometheus.CounterVec
	transitionDuration prometheus.Observer
	phase              *prometheus.GaugeVec
	discrepancies      *prometheus.CounterVec
	exportJobs         *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	ledgerOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_ledger_operations_total",
		Help: "Capacity ledger commits and releases by resource kind and result",
	}, []string{"kind", "op", "result"})

	ledgerWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registrar_ledger_commit_seconds",
		Help:    "Time spent in a ledger commit including lock wait",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"kind"})

	transitionOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_transition_outcomes_total",
		Help: "Pre-registration migration outcomes",
	}, []string{"outcome"})

	transitionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "registrar_transition_duration_seconds",
		Help:    "Duration of pre-registration migration runs",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	phase := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "registrar_period_phase",
		Help: "1 for the phase currently in force, 0 otherwise",
	}, []string{"phase"})

	discrepancies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_reconciliation_discrepancies_total",
		Help: "Ledger invariant discrepancies found by reconciliation",
	}, []string{"kind"})

	exportJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_export_jobs_total",
		Help: "Transition report export jobs by terminal status",
	}, []string{"status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		ledgerOps, ledgerWait, transitionOutcomes, transitionDuration, phase, discrepancies, exportJobs, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		ledgerOps:          ledgerOps,
		ledgerWait:         ledgerWait,
		transitionOutcomes: transitionOutcomes,
		transitionDuration: transitionDuration,
		phase:              phase,
		discrepancies:      discrepancies,
		exportJobs:         exportJobs,
	}
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordLedgerOp counts a ledger commit or release.
func (m *MetricsService) RecordLedgerOp(kind models.LedgerKind, op, result string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(string(kind), op, result).Inc()
}

// ObserveLedgerCommit records the latency of a commit.
func (m *MetricsService) ObserveLedgerCommit(kind models.LedgerKind, duration time.Duration) {
	if m == nil {
		return
	}
	m.ledgerWait.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// RecordTransition records the outcome counts and duration of a migration run.
func (m *MetricsService) RecordTransition(report *models.TransitionReport) {
	if m == nil || report == nil {
		return
	}
	for outcome, n := range report.Summary {
		m.transitionOutcomes.WithLabelValues(string(outcome)).Add(float64(n))
	}
	m.transitionDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
}

// SetPhase marks phase as the one in force.
func (m *MetricsService) SetPhase(phase models.Phase) {
	if m == nil {
		return
	}
	for _, p := range []models.Phase{models.PhasePreRegistration, models.PhaseRegistration, models.PhaseClosed} {
		value := 0.0
		if p == phase {
			value = 1
		}
		m.phase.WithLabelValues(string(p)).Set(value)
	}
}

// RecordDiscrepancy counts a reconciliation finding.
func (m *MetricsService) RecordDiscrepancy(kind models.DiscrepancyKind) {
	if m == nil {
		return
	}
	m.discrepancies.WithLabelValues(string(kind)).Inc()
}

// RecordExportJob counts an export job reaching a terminal status.
func (m *MetricsService) RecordExportJob(status models.ExportStatus) {
	if m == nil {
		return
	}
	m.exportJobs.WithLabelValues(string(status)).Inc()
}
