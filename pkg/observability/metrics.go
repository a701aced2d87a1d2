package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Source sync metrics
	SourceSyncsTotal    *prometheus.CounterVec
	HashQueriesTotal    *prometheus.CounterVec
	CacheFallbacksTotal *prometheus.CounterVec
	TombstonesDropped   *prometheus.CounterVec
	SourceSyncDuration  *prometheus.HistogramVec

	// Load metrics
	LoadsTotal         *prometheus.CounterVec
	LoadDuration       *prometheus.HistogramVec
	InvalidationsTotal prometheus.Counter

	// Catalog metrics
	CatalogRecords  prometheus.Gauge
	BuildReferences prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		SourceSyncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhub_source_syncs_total",
				Help: "Total number of source synchronizations",
			},
			[]string{"kind", "origin"},
		),
		HashQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhub_hash_queries_total",
				Help: "Total number of source hash queries",
			},
			[]string{"kind", "status"},
		),
		CacheFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhub_cache_fallbacks_total",
				Help: "Total number of times a source fell back to its on-disk cache",
			},
			[]string{"kind", "reason"},
		),
		TombstonesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhub_tombstones_dropped_total",
				Help: "Total number of obsolete records dropped while parsing",
			},
			[]string{"kind"},
		),
		SourceSyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modhub_source_sync_duration_seconds",
				Help:    "Source synchronization duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		LoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhub_loads_total",
				Help: "Total number of record load attempts by outcome",
			},
			[]string{"kind", "status"},
		),
		LoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modhub_load_duration_seconds",
				Help:    "Record build and load duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		InvalidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "modhub_cache_invalidations_total",
				Help: "Total number of source cache invalidations scheduled by the loader",
			},
		),

		CatalogRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "modhub_catalog_records",
				Help: "Number of records in the merged catalog",
			},
		),
		BuildReferences: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "modhub_build_references",
				Help: "Number of references in the last isolated build context",
			},
		),
	}

	registry.MustRegister(
		m.SourceSyncsTotal,
		m.HashQueriesTotal,
		m.CacheFallbacksTotal,
		m.TombstonesDropped,
		m.SourceSyncDuration,
		m.LoadsTotal,
		m.LoadDuration,
		m.InvalidationsTotal,
		m.CatalogRecords,
		m.BuildReferences,
	)

	return m
}

// The helpers below are nil-safe so that components can run without metrics.

// ObserveSync records one source synchronization and where its records came from
func (m *Metrics) ObserveSync(kind, origin string, d time.Duration) {
	if m == nil {
		return
	}
	m.SourceSyncsTotal.WithLabelValues(kind, origin).Inc()
	m.SourceSyncDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveHashQuery records the outcome of a hash query
func (m *Metrics) ObserveHashQuery(kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.HashQueriesTotal.WithLabelValues(kind, status).Inc()
}

// ObserveCacheFallback records a fall back to the on-disk cache
func (m *Metrics) ObserveCacheFallback(kind, reason string) {
	if m == nil {
		return
	}
	m.CacheFallbacksTotal.WithLabelValues(kind, reason).Inc()
}

// ObserveTombstones records dropped obsolete records
func (m *Metrics) ObserveTombstones(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.TombstonesDropped.WithLabelValues(kind).Add(float64(n))
}

// ObserveLoad records one load attempt
func (m *Metrics) ObserveLoad(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.LoadsTotal.WithLabelValues(kind, status).Inc()
	m.LoadDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveInvalidation records a scheduled cache invalidation
func (m *Metrics) ObserveInvalidation() {
	if m == nil {
		return
	}
	m.InvalidationsTotal.Inc()
}

// SetCatalogRecords sets the merged catalog size
func (m *Metrics) SetCatalogRecords(n int) {
	if m == nil {
		return
	}
	m.CatalogRecords.Set(float64(n))
}

// SetBuildReferences sets the reference table size
func (m *Metrics) SetBuildReferences(n int) {
	if m == nil {
		return
	}
	m.BuildReferences.Set(float64(n))
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
