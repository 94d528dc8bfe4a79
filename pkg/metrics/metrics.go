// Package metrics defines the Prometheus collectors used by the indexer and
// classifier and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for a run.
type Metrics struct {
	SequencesIndexed   prometheus.Counter
	IndexBuildDuration prometheus.Histogram
	SnapshotOutcomes   *prometheus.CounterVec
	QueriesClassified  *prometheus.CounterVec
	AmbiguousLevels    *prometheus.CounterVec
	QueryLatency       prometheus.Histogram
	HitCacheHits       prometheus.Counter
	HitCacheMisses     prometheus.Counter
	ResultsDelivered   *prometheus.CounterVec
	RegionsExtracted   *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates all collectors and registers them with reg. A nil reg gets a
// private registry, which keeps repeated construction in tests safe.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		SequencesIndexed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reference_sequences_indexed_total",
				Help: "Reference sequences committed to the k-mer index.",
			},
		),
		IndexBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_build_duration_seconds",
				Help:    "Wall-clock time spent building the k-mer index from raw records.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		SnapshotOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_snapshot_operations_total",
				Help: "Index snapshot operations by outcome (loaded, stale, written, write_failed).",
			},
			[]string{"outcome"},
		),
		QueriesClassified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queries_classified_total",
				Help: "Query sequences classified, by winning orientation.",
			},
			[]string{"orientation"},
		),
		AmbiguousLevels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ambiguous_assignments_total",
				Help: "Queries whose best hits disagree at a taxonomy level.",
			},
			[]string{"level"},
		),
		QueryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "query_classification_seconds",
				Help:    "Time to classify one query including bootstrap rounds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		HitCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hit_cache_hits_total",
				Help: "Search hits served from the hit cache.",
			},
		),
		HitCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hit_cache_misses_total",
				Help: "Search hits computed because the hit cache had no entry.",
			},
		),
		ResultsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "results_delivered_total",
				Help: "Classification results handed to a sink, by sink and status.",
			},
			[]string{"sink", "status"},
		),
		RegionsExtracted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "primer_regions_total",
				Help: "Sequences scanned for a primer-bounded region, by outcome.",
			},
			[]string{"outcome"},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.SequencesIndexed,
		m.IndexBuildDuration,
		m.SnapshotOutcomes,
		m.QueriesClassified,
		m.AmbiguousLevels,
		m.QueryLatency,
		m.HitCacheHits,
		m.HitCacheMisses,
		m.ResultsDelivered,
		m.RegionsExtracted,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for these collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
