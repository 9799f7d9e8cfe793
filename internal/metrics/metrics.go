// Package metrics provides Prometheus metrics for ingestion, embedding and search.
//
// All recording methods are safe on a nil *Metrics so components can run
// without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for cca.
type Metrics struct {
	IngestFiles        *prometheus.CounterVec
	IngestMessages     *prometheus.CounterVec
	IngestSkippedLines prometheus.Counter
	EmbeddingRequests  *prometheus.CounterVec
	EmbeddingItems     *prometheus.CounterVec
	EmbeddingCache     *prometheus.CounterVec
	EmbeddingBatch     prometheus.Histogram
	SearchRequests     *prometheus.CounterVec
	SearchDuration     *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		IngestFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cca_ingest_files_total",
				Help: "Conversation files processed by outcome status.",
			},
			[]string{"status"},
		),
		IngestMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cca_ingest_messages_total",
				Help: "Message rows written by operation.",
			},
			[]string{"op"},
		),
		IngestSkippedLines: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cca_ingest_skipped_lines_total",
				Help: "Malformed JSONL lines skipped during parsing.",
			},
		),
		EmbeddingRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cca_embedding_requests_total",
				Help: "Embedding service batch calls by status.",
			},
			[]string{"status"},
		),
		EmbeddingItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cca_embedding_items_total",
				Help: "Texts embedded by result.",
			},
			[]string{"result"},
		),
		EmbeddingCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cca_embedding_cache_total",
				Help: "Embedding cache lookups by result.",
			},
			[]string{"result"},
		),
		EmbeddingBatch: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cca_embedding_batch_seconds",
				Help:    "Embedding batch latency including retries.",
				Buckets: prometheus.DefBuckets,
			},
		),
		SearchRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cca_search_requests_total",
				Help: "Search requests by mode and status.",
			},
			[]string{"mode", "status"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cca_search_seconds",
				Help:    "Search latency by mode.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.IngestFiles,
		m.IngestMessages,
		m.IngestSkippedLines,
		m.EmbeddingRequests,
		m.EmbeddingItems,
		m.EmbeddingCache,
		m.EmbeddingBatch,
		m.SearchRequests,
		m.SearchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFile counts one processed file.
func (m *Metrics) RecordFile(status string) {
	if m == nil {
		return
	}
	m.IngestFiles.WithLabelValues(status).Inc()
}

// RecordMessages adds n message writes for op (inserted, updated, unchanged, removed).
func (m *Metrics) RecordMessages(op string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.IngestMessages.WithLabelValues(op).Add(float64(n))
}

func (m *Metrics) RecordSkippedLines(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.IngestSkippedLines.Add(float64(n))
}

// RecordEmbeddingBatch counts one batch call and its latency.
func (m *Metrics) RecordEmbeddingBatch(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.EmbeddingRequests.WithLabelValues(status).Inc()
	m.EmbeddingBatch.Observe(d.Seconds())
}

func (m *Metrics) RecordEmbeddingItems(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EmbeddingItems.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) RecordCache(result string) {
	if m == nil {
		return
	}
	m.EmbeddingCache.WithLabelValues(result).Inc()
}

// ObserveSearch records one search request.
func (m *Metrics) ObserveSearch(mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchRequests.WithLabelValues(mode, status).Inc()
	m.SearchDuration.WithLabelValues(mode).Observe(d.Seconds())
}
