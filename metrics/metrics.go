// Package metrics bundles the Prometheus collectors for a sync run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for fetches, rows and sheet writes.
type Metrics struct {
	Registry         *prometheus.Registry
	FetchesTotal     *prometheus.CounterVec
	FetchDuration    prometheus.Histogram
	FetchRetries     prometheus.Counter
	FetchErrorsTotal *prometheus.CounterVec
	PriceRetries     prometheus.Counter
	CacheHits        prometheus.Counter
	RowsTotal        *prometheus.CounterVec
	SheetWrites      *prometheus.CounterVec
	SheetRetries     prometheus.Counter
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricesync_fetches_total",
			Help: "Page fetch attempts by outcome.",
		},
		[]string{"outcome"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricesync_fetch_duration_seconds",
			Help:    "Latency of rendering proxy calls.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 90},
		},
	)
	fetchRetries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricesync_fetch_retries_total",
			Help: "Page fetch retries scheduled after a failed attempt.",
		},
	)
	fetchErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricesync_fetch_errors_total",
			Help: "Page fetch errors by type.",
		},
		[]string{"error_type"},
	)
	priceRetries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricesync_price_refetches_total",
			Help: "Re-fetches issued because a page came back without a price.",
		},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricesync_link_cache_hits_total",
			Help: "Links answered from the per-run extraction cache.",
		},
	)
	rows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricesync_rows_total",
			Help: "Processed rows by status flag.",
		},
		[]string{"status"},
	)
	sheetWrites := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricesync_sheet_writes_total",
			Help: "Batched sheet write calls by outcome.",
		},
		[]string{"outcome"},
	)
	sheetRetries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricesync_sheet_write_retries_total",
			Help: "Sheet writes retried after a quota error.",
		},
	)

	registry.MustRegister(fetches, fetchDuration, fetchRetries, fetchErrors, priceRetries,
		cacheHits, rows, sheetWrites, sheetRetries)

	return &Metrics{
		Registry:         registry,
		FetchesTotal:     fetches,
		FetchDuration:    fetchDuration,
		FetchRetries:     fetchRetries,
		FetchErrorsTotal: fetchErrors,
		PriceRetries:     priceRetries,
		CacheHits:        cacheHits,
		RowsTotal:        rows,
		SheetWrites:      sheetWrites,
		SheetRetries:     sheetRetries,
	}
}

// IncFetch counts a fetch attempt by outcome (ok, failed).
func (m *Metrics) IncFetch(outcome string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records a proxy call duration.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncFetchRetry increments the fetch retries counter.
func (m *Metrics) IncFetchRetry() {
	if m == nil {
		return
	}
	m.FetchRetries.Inc()
}

// IncFetchError increments the errors counter for a type label.
func (m *Metrics) IncFetchError(errorType string) {
	if m == nil {
		return
	}
	m.FetchErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) IncPriceRetry() {
	if m == nil {
		return
	}
	m.PriceRetries.Inc()
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

// IncRow counts a processed row by its status flag.
func (m *Metrics) IncRow(status string) {
	if m == nil {
		return
	}
	m.RowsTotal.WithLabelValues(status).Inc()
}

// IncSheetWrite counts a batched write call by outcome (ok, failed).
func (m *Metrics) IncSheetWrite(outcome string) {
	if m == nil {
		return
	}
	m.SheetWrites.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSheetRetry() {
	if m == nil {
		return
	}
	m.SheetRetries.Inc()
}
