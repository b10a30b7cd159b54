// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestPagesTotal     *prometheus.CounterVec
	ingestItemsTotal     *prometheus.CounterVec
	ingestRunsTotal      *prometheus.CounterVec
	ingestRunEventsTotal *prometheus.CounterVec
	ingestFetchDuration  *prometheus.HistogramVec
	ingestActiveWorkers  prometheus.Gauge
	ingestQueueDecisions *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		ingestPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_pages_fetched_total",
				Help: "Total pages fetched during discovery and extraction, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		ingestItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_items_discovered_total",
				Help: "Total inventory items discovered, labeled by site.",
			},
			[]string{"site"},
		)

		ingestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_runs_total",
				Help: "Total runs finalized, labeled by status.",
			},
			[]string{"status"},
		)

		ingestRunEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_run_events_total",
				Help: "Total run events recorded, labeled by event code.",
			},
			[]string{"code"},
		)

		ingestFetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		ingestActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_workers",
				Help: "Number of workers currently processing a run.",
			},
		)

		ingestQueueDecisions = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_queue_decisions_total",
				Help: "Total queue settlements, labeled by outcome kind.",
			},
			[]string{"kind"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname for use as a metric label.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one page fetch.
func ObserveFetch(site string, status string, duration time.Duration) {
	sanitized := SanitizeSite(site)
	ingestPagesTotal.WithLabelValues(sanitized, status).Inc()
	ingestFetchDuration.WithLabelValues(sanitized).Observe(duration.Seconds())
}

// ObserveItems adds to the discovered item counter.
func ObserveItems(site string, count int) {
	if count <= 0 {
		return
	}
	ingestItemsTotal.WithLabelValues(SanitizeSite(site)).Add(float64(count))
}

// ObserveRun increments the finalized run counter for the given status.
func ObserveRun(status string) {
	ingestRunsTotal.WithLabelValues(status).Inc()
}

// ObserveRunEvent increments the event counter for the given code.
func ObserveRunEvent(code string) {
	ingestRunEventsTotal.WithLabelValues(code).Inc()
}

// ObserveQueueDecision increments the settlement counter for an outcome kind.
func ObserveQueueDecision(kind string) {
	ingestQueueDecisions.WithLabelValues(kind).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	ingestActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	ingestActiveWorkers.Dec()
}
