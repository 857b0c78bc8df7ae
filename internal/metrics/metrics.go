// Package metrics exposes Prometheus collectors for the ingest service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlItemsTotal       *prometheus.CounterVec
	transformSourcesTotal *prometheus.CounterVec
	chunksWrittenTotal    prometheus.Counter
	fetchDurationSeconds  prometheus.Histogram
	ackAnomaliesTotal     prometheus.Counter
	seedURLsTotal         *prometheus.CounterVec
	httpRequestsTotal     *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors. It is safe to call any number of times and
// is invoked lazily by every observe helper.
func Init() {
	once.Do(func() {
		crawlItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_crawl_items_total",
				Help: "Crawl work items processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		transformSourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_transform_sources_total",
				Help: "Transform sources processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		chunksWrittenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_chunks_written_total",
				Help: "Chunk objects durably written.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
		)

		ackAnomaliesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_ack_anomalies_total",
				Help: "Acknowledgements that failed after durable work.",
			},
		)

		seedURLsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_seed_urls_total",
				Help: "URLs published by the seeder, labeled by status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCrawlItem counts one crawl item by outcome.
func ObserveCrawlItem(outcome string) {
	Init()
	crawlItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTransformSource counts one transform source by outcome.
func ObserveTransformSource(outcome string) {
	Init()
	transformSourcesTotal.WithLabelValues(outcome).Inc()
}

// ObserveChunksWritten adds n to the chunk counter.
func ObserveChunksWritten(n int) {
	Init()
	chunksWrittenTotal.Add(float64(n))
}

// ObserveFetch records one fetch latency.
func ObserveFetch(duration time.Duration) {
	Init()
	fetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveAckAnomaly counts an acknowledgement failure after durable work.
func ObserveAckAnomaly() {
	Init()
	ackAnomaliesTotal.Inc()
}

// ObserveSeedURL counts one seeder publish by status ("sent" or "failed").
func ObserveSeedURL(status string) {
	Init()
	seedURLsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest counts one served HTTP request.
func ObserveHTTPRequest(method string, code int) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
