// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal         *prometheus.CounterVec
	crawlerFetchSeconds       prometheus.Histogram
	crawlerDedupHitsTotal     prometheus.Counter
	crawlerRobotsBlockedTotal prometheus.Counter
	indexerPagesEmbeddedTotal prometheus.Counter
	indexerBatchFailuresTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapai_pages_total",
				Help: "Queue items finished, labeled by terminal outcome.",
			},
			[]string{"outcome"},
		)

		crawlerFetchSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scrapai_fetch_duration_seconds",
				Help:    "Time spent fetching a page.",
				Buckets: prometheus.DefBuckets,
			},
		)

		crawlerDedupHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scrapai_dedup_hits_total",
				Help: "Pages discarded because their content hash was already stored.",
			},
		)

		crawlerRobotsBlockedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scrapai_robots_blocked_total",
				Help: "Queue items rejected by robots.txt.",
			},
		)

		indexerPagesEmbeddedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scrapai_pages_embedded_total",
				Help: "Pages with embeddings stored.",
			},
		)

		indexerBatchFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scrapai_embed_batch_failures_total",
				Help: "Embedding batches abandoned without committing.",
			},
		)
	})
}

// ObservePageOutcome counts a finished queue item by terminal status.
func ObservePageOutcome(outcome string) {
	if crawlerPagesTotal == nil {
		return
	}
	crawlerPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchDuration records how long a fetch took.
func ObserveFetchDuration(d time.Duration) {
	if crawlerFetchSeconds == nil {
		return
	}
	crawlerFetchSeconds.Observe(d.Seconds())
}

// ObserveDedupHit counts a duplicate-content discard.
func ObserveDedupHit() {
	if crawlerDedupHitsTotal == nil {
		return
	}
	crawlerDedupHitsTotal.Inc()
}

// ObserveRobotsBlocked counts a robots.txt rejection.
func ObserveRobotsBlocked() {
	if crawlerRobotsBlockedTotal == nil {
		return
	}
	crawlerRobotsBlockedTotal.Inc()
}

// ObservePagesEmbedded counts pages committed by the embedding indexer.
func ObservePagesEmbedded(n int) {
	if indexerPagesEmbeddedTotal == nil {
		return
	}
	indexerPagesEmbeddedTotal.Add(float64(n))
}

// ObserveEmbedBatchFailure counts an abandoned embedding batch.
func ObserveEmbedBatchFailure() {
	if indexerBatchFailuresTotal == nil {
		return
	}
	indexerBatchFailuresTotal.Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
