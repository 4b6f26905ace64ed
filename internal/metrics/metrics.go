// Package metrics exposes Prometheus collectors for the crawler.
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
	crawlerPagesTotal         *prometheus.CounterVec
	crawlerDecisionsTotal     *prometheus.CounterVec
	crawlerAttachmentsTotal   *prometheus.CounterVec
	crawlerExtractionErrors   prometheus.Counter
	httpRequestsTotal         *prometheus.CounterVec
	rateLimitDelaySeconds     prometheus.Histogram
	attachmentWorkersInFlight prometheus.Gauge

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sudai_pages_total",
				Help: "Total listing pages handled, labeled by section and outcome.",
			},
			[]string{"section", "outcome"},
		)

		crawlerDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sudai_decisions_total",
				Help: "Total decisions normalized from listing pages, labeled by section.",
			},
			[]string{"section"},
		)

		crawlerAttachmentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sudai_attachments_total",
				Help: "Total attachment pipelines run, labeled by section and outcome.",
			},
			[]string{"section", "outcome"},
		)

		crawlerExtractionErrors = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sudai_extraction_errors_total",
				Help: "Total attachments whose text extraction failed or came back too short.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sudai_http_requests_total",
				Help: "Total outbound HTTP requests, labeled by kind and status code.",
			},
			[]string{"kind", "code"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sudai_rate_limit_delay_seconds",
				Help:    "Histogram of pauses applied by the adaptive rate controller.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		attachmentWorkersInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sudai_attachment_workers_in_flight",
				Help: "Number of attachment tasks currently running.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page counter for the given outcome.
func ObservePage(section string, outcome string) {
	if crawlerPagesTotal == nil {
		return
	}
	crawlerPagesTotal.WithLabelValues(section, outcome).Inc()
}

// ObserveDecisions adds normalized decisions for a section.
func ObserveDecisions(section string, n int) {
	if crawlerDecisionsTotal == nil || n <= 0 {
		return
	}
	crawlerDecisionsTotal.WithLabelValues(section).Add(float64(n))
}

// ObserveAttachment increments the attachment pipeline counter.
func ObserveAttachment(section string, outcome string) {
	if crawlerAttachmentsTotal == nil {
		return
	}
	crawlerAttachmentsTotal.WithLabelValues(section, outcome).Inc()
}

// ObserveExtractionError counts one failed extraction.
func ObserveExtractionError() {
	if crawlerExtractionErrors == nil {
		return
	}
	crawlerExtractionErrors.Inc()
}

// ObserveHTTPRequest increments the outbound request counter.
func ObserveHTTPRequest(kind string, code int) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(kind, strconv.Itoa(code)).Inc()
}

// ObserveRateLimitDelay records one applied pause.
func ObserveRateLimitDelay(d time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.Observe(d.Seconds())
}

// IncAttachmentWorkers increments the in-flight worker gauge.
func IncAttachmentWorkers() {
	if attachmentWorkersInFlight == nil {
		return
	}
	attachmentWorkersInFlight.Inc()
}

// DecAttachmentWorkers decrements the in-flight worker gauge.
func DecAttachmentWorkers() {
	if attachmentWorkersInFlight == nil {
		return
	}
	attachmentWorkersInFlight.Dec()
}
