// Package metrics exposes Prometheus collectors for the scrape service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	imagesTotal                *prometheus.CounterVec
	imageBytesTotal            *prometheus.CounterVec
	labelsTotal                *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsSubmittedTotal         prometheus.Counter
	activeWorkers              prometheus.Gauge
	progressSubscribers        prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		imagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision2struct_images_total",
				Help: "Images handled by workers, labeled by source host and outcome.",
			},
			[]string{"site", "outcome"},
		)

		imageBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision2struct_image_bytes_total",
				Help: "Bytes downloaded, labeled by source host.",
			},
			[]string{"site"},
		)

		labelsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision2struct_labels_total",
				Help: "Labeling attempts, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		jobsSubmittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vision2struct_jobs_submitted_total",
				Help: "Scrape jobs accepted by the API.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vision2struct_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		progressSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vision2struct_progress_subscribers",
				Help: "Open progress streams.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vision2struct_rate_limit_delay_seconds",
				Help:    "Time downloads spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname, or "unknown" if the URL is invalid.
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveImage counts one image outcome (downloaded, skipped, failed).
func ObserveImage(site, outcome string, bytesFetched int) {
	Init()
	host := SanitizeSite(site)
	imagesTotal.WithLabelValues(host, outcome).Inc()
	if bytesFetched > 0 {
		imageBytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveLabel counts one labeling attempt.
func ObserveLabel(result string) {
	Init()
	labelsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJobSubmitted counts an accepted submission.
func ObserveJobSubmitted() {
	Init()
	jobsSubmittedTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// IncSubscribers tracks an opened progress stream.
func IncSubscribers() {
	Init()
	progressSubscribers.Inc()
}

// DecSubscribers tracks a closed progress stream.
func DecSubscribers() {
	Init()
	progressSubscribers.Dec()
}

// ObserveRateLimitDelay records how long a download waited for its host.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}
