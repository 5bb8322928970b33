// Package metrics exposes run-level Prometheus collectors and the optional
// /metrics and /healthz server.
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
	crawlRunsTotal             *prometheus.CounterVec
	crawlRunDurationSeconds    *prometheus.HistogramVec
	crawlLastSuccessTimestamp  prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slack_crawler_runs_total",
				Help: "Crawl runs, labeled by output mode and final state.",
			},
			[]string{"mode", "result"},
		)

		crawlRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "slack_crawler_run_duration_seconds",
				Help:    "Wall time of crawl runs, labeled by output mode.",
				Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"mode"},
		)

		crawlLastSuccessTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "slack_crawler_last_success_timestamp_seconds",
				Help: "Unix time the last complete run finished.",
			},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records one finished run. result is "complete", "partial" or
// "failed".
func ObserveRun(mode, result string, duration time.Duration, finishedAt time.Time) {
	Init()
	crawlRunsTotal.WithLabelValues(mode, result).Inc()
	crawlRunDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
	if result == "complete" {
		crawlLastSuccessTimestamp.Set(float64(finishedAt.Unix()))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
