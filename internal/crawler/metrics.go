package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_crawler_api_calls_total",
		Help: "Platform API calls, labeled by operation and outcome.",
	}, []string{"op", "outcome"})
	channelJoinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slack_crawler_channel_joins_total",
		Help: "Channels joined to recover from not_in_channel.",
	})
	throttledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slack_crawler_throttled_total",
		Help: "Calls the platform throttled.",
	})
	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slack_crawler_rate_limit_wait_seconds",
		Help:    "Time spent waiting for the call-spacing limiter.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
	})
	channelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_crawler_channels_total",
		Help: "Channels processed, labeled by status.",
	}, []string{"status"})
	entitiesFlushedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_crawler_entities_flushed_total",
		Help: "Entities handed to the sink, labeled by entity type.",
	}, []string{"entity"})
	flushDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slack_crawler_flush_duration_seconds",
		Help:    "Duration of per-channel sink writes.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})
)
