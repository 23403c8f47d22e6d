package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal counts top-level fetches by source and outcome kind
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_scraper_fetches_total",
			Help: "Total number of review fetches",
		},
		[]string{"source", "outcome"},
	)

	// FetchDuration tracks how long a full fetch takes
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "review_scraper_fetch_duration_seconds",
			Help:    "Duration of review fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"source"},
	)

	// CacheLookups counts response cache hits and misses
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_scraper_cache_lookups_total",
			Help: "Total number of response cache lookups",
		},
		[]string{"result"},
	)

	// RetryAttempts counts failed attempts seen by the retrier
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_scraper_retry_attempts_total",
			Help: "Total number of failed attempts by error kind",
		},
		[]string{"kind"},
	)

	// JobPolls counts status polls by reported status
	JobPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_scraper_job_polls_total",
			Help: "Total number of remote job status polls",
		},
		[]string{"status"},
	)

	// SessionRotations counts session rotations by trigger
	SessionRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_scraper_session_rotations_total",
			Help: "Total number of session rotations",
		},
		[]string{"reason"},
	)

	// BlocksDetected counts anti-bot denials by the check that caught them
	BlocksDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_scraper_blocks_detected_total",
			Help: "Total number of detected blocks",
		},
		[]string{"check"},
	)

	// RateLimitWait tracks time spent waiting for request spacing
	RateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "review_scraper_rate_limit_wait_seconds",
			Help:    "Time spent waiting in the rate limiter",
			Buckets: prometheus.DefBuckets,
		},
	)

	// OutboxBacklog tracks outbox events not yet relayed, by status
	OutboxBacklog = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "review_scraper_outbox_backlog",
			Help: "Outbox events waiting to be relayed",
		},
		[]string{"status"},
	)

	// HTTPRequests counts API requests by route and status code
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_scraper_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"route", "code"},
	)
)

func RecordCacheLookup(hit bool) {
	if hit {
		CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	CacheLookups.WithLabelValues("miss").Inc()
}
