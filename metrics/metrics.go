package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestCounter counts HTTP requests by status code, method and route pattern
	RequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palanteer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"status", "method", "route"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "palanteer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status", "method", "route"},
	)

	RateLimiterRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "palanteer_rate_limiter_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// SubmissionsTotal counts accepted uploads and rejections by reason
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palanteer_submissions_total",
			Help: "Submission attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ScoringJobs counts finished scoring jobs by final status and error reason
	ScoringJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palanteer_scoring_jobs_total",
			Help: "Finished scoring jobs",
		},
		[]string{"status", "reason"},
	)

	ScoringDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "palanteer_scoring_duration_seconds",
			Help:    "Time spent scoring one submission",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"metric"},
	)

	ScoringQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "palanteer_scoring_queue_depth",
			Help: "Scoring jobs waiting for a worker",
		},
	)

	ScoringRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palanteer_scoring_retries_total",
			Help: "Retried operations after a system error",
		},
		[]string{"operation"},
	)

	// RankUpdates counts leaderboard re-rank transactions
	RankUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palanteer_rank_updates_total",
			Help: "Leaderboard re-rank transactions by result",
		},
		[]string{"result"},
	)
)
