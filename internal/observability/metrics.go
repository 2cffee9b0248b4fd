package observability

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests handled, labeled by method, route and status.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arena",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	submissionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "submissions",
		Name:      "outcomes_total",
		Help:      "Submission pipeline outcomes, labeled by terminal state.",
	}, []string{"outcome"})

	leaderboardBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "leaderboard",
		Name:      "builds_total",
		Help:      "Leaderboard recomputations, labeled by cache disposition.",
	}, []string{"source"})
)

// SubmissionOutcomes counts terminal states of the submission pipeline.
func SubmissionOutcomes() *prometheus.CounterVec {
	return submissionOutcomes
}

// LeaderboardBuilds counts leaderboard recomputations by source
// ("cache", "store").
func LeaderboardBuilds() *prometheus.CounterVec {
	return leaderboardBuilds
}

// HTTPMetrics records request counts and latency per route. Registered as
// fiber middleware so every handler is covered without per-handler wiring.
func HTTPMetrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		if route == "" {
			route = c.Path()
		}
		status := c.Response().StatusCode()
		if err != nil {
			if fiberErr, ok := err.(*fiber.Error); ok {
				status = fiberErr.Code
			}
		}

		httpRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}
