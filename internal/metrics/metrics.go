package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raker",
		Name:      "runs_total",
		Help:      "Raking runs finished, by terminal status",
	}, []string{"status"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "raker",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of raking runs",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	})

	runIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "raker",
		Name:      "run_iterations",
		Help:      "Raking iterations needed per run",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 50},
	})

	designEffect = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "raker",
		Name:      "design_effect",
		Help:      "Kish design effect of finished runs",
		Buckets:   []float64{1, 1.1, 1.25, 1.5, 2, 3, 5},
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raker",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by route and status code",
	}, []string{"method", "path", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "raker",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "path"})
)

// RecordRun records the outcome of one executed raking run. Iterations and
// design effect are skipped for runs that failed before producing them.
func RecordRun(status string, duration time.Duration, iterations int, deff float64) {
	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(duration.Seconds())
	if iterations > 0 {
		runIterations.Observe(float64(iterations))
	}
	if deff > 0 {
		designEffect.Observe(deff)
	}
}

// RecordRunCancelled counts a run cancelled before execution started.
func RecordRunCancelled() {
	runsTotal.WithLabelValues("cancelled").Inc()
}

// RecordHTTPRequest records one served API request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
