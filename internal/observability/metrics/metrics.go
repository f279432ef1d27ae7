// Package metrics exposes Prometheus collectors for the agent pipeline:
// oracle round trips, build attempts, endpoint checks and whole runs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentforge"

var (
	oracleRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_requests_total",
		Help:      "Oracle round trips by agent position, AI function and outcome.",
	}, []string{"position", "function", "outcome"})

	oracleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "oracle_request_duration_seconds",
		Help:      "Oracle round trip latency.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"position"})

	buildAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "build_attempts_total",
		Help:      "Builds of generated code by outcome.",
	}, []string{"outcome"})

	endpointChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "endpoint_checks_total",
		Help:      "HTTP status checks by agent position and returned status (or error).",
	}, []string{"position", "status"})

	runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Pipeline runs by outcome (succeeded or the failing error code).",
	}, []string{"outcome"})

	roleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "role_duration_seconds",
		Help:      "Time each agent role spends driving its state machine.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"position"})
)

// ObserveOracleRequest records one oracle round trip.
func ObserveOracleRequest(position, function string, err error, elapsed time.Duration) {
	oracleRequests.WithLabelValues(position, function, outcome(err)).Inc()
	oracleLatency.WithLabelValues(position).Observe(elapsed.Seconds())
}

// ObserveBuild records one build attempt.
func ObserveBuild(success bool) {
	if success {
		buildAttempts.WithLabelValues("success").Inc()
		return
	}
	buildAttempts.WithLabelValues("failure").Inc()
}

// ObserveEndpointCheck records one status check; a failed check is labelled "error".
func ObserveEndpointCheck(position string, status int, err error) {
	label := "error"
	if err == nil {
		label = strconv.Itoa(status)
	}
	endpointChecks.WithLabelValues(position, label).Inc()
}

// ObserveRun records a finished pipeline run.
func ObserveRun(result string) {
	runs.WithLabelValues(result).Inc()
}

// ObserveRole records how long a role took to reach its terminal state.
func ObserveRole(position string, elapsed time.Duration) {
	roleDuration.WithLabelValues(position).Observe(elapsed.Seconds())
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
