// Package metrics publishes Prometheus metrics for the mock pipeline:
// per-operation request outcomes and latency, plus process and Go
// runtime collectors.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels how a request left the pipeline.
const (
	OutcomeRule      = "rule"      // a scenario rule produced the response
	OutcomeGenerated = "generated" // fallback schema synthesis
	OutcomeRejected  = "rejected"  // request validation failed
	OutcomeNotFound  = "not_found" // no operation matched
	OutcomeError     = "error"     // rule or store failure
)

// Recorder publishes Prometheus metrics for pipeline activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil
// a dedicated registry is created so recorders can coexist without
// touching the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Requests processed by the mock pipeline.",
	}, []string{"operation", "status", "outcome"})

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sandboxd",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"operation", "outcome"})

	reg.MustRegister(requests, latency)

	return &Recorder{
		gatherer: reg,
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		requests: requests,
		latency:  latency,
	}
}

// Handler exposes the Prometheus scrape handler for the recorder's
// registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveRequest records one completed request. Operation is the
// matched operationId, empty when nothing matched.
func (r *Recorder) ObserveRequest(operation string, status int, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	op := normalizeLabel(operation)
	out := normalizeLabel(outcome)
	statusLabel := strconv.Itoa(status)
	if status <= 0 {
		statusLabel = "unknown"
	}
	r.requests.WithLabelValues(op, statusLabel, out).Inc()
	r.latency.WithLabelValues(op, out).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
