// Package metrics exposes Prometheus instrumentation for the deployment
// engine: session outcomes, per-phase durations, retry pressure on the
// management channel, and stream consumer counts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockhand_deployments_total",
			Help: "Total number of deployment sessions by outcome",
		},
		[]string{"outcome"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockhand_active_sessions",
			Help: "Number of deployment sessions currently running",
		},
	)

	PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dockhand_phase_duration_seconds",
			Help:    "Duration of each deployment phase in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"phase"},
	)

	// Remote executor metrics
	CommandRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dockhand_command_retries_total",
			Help: "Total number of remote command connectivity retries",
		},
	)

	// Stream metrics
	StreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockhand_stream_clients",
			Help: "Number of connected progress stream clients",
		},
	)

	StreamDeliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dockhand_stream_delivery_failures_total",
			Help: "Total number of events that could not be delivered to a client",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockhand_api_requests_total",
			Help: "Total number of API requests by path and status",
		},
		[]string{"path", "status"},
	)
)

func init() {
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(PhaseDuration)
	prometheus.MustRegister(CommandRetriesTotal)
	prometheus.MustRegister(StreamClients)
	prometheus.MustRegister(StreamDeliveryFailures)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObservePhase records the elapsed time against the phase histogram
func (t *Timer) ObservePhase(phase string) {
	PhaseDuration.WithLabelValues(phase).Observe(time.Since(t.start).Seconds())
}
