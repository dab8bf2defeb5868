// Package metrics exposes Prometheus collectors for the capture loop and the
// captioning server.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "caption"

// Exchange outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeEmpty     = "empty"
	OutcomeInvalid   = "invalid"
	OutcomeTransport = "transport_error"
)

var (
	exchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Total number of capture exchanges by outcome",
		},
		[]string{"outcome"},
	)

	exchangeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Time from frame capture to caption response",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// sessionState holds the numeric capture.Status of the running session.
	sessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state (0 idle, 1 initializing, 2 active, 3 error)",
		},
	)

	schedulerRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_restarts_total",
			Help:      "Number of times the capture timer was re-armed with a new period",
		},
	)

	serverRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_requests_total",
			Help:      "Caption requests handled by the server by HTTP status",
		},
		[]string{"status"},
	)

	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_duration_seconds",
			Help:      "Duration of vision model calls in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 90},
		},
		[]string{"model"},
	)

	allMetrics = []prometheus.Collector{
		exchangesTotal,
		exchangeDuration,
		sessionState,
		schedulerRestarts,
		serverRequestsTotal,
		backendDuration,
	}
)

// NewRegistry returns a registry holding every caption collector plus the Go
// runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves reg in the Prometheus exposition format on a fiber route.
func Handler(reg *prometheus.Registry) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}

// RecordExchange records one finished exchange.
func RecordExchange(outcome string, d time.Duration) {
	exchangesTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess || outcome == OutcomeEmpty || outcome == OutcomeTransport {
		exchangeDuration.Observe(d.Seconds())
	}
}

// SetSessionState publishes the session state.
func SetSessionState(state int) {
	sessionState.Set(float64(state))
}

// RecordSchedulerRestart counts a period change on a running timer.
func RecordSchedulerRestart() {
	schedulerRestarts.Inc()
}

// RecordServerRequest counts one /api/caption response.
func RecordServerRequest(status int) {
	serverRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObserveBackend records a vision model call.
func ObserveBackend(model string, d time.Duration) {
	backendDuration.WithLabelValues(model).Observe(d.Seconds())
}
