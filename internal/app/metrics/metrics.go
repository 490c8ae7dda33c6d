// Package metrics exposes the Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gridshare",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridshare",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gridshare",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	connectionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridshare",
			Subsystem: "connections",
			Name:      "requests_total",
			Help:      "Connection requests created, by utility type.",
		},
		[]string{"type"},
	)

	connectionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridshare",
			Subsystem: "connections",
			Name:      "transitions_total",
			Help:      "Connection request and connection state transitions.",
		},
		[]string{"type", "transition"},
	)

	capacityRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gridshare",
			Subsystem: "capacity",
			Name:      "insufficient_total",
			Help:      "Accepts rejected for insufficient operation points.",
		},
	)

	activeConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gridshare",
			Subsystem: "connections",
			Name:      "active",
			Help:      "Currently active utility connections, by type.",
		},
		[]string{"type"},
	)

	subscriptionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridshare",
			Subsystem: "subscriptions",
			Name:      "transitions_total",
			Help:      "Subscription state transitions.",
		},
		[]string{"type", "transition"},
	)

	billingRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gridshare",
			Subsystem: "subscriptions",
			Name:      "billing_runs_total",
			Help:      "Billing runner passes completed.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		connectionRequests,
		connectionTransitions,
		capacityRejections,
		activeConnections,
		subscriptionTransitions,
		billingRuns,
	)
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncInFlight increments the in-flight HTTP gauge.
func IncInFlight() { httpInFlight.Inc() }

// DecInFlight decrements the in-flight HTTP gauge.
func DecInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordConnectionRequest counts a created connection request.
func RecordConnectionRequest(connType string) {
	connectionRequests.WithLabelValues(connType).Inc()
}

// RecordConnectionTransition counts a lifecycle transition.
func RecordConnectionTransition(connType, transition string) {
	connectionTransitions.WithLabelValues(connType, transition).Inc()
}

// RecordInsufficientCapacity counts a capacity-rejected accept.
func RecordInsufficientCapacity() { capacityRejections.Inc() }

// AddActiveConnections moves the active connection gauge for a type.
func AddActiveConnections(connType string, delta float64) {
	activeConnections.WithLabelValues(connType).Add(delta)
}

// RecordSubscriptionTransition counts a subscription lifecycle transition.
func RecordSubscriptionTransition(subType, transition string) {
	subscriptionTransitions.WithLabelValues(subType, transition).Inc()
}

// RecordBillingRun counts one billing runner pass.
func RecordBillingRun() { billingRuns.Inc() }
