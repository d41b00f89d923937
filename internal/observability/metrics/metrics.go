package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetdesk_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleetdesk_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	provisionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleetdesk_provision_duration_seconds",
		Help:    "Duration of first-login provisioning attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	orderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetdesk_order_transitions_total",
		Help: "Order status transitions by source status, target status and result",
	}, []string{"from", "to", "result"})

	claimsCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetdesk_claims_cache_lookups_total",
		Help: "Claims cache lookups by result",
	}, []string{"result"})

	consistencyChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetdesk_timeline_consistency_checks_total",
		Help: "Order timeline consistency checks by result",
	}, []string{"result"})

	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetdesk_events_published_total",
		Help: "Domain events published on the bus by kind and result",
	}, []string{"kind", "result"})

	liveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetdesk_live_subscribers",
		Help: "Number of connected websocket event subscribers",
	})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveProvision records the duration of a provisioning attempt with a result label.
func ObserveProvision(result string, duration time.Duration) {
	provisionDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveTransition counts an order transition attempt.
func ObserveTransition(from, to, result string) {
	orderTransitions.WithLabelValues(from, to, result).Inc()
}

// ObserveClaimsCache counts a claims cache hit or miss.
func ObserveClaimsCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	claimsCacheLookups.WithLabelValues(result).Inc()
}

// ObserveConsistency counts a timeline consistency check outcome.
func ObserveConsistency(result string) {
	consistencyChecks.WithLabelValues(result).Inc()
}

// ObserveEvent counts a published event.
func ObserveEvent(kind, result string) {
	eventsPublished.WithLabelValues(kind, result).Inc()
}

// SubscriberConnected and SubscriberDisconnected track live websocket clients.
func SubscriberConnected()    { liveSubscribers.Inc() }
func SubscriberDisconnected() { liveSubscribers.Dec() }
