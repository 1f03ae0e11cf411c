package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Business metrics
	claimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_claims_total",
			Help: "Total number of claim attempts by outcome",
		},
		[]string{"outcome"}, // success | conflict | not_found | validation | error
	)

	cancelsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_cancels_total",
			Help: "Total number of cancel attempts by outcome",
		},
		[]string{"outcome"},
	)

	outboxDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_outbox_deliveries_total",
			Help: "Total number of outbox delivery attempts by result",
		},
		[]string{"result"}, // sent | retryable | parked
	)

	outboxDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "booking_outbox_delivery_duration_seconds",
			Help:    "Webhook delivery round-trip duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	s := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, endpoint, s).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, s).Observe(duration.Seconds())
}

func RecordClaim(outcome string)  { claimsTotal.WithLabelValues(outcome).Inc() }
func RecordCancel(outcome string) { cancelsTotal.WithLabelValues(outcome).Inc() }

func RecordOutboxDelivery(result string, duration time.Duration) {
	outboxDeliveriesTotal.WithLabelValues(result).Inc()
	outboxDeliveryDuration.Observe(duration.Seconds())
}
