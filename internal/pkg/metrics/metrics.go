package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors of the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Rate limiting metrics
	RateLimitDecisions *prometheus.CounterVec
	RateLimitErrors    *prometheus.CounterVec

	// Webhook metrics
	WebhookOperations     *prometheus.CounterVec
	WebhookTestDeliveries *prometheus.CounterVec
	WebhookTestDuration   prometheus.Histogram
	ReachabilityProbes    *prometheus.CounterVec
}

var (
	metrics *Metrics
	once    sync.Once
)

// Init registers every collector once and returns the shared instance.
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
				},
				[]string{"method", "path"},
			),
			HTTPRequestsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "http_requests_in_flight",
					Help: "Number of HTTP requests currently being processed",
				},
			),

			RateLimitDecisions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rate_limit_decisions_total",
					Help: "Rate limiter decisions by class and outcome",
				},
				[]string{"class", "outcome"},
			),
			RateLimitErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rate_limit_backend_errors_total",
					Help: "Rate limiter backend failures; requests were admitted",
				},
				[]string{"class"},
			),

			WebhookOperations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "webhook_operations_total",
					Help: "Webhook lifecycle operations by outcome",
				},
				[]string{"operation", "outcome"},
			),
			WebhookTestDeliveries: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "webhook_test_deliveries_total",
					Help: "Test deliveries by outcome",
				},
				[]string{"outcome"},
			),
			WebhookTestDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "webhook_test_delivery_duration_seconds",
					Help:    "Test delivery round trip in seconds",
					Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
				},
			),
			ReachabilityProbes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "webhook_reachability_probes_total",
					Help: "Reachability probes of new webhook URLs by outcome",
				},
				[]string{"outcome"},
			),
		}
	})
	return metrics
}

func Get() *Metrics {
	return Init()
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func RecordRequest(method, path string, status string, duration time.Duration) {
	m := Get()
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordRateLimit(class string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	Get().RateLimitDecisions.WithLabelValues(class, result).Inc()
}

func RecordRateLimitError(class string) {
	Get().RateLimitErrors.WithLabelValues(class).Inc()
}

func RecordWebhookOperation(operation string, ok bool) {
	Get().WebhookOperations.WithLabelValues(operation, outcome(ok)).Inc()
}

func RecordTestDelivery(ok bool, duration time.Duration) {
	m := Get()
	m.WebhookTestDeliveries.WithLabelValues(outcome(ok)).Inc()
	m.WebhookTestDuration.Observe(duration.Seconds())
}

func RecordProbe(ok bool) {
	Get().ReachabilityProbes.WithLabelValues(outcome(ok)).Inc()
}
