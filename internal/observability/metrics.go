package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the RED instruments shared by use cases and adapters.
type Metrics struct {
	UseCaseRequests      *prometheus.CounterVec   // usecase_requests_total{use_case,outcome}
	UseCaseDuration      *prometheus.HistogramVec // usecase_duration_seconds{use_case}
	GatewayRequests      *prometheus.CounterVec   // gateway_requests_total{operation,outcome}
	GatewayDuration      *prometheus.HistogramVec // gateway_request_duration_seconds{operation}
	StockShortages       prometheus.Counter
	NotificationFailures *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UseCaseRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usecase_requests_total",
			Help: "Use case executions by outcome.",
		}, []string{"use_case", "outcome"}),
		UseCaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usecase_duration_seconds",
			Help:    "Use case latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"use_case"}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Payment gateway calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Payment gateway call latency.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		StockShortages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_stock_shortages_total",
			Help: "Reservations rejected for insufficient stock.",
		}),
		NotificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Notification deliveries that failed.",
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.UseCaseRequests, m.UseCaseDuration, m.GatewayRequests, m.GatewayDuration,
			m.StockShortages, m.NotificationFailures,
		)
	}
	return m
}

func (m *Metrics) ObserveGateway(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(operation, outcome).Inc()
	m.GatewayDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) ShortageObserved(lines int) {
	if m == nil {
		return
	}
	m.StockShortages.Add(float64(lines))
}

func (m *Metrics) NotificationFailed(event string) {
	if m == nil {
		return
	}
	m.NotificationFailures.WithLabelValues(event).Inc()
}
