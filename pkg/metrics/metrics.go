package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service exports. Collectors register on
// a private registry so tests can build as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	WSConnections    prometheus.Gauge
	WSDropped        *prometheus.CounterVec
	OrdersCreated    prometheus.Counter
	PaymentsCaptured *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	KafkaErrors      prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pos_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pos_ws_connections",
			Help: "Currently registered WebSocket connections.",
		}),
		WSDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_ws_dropped_total",
			Help: "WebSocket connections dropped by the hub, by reason.",
		}, []string{"reason"}),
		OrdersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "pos_orders_created_total",
			Help: "Orders created.",
		}),
		PaymentsCaptured: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_payments_captured_total",
			Help: "Captured payments by provider.",
		}, []string{"provider"}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_webhook_events_total",
			Help: "Webhook events by provider and result.",
		}, []string{"provider", "result"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "pos_menu_cache_hits_total",
			Help: "Menu cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "pos_menu_cache_misses_total",
			Help: "Menu cache misses.",
		}),
		KafkaErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "pos_kafka_publish_errors_total",
			Help: "Failed Kafka publishes (events are still delivered in-process).",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
