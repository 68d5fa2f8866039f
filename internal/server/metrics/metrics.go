// Package metrics собирает Prometheus метрики сервера чата.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics - метрики сервера. Все методы безопасны для nil получателя,
// поэтому компоненты можно собирать без метрик (например, в тестах).
type Metrics struct {
	registry *prometheus.Registry

	// OnlineUsers - число пользователей хотя бы с одним соединением
	OnlineUsers prometheus.Gauge

	// Connections - число живых real-time соединений
	Connections prometheus.Gauge

	// MessagesTotal считает отправки по исходу.
	// Labels: outcome (delivered|sent|rejected|failed)
	MessagesTotal *prometheus.CounterVec

	// AuthFailures считает отказы аутентификации.
	// Labels: reason (expired|unauthenticated|invalid_credentials)
	AuthFailures *prometheus.CounterVec

	// HTTPRequests считает HTTP запросы.
	// Labels: method, status_code
	HTTPRequests *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency in seconds.
	// Labels: method
	HTTPRequestDuration *prometheus.HistogramVec
}

// New создает метрики в собственном реестре
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gophchat_online_users",
			Help: "Number of users with at least one live connection",
		}),
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gophchat_connections",
			Help: "Number of live real-time connections",
		}),
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gophchat_messages_total",
			Help: "Messages processed by outcome",
		}, []string{"outcome"}),
		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gophchat_auth_failures_total",
			Help: "Authentication failures by reason",
		}, []string{"reason"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gophchat_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gophchat_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method"}),
	}
}

// Handler отдает метрики в формате Prometheus
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetPresence выставляет gauges присутствия
func (m *Metrics) SetPresence(users, conns int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(users))
	m.Connections.Set(float64(conns))
}

// MessageOutcome учитывает исход отправки сообщения
func (m *Metrics) MessageOutcome(outcome string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(outcome).Inc()
}

// AuthFailure учитывает отказ аутентификации
func (m *Metrics) AuthFailure(reason string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(reason).Inc()
}

// ObserveHTTP учитывает HTTP запрос
func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}
