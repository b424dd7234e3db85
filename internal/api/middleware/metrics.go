// metrics.go — Prometheus HTTP метрики ядра киоска.
// Регистрирует метрики: kc_http_requests_total, kc_http_request_duration_seconds,
// kc_stream_bytes_total. Метрики сессии и сборщиков регистрируются в пакете service.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kc_http_requests_total",
			Help: "Общее количество HTTP-запросов к ядру киоска",
		},
		[]string{"server", "method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kc_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к ядру киоска в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server", "method", "path"},
	)
)

// StreamBytesTotal — количество байт, отданных при стриминге ресурсов.
// Обновляется обработчиком ресурсов.
var StreamBytesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kc_stream_bytes_total",
		Help: "Количество байт, отданных при стриминге ресурсов",
	},
	[]string{"source", "partial"},
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// server — имя сервера (admin, stream) для лейбла.
func MetricsMiddleware(server string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			// Шаблон маршрута известен только после маршрутизации
			path := routePattern(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(server, r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(server, r.Method, path).Observe(duration)
		})
	}
}

// routePattern возвращает шаблон chi-маршрута ({category}, {name} вместо
// имён файлов) для ограничения кардинальности метрик.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	pattern := rctx.RoutePattern()
	if pattern == "" {
		return "unmatched"
	}
	// Вложенные роутеры оставляют "/*" в середине шаблона
	return strings.ReplaceAll(pattern, "/*/", "/")
}
