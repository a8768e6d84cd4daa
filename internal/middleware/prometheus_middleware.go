package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Метрики HTTP-слоя
var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_http_requests_total",
		Help: "Всего HTTP запросов",
	}, []string{"method", "path", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "replay_http_request_duration_seconds",
		Help:    "Длительность обработки HTTP запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// WebsocketConnections активные websocket-соединения зрителей
	WebsocketConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "replay_websocket_connections",
		Help: "Активные websocket соединения",
	})
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, WebsocketConnections)
}

// PrometheusMiddleware собирает метрики по каждому HTTP запросу
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
