package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_logins_total",
		Help: "Login attempts by method and result.",
	}, []string{"method", "result"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_upstream_errors_total",
		Help: "Unclassified platform failures by operation.",
	}, []string{"op"})

	dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_dependency_up",
		Help: "1 if the last probe of a dependency succeeded, else 0.",
	}, []string{"dependency"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func recordLogin(method string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	loginsTotal.WithLabelValues(method, result).Inc()
}

// RecordDependency sets the dependency gauge. It matches health.MetricsRecordFunc.
func RecordDependency(name string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	dependencyUp.WithLabelValues(name).Set(v)
}
