package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics instruments the inbound HTTP surface.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	httpOnce     sync.Once
	httpInstance *HTTPMetrics
)

// HTTP returns the process-wide HTTP metrics instance.
func HTTP() *HTTPMetrics {
	httpOnce.Do(func() {
		httpInstance = newHTTPMetrics(prometheus.DefaultRegisterer, Config{})
	})
	return httpInstance
}

// HTTPWithConfig initializes the singleton with service labels. Later
// calls return the already-built instance.
func HTTPWithConfig(cfg Config) *HTTPMetrics {
	httpOnce.Do(func() {
		httpInstance = newHTTPMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return httpInstance
}

func newHTTPMetrics(registerer prometheus.Registerer, cfg Config) *HTTPMetrics {
	constLabels := prometheus.Labels{}
	if name := strings.TrimSpace(cfg.ServiceName); name != "" {
		constLabels["service"] = name
	}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		constLabels["env"] = env
	}

	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "enroll_http_requests_total",
			Help:        "HTTP requests by method, route and status.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "enroll_http_request_duration_seconds",
			Help:        "HTTP request latency by method and route.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
	}

	if registerer != nil {
		registerer.MustRegister(m.requests, m.duration)
	}
	return m
}

// GinMiddleware records request counts and latency. Routes are the gin
// route templates, never raw paths, to keep cardinality bounded.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if m == nil {
			return
		}
		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
