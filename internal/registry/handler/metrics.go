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
	avRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentvault_requests_total",
		Help: "Total HTTP requests by method, route, and response status.",
	}, []string{"method", "route", "status"})

	avRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentvault_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	avFederationQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentvault_federation_peer_queries_total",
		Help: "Federated search peer lookups by result (hit, miss, failed).",
	}, []string{"result"})

	avTransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentvault_transfers_total",
		Help: "Token transfers by outcome.",
	}, []string{"outcome"})
)

// subscriberCounter exposes the live A2A subscriber count; the broker
// satisfies it.
type subscriberCounter interface {
	SubscriberCount() int
}

// RegisterSubscriberGauge registers a gauge tracking live task-event
// subscribers. Call once at wiring time.
func RegisterSubscriberGauge(sc subscriberCounter) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "agentvault_task_subscribers",
		Help: "Currently connected task event subscribers.",
	}, func() float64 { return float64(sc.SubscriberCount()) })
}

// MetricsMiddleware records the request counter and latency histogram.
// Routes are recorded by pattern, not raw path, to bound cardinality.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		avRequestsTotal.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status()),
		).Inc()
		avRequestDuration.WithLabelValues(c.Request.Method, route).
			Observe(time.Since(start).Seconds())
	}
}

// MetricsRoute serves the Prometheus scrape endpoint.
func MetricsRoute() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func recordFederationStats(hits, successes, failures int) {
	avFederationQueriesTotal.WithLabelValues("hit").Add(float64(hits))
	avFederationQueriesTotal.WithLabelValues("miss").Add(float64(successes - hits))
	avFederationQueriesTotal.WithLabelValues("failed").Add(float64(failures))
}
