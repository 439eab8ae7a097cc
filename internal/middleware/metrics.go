package middleware

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
		Name: "corestore_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "corestore_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ingestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corestore_ingestions_total",
		Help: "Total write-ingestion outcomes by input kind and result.",
	}, []string{"kind", "result"})

	ledgerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corestore_ledger_transitions_total",
		Help: "Total memory-ledger status transitions by from/to status.",
	}, []string{"from", "to"})

	rateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corestore_rate_limit_rejections_total",
		Help: "Total requests rejected for exceeding a rate-limit bucket.",
	}, []string{"bucket"})
)

// Metrics returns Gin middleware that records per-request counters and
// latency histograms, keyed by route template rather than raw path so
// cardinality stays bounded across tenants.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		requestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler serves the Prometheus exposition format.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) }
}

// RecordIngestion records a write-ingestion outcome for one input kind
// ("profile", "table_row", "memory_text").
func RecordIngestion(kind, result string) {
	ingestionsTotal.WithLabelValues(kind, result).Inc()
}

// RecordLedgerTransition records a ledger row moving from one status to another.
func RecordLedgerTransition(from, to string) {
	ledgerTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordRateLimitRejection records a request rejected by the named bucket.
func RecordRateLimitRejection(bucket string) {
	rateLimitRejectionsTotal.WithLabelValues(bucket).Inc()
}
