package metrics

import (
	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chainguard"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// LookupsTotal counts single-transaction lookups by outcome.
	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Risk lookups by outcome (ok, not_found, invalid_input, unavailable, internal).",
		},
		[]string{"outcome"},
	)

	// GraphNodes observes the size of returned graph views.
	GraphNodes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "graph_view_nodes",
		Help:      "Number of nodes in returned neighborhood views.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 150, 250, 500},
	})

	// GraphTruncatedTotal counts views cut short by the node or step bound.
	GraphTruncatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "graph_truncated_total",
		Help:      "Neighborhood expansions truncated by max_nodes, step budget or cancellation.",
	})

	// BulkRowsTotal counts bulk-scored rows by band, or "error".
	BulkRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_rows_total",
			Help:      "Bulk scoring rows by resulting band or error.",
		},
		[]string{"band"},
	)

	// ShadowComparisonsTotal counts shadow comparisons by result.
	ShadowComparisonsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shadow_comparisons_total",
			Help:      "Shadow model comparisons by result (agree, diverge).",
		},
		[]string{"result"},
	)

	// AuditWritesDroppedTotal counts audit writes dropped by a full or
	// closed queue.
	AuditWritesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_dropped_total",
			Help:      "Audit writes dropped because the write queue was full or closed, by kind.",
		},
		[]string{"kind"},
	)

	// DatasetTransactions is the size of the published score table.
	DatasetTransactions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "dataset_transactions",
		Help: "Transactions in the published score table.",
	})
	// DatasetEdges is the size of the published adjacency index.
	DatasetEdges = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "dataset_edges",
		Help: "Distinct directed edges in the published adjacency index.",
	})

	// ActiveWebSocketClients tracks connected alert stream clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected alert stream clients.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LookupsTotal,
		GraphNodes,
		GraphTruncatedTotal,
		BulkRowsTotal,
		ShadowComparisonsTotal,
		AuditWritesDroppedTotal,
		DatasetTransactions,
		DatasetEdges,
		ActiveWebSocketClients,
	)
}

// Outcome maps an operation error onto the outcome label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return models.ErrorKind(err)
}

// ObserveGraph records one returned graph view.
func ObserveGraph(view *models.GraphView) {
	GraphNodes.Observe(float64(len(view.Nodes)))
	if view.Truncated {
		GraphTruncatedTotal.Inc()
	}
}

// ObserveBulk records the rows of a bulk run.
func ObserveBulk(res *models.BulkResult) {
	BulkRowsTotal.WithLabelValues(string(models.BandCritical)).Add(float64(res.CriticalRisk))
	BulkRowsTotal.WithLabelValues(string(models.BandHigh)).Add(float64(res.HighRisk))
	BulkRowsTotal.WithLabelValues(string(models.BandMedium)).Add(float64(res.MediumRisk))
	BulkRowsTotal.WithLabelValues(string(models.BandLow)).Add(float64(res.LowRisk))
	BulkRowsTotal.WithLabelValues("error").Add(float64(res.Errors))
}

// Middleware returns gin middleware that records request count and latency.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern keeps label cardinality bounded
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics handler for /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into classes.
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
