package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HTTP request metrics, labelled by route template
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terrahash_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"path", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "terrahash_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "terrahash_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "terrahash_db_idle_connections",
			Help: "Number of idle connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "terrahash_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

// LedgerCallDuration times every Hedera round trip by operation and outcome.
var LedgerCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "terrahash_ledger_call_duration_seconds",
		Help:    "Latency of Hedera ledger calls",
		Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 16},
	},
	[]string{"operation", "outcome"},
)

// Registry domain counters
var (
	PurchasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terrahash_purchases_total",
			Help: "Purchase and lease attempts by listing type and result",
		},
		[]string{"type", "result"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terrahash_events_published_total",
			Help: "Registry events handed to a publisher",
		},
		[]string{"sink", "result"},
	)

	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "terrahash_ws_connections",
		Help: "Current number of map websocket clients",
	})
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal, HTTPRequestDuration)
	prometheus.MustRegister(DBOpenConns, DBIdleConns, DBInUseConns)
	prometheus.MustRegister(LedgerCallDuration, PurchasesTotal, EventsPublished, WSConnections)
}
