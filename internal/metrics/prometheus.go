package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests received",
	},
	[]string{"endpoint", "status", "method"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"endpoint", "method"},
)

var HTTPErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_errors_total",
		Help: "Total number of failed HTTP requests (4xx/5xx)",
	},
	[]string{"endpoint", "status", "method"},
)

var HTTPRateLimitRejectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "http_rate_limit_rejections_total",
		Help: "Total number of HTTP requests rejected due to rate limiting",
	},
)

var LedgerTransactionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_transactions_total",
		Help: "Total number of inventory transactions appended to the ledger",
	},
	[]string{"type", "status"},
)

var LedgerRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_rejections_total",
		Help: "Total number of inventory transactions rejected before append",
	},
	[]string{"reason"},
)

var LedgerConflictRetriesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "ledger_conflict_retries_total",
		Help: "Total number of ledger appends retried after a concurrent stock change",
	},
)

var StockCountsFinalizedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "stock_counts_finalized_total",
		Help: "Total number of stock counts that reached a terminal state",
	},
	[]string{"status"},
)

var RealtimeClients = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "realtime_clients",
		Help: "Number of connected realtime websocket clients",
	},
)

var RealtimeMessagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "realtime_messages_total",
		Help: "Total number of realtime messages by direction and type",
	},
	[]string{"direction", "type"},
)

var RealtimeDroppedClientsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "realtime_dropped_clients_total",
		Help: "Total number of realtime clients dropped for a full send buffer",
	},
)

var KafkaPublishSuccessTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kafka_publish_success_total",
		Help: "Total number of successful Kafka publishes",
	},
	[]string{"topic"},
)

var KafkaPublishFailureTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kafka_publish_failure_total",
		Help: "Total number of failed Kafka publishes",
	},
	[]string{"topic"},
)

var KafkaSubscriberFailureTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kafka_subscriber_failure_total",
		Help: "Total number of failed Kafka reads or handled messages",
	},
	[]string{"topic"},
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPErrorsTotal,
			HTTPRateLimitRejectionsTotal,
			LedgerTransactionsTotal,
			LedgerRejectionsTotal,
			LedgerConflictRetriesTotal,
			StockCountsFinalizedTotal,
			RealtimeClients,
			RealtimeMessagesTotal,
			RealtimeDroppedClientsTotal,
			KafkaPublishSuccessTotal,
			KafkaPublishFailureTotal,
			KafkaSubscriberFailureTotal,
		)
	})
}
