// Package metrics exposes the broker's Prometheus series and the
// /metrics HTTP handler that serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ObjectsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "objtalk_objects_total",
		Help: "Current number of objects in the store",
	})

	ClientsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "objtalk_clients_connected",
		Help: "Current number of connected clients",
	})

	QueriesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "objtalk_queries_active",
		Help: "Current number of live queries across all clients",
	})

	StreamsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "objtalk_streams_open",
		Help: "Current number of open byte streams",
	})

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "objtalk_requests_total",
		Help: "Total number of requests handled, by wire type and outcome",
	}, []string{"type", "outcome"})

	InvokeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "objtalk_invoke_latency_seconds",
		Help:    "Time from invoke request to invoke_result, successes only",
		Buckets: prometheus.DefBuckets,
	})

	StorageWriteQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "objtalk_storage_write_queue_depth",
		Help: "Current number of pending storage writes in the worker pool",
	})

	StorageWritesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "objtalk_storage_writes_dropped_total",
		Help: "Total storage writes dropped because the worker pool queue was full",
	})

	RateLimitedRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "objtalk_rate_limited_requests_total",
		Help: "Total requests rejected by the per-connection rate limiter",
	})

	CPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "objtalk_cpu_percent",
		Help: "Process CPU usage percentage, as last sampled by the system monitor",
	})

	MemoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "objtalk_memory_bytes",
		Help: "Go heap bytes allocated (runtime MemStats.Alloc), as last sampled by the system monitor",
	})

	KafkaMessagesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "objtalk_kafka_messages_ingested_total",
		Help: "Total messages consumed from Kafka and applied as Set calls",
	})

	KafkaMessagesRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "objtalk_kafka_messages_rejected_total",
		Help: "Total Kafka messages that failed to decode or apply",
	})
)

func init() {
	prometheus.MustRegister(
		ObjectsTotal,
		ClientsConnected,
		QueriesActive,
		StreamsOpen,
		RequestsTotal,
		InvokeLatency,
		StorageWriteQueueDepth,
		StorageWritesDropped,
		RateLimitedRequests,
		CPUPercent,
		MemoryBytes,
		KafkaMessagesIngested,
		KafkaMessagesRejected,
	)
}

// Handler returns the http.Handler that serves /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
