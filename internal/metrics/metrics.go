package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counts ingestion ticks by outcome: run | skipped | degraded.
	IngestTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_ingest_ticks_total",
			Help: "Total number of ingestion ticks by outcome.",
		},
		[]string{"outcome"},
	)

	// Counts resolved quotes per tick by status.
	ResolvedQuotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_resolved_total",
			Help: "Total number of quotes resolved, by status.",
		},
		[]string{"status"}, // OK | STALE | NO_PRICE
	)

	// Counts provider fetch attempts by provider key and result.
	ProviderFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_provider_fetch_total",
			Help: "Total number of provider fetch attempts.",
		},
		[]string{"provider", "result"}, // result = ok | empty | invalid | error
	)

	ProviderFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quote_provider_fetch_duration_seconds",
			Help:    "Duration of provider fetch calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms -> ~4s
		},
		[]string{"provider"},
	)

	// Counts lock operations by op and result.
	LockOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_lock_ops_total",
			Help: "Total number of quote lock operations.",
		},
		[]string{"op", "result"}, // op = lock | get | consume | mark_consumed
	)

	// Tracks NATS messages published by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages published.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_engine_errors_total",
			Help: "Count of errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the last successful ingestion tick (seconds since epoch).
	LastTickTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quote_ingest_last_tick_timestamp",
			Help: "Timestamp (unix seconds) of the last completed ingestion tick.",
		},
		[]string{"component"},
	)

	// Gauges active stream subscribers.
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quote_stream_subscribers",
			Help: "Number of currently registered quote stream subscribers.",
		},
	)
)

// ObserveDuration records the time taken since start on the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// counters are not meant for duration tracking
	}
}

func IncTick(outcome string) {
	IngestTicksTotal.WithLabelValues(outcome).Inc()
}

func IncResolved(status string) {
	ResolvedQuotesTotal.WithLabelValues(status).Inc()
}

func IncProviderFetch(provider, result string) {
	ProviderFetchTotal.WithLabelValues(provider, result).Inc()
}

func IncLockOp(op, result string) {
	LockOpsTotal.WithLabelValues(op, result).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastTick(component string, t time.Time) {
	LastTickTimestamp.WithLabelValues(component).Set(float64(t.Unix()))
}
