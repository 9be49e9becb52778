package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingest metrics
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codepulse_events_ingested_total",
			Help: "Total number of telemetry events received by the gateway",
		},
		[]string{"transport", "status"}, // status: accepted|duplicate|unauthorized|malformed|overloaded
	)

	DedupDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codepulse_dedup_drops_total",
			Help: "Events dropped as exact retransmissions across transports",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codepulse_reconciler_queue_depth",
			Help: "Events accepted by the gateway and not yet merged",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codepulse_active_sessions",
			Help: "Currently open coding sessions across all keys",
		},
	)

	// Reconciler metrics
	SessionsReconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codepulse_sessions_reconciled_total",
			Help: "Sessions closed and handed to persistence",
		},
		[]string{"reason"}, // reason: close_event|timeout|shutdown
	)

	// Persistence metrics
	StoreWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codepulse_store_writes_total",
			Help: "Session write attempts per store",
		},
		[]string{"store", "status"}, // status: ok|error
	)

	StoreWriteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codepulse_store_write_latency_seconds",
			Help:    "Session write latency per store",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"store"},
	)

	PartialPersists = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codepulse_partial_persists_total",
			Help: "Sessions that reached only one store and were recorded for repair",
		},
		[]string{"failed_store"},
	)

	RepairsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codepulse_repairs_completed_total",
			Help: "Partially persisted sessions repaired by the background pass",
		},
	)

	// Fan-out metrics
	FanoutDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codepulse_fanout_delivered_total",
			Help: "Live updates delivered to subscribers",
		},
		[]string{"type"}, // type: progress|final
	)

	FanoutDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codepulse_fanout_dropped_total",
			Help: "Live updates dropped because a subscriber buffer was full",
		},
	)

	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codepulse_fanout_subscribers",
			Help: "Currently connected live subscribers",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EventsIngested,
		DedupDrops,
		QueueDepth,
		ActiveSessions,
		SessionsReconciled,
		StoreWrites,
		StoreWriteLatency,
		PartialPersists,
		RepairsCompleted,
		FanoutDelivered,
		FanoutDropped,
		Subscribers,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
