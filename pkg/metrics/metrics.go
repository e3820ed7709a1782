package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FeedMessages counts feed events per product by what the sync engine did with them:
// applied, queued, stale or gap.
var FeedMessages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "obsync_feed_messages_total",
		Help: "Feed events handled by the order book sync, by outcome",
	},
	[]string{"product", "outcome"},
)

// Resyncs counts snapshot resynchronisations started per product.
var Resyncs = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "obsync_resyncs_total",
		Help: "Order book resyncs started",
	},
	[]string{"product"},
)

// Snapshot fetch metrics
var (
	SnapshotFetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obsync_snapshot_fetch_errors_total",
			Help: "Failed snapshot fetch attempts",
		},
		[]string{"product"},
	)

	SnapshotFetchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "obsync_snapshot_fetch_latency_seconds",
			Help:    "Latency in seconds of successful snapshot fetches",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Book state gauges
var (
	PendingMessages = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "obsync_pending_messages",
			Help: "Feed events buffered while a snapshot is loading",
		},
		[]string{"product"},
	)

	Watermark = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "obsync_watermark",
			Help: "Sequence number of the last applied feed event",
		},
		[]string{"product"},
	)
)

// InvariantViolations counts books discarded because their structures diverged.
var InvariantViolations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "obsync_invariant_violations_total",
		Help: "Order book invariant violations that forced a resync",
	},
	[]string{"product"},
)

// DroppedUpdates counts published books a slow subscriber never received.
var DroppedUpdates = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "obsync_dropped_book_updates_total",
		Help: "Book updates dropped because a subscriber buffer was full",
	},
	[]string{"product"},
)

// FeedReconnects counts websocket feed reconnections.
var FeedReconnects = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "obsync_feed_reconnects_total",
		Help: "Websocket feed reconnections",
	},
)

func init() {
	prometheus.MustRegister(FeedMessages, Resyncs)
	prometheus.MustRegister(SnapshotFetchErrors, SnapshotFetchLatency)
	prometheus.MustRegister(PendingMessages, Watermark, InvariantViolations)
	prometheus.MustRegister(DroppedUpdates, FeedReconnects)
}
