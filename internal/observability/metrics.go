// Package observability provides metrics and tracing.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracehub_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// ItemsPosted counts item reports by type.
	ItemsPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracehub_items_posted_total",
		Help: "Total number of lost and found reports created",
	}, []string{"type"})

	// ItemsDeleted counts owner deletions.
	ItemsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracehub_items_deleted_total",
		Help: "Total number of item reports removed by their owners",
	})

	// MessagesPosted counts discussion messages appended.
	MessagesPosted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracehub_discussion_messages_total",
		Help: "Total number of discussion messages appended",
	})

	// WebSocketItemSubscriptions is the number of live item subscriptions across all sockets.
	WebSocketItemSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracehub_websocket_item_subscriptions",
		Help: "Number of live discussion subscriptions",
	})

	// WebSocketEventsTotal counts WebSocket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracehub_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracehub_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// ImageBytesStored records the size of stored item photos after re-encoding.
	ImageBytesStored = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracehub_image_bytes_stored",
		Help:    "Size in bytes of stored item images",
		Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
	})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// RecordItemPosted bumps the per-type counter.
func RecordItemPosted(itemType string) {
	ItemsPosted.WithLabelValues(itemType).Inc()
}

// RecordWebSocketEvent increments the WebSocket events counter for the event type.
func RecordWebSocketEvent(eventType string) {
	WebSocketEventsTotal.WithLabelValues(eventType).Inc()
}

// ItemLabel formats an item id for span attributes and log fields.
func ItemLabel(itemID uint) string {
	return strconv.FormatUint(uint64(itemID), 10)
}
