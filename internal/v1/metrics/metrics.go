package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chat server.
//
// Naming convention: namespace_subsystem_name
// - namespace: framechat (application-level grouping)
// - subsystem: connection, message, scheduler, room (feature-level grouping)
// - name: specific metric (active, processed_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, in-flight tasks)
// - Counter: Cumulative events (messages processed, bytes, panics)
// - Histogram: Latency distributions (processing time)

var (
	// ConnectionsTotal counts every accepted connection (Counter - cumulative)
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "framechat",
		Subsystem: "connection",
		Name:      "accepted_total",
		Help:      "Total connections accepted",
	})

	// ActiveConnections tracks the current number of live connections (Gauge - current state)
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "framechat",
		Subsystem: "connection",
		Name:      "active",
		Help:      "Current number of live connections",
	})

	// MessagesProcessed counts inbound frames handed to the router (CounterVec - cumulative)
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framechat",
		Subsystem: "message",
		Name:      "processed_total",
		Help:      "Total messages processed",
	}, []string{"kind"})

	// BytesTransferred counts frame body bytes in both directions (Counter - cumulative)
	BytesTransferred = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "framechat",
		Subsystem: "message",
		Name:      "bytes_total",
		Help:      "Total frame bytes transferred",
	})

	// MessageProcessingDuration tracks router handler latency (HistogramVec - distribution)
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "framechat",
		Subsystem: "message",
		Name:      "processing_seconds",
		Help:      "Time spent processing messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"kind"})

	// SchedulerInFlight tracks currently running scheduler tasks (Gauge - current state)
	SchedulerInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "framechat",
		Subsystem: "scheduler",
		Name:      "in_flight",
		Help:      "Currently running scheduler tasks",
	})

	// SchedulerQueueDepth tracks queued tasks per priority class (GaugeVec - current state)
	SchedulerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "framechat",
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Queued tasks per priority class",
	}, []string{"priority"})

	// SchedulerTaskPanics counts recovered task panics (Counter - cumulative)
	SchedulerTaskPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "framechat",
		Subsystem: "scheduler",
		Name:      "task_panics_total",
		Help:      "Scheduler tasks that panicked and were recovered",
	})

	// ActiveRooms tracks the current number of rooms (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "framechat",
		Subsystem: "room",
		Name:      "active",
		Help:      "Current number of active rooms",
	})
)
