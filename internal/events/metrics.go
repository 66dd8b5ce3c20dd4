package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishedTotal counts publish attempts.
	// Labels: result (success, error)
	PublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreachd",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events published to the sink",
		},
		[]string{"result"},
	)

	// DroppedTotal counts events dropped because the queue was full.
	DroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreachd",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because the publish queue was full",
		},
		[]string{"type"},
	)

	// QueueDepth is the number of events waiting to publish.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outreachd",
			Subsystem: "events",
			Name:      "queue_depth",
			Help:      "Events waiting to be published",
		},
	)
)
