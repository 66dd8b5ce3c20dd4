package sequencer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SendsTotal counts SendDue outcomes.
	// Labels: disposition (sent, bounced, completed, deferred, retrying, paused, skipped)
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreachd",
			Subsystem: "sequencer",
			Name:      "sends_total",
			Help:      "Total number of due touches processed, by disposition",
		},
		[]string{"disposition"},
	)

	// SendDuration measures sender calls.
	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "outreachd",
			Subsystem: "sequencer",
			Name:      "send_duration_seconds",
			Help:      "Duration of channel sender calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"channel", "outcome"},
	)

	// RepliesTotal counts handled replies.
	// Labels: intent
	RepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreachd",
			Subsystem: "sequencer",
			Name:      "replies_total",
			Help:      "Total number of replies handled, by intent",
		},
		[]string{"intent"},
	)

	// IncidentsTotal counts sequences routed to human review.
	IncidentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outreachd",
			Subsystem: "sequencer",
			Name:      "incidents_total",
			Help:      "Sequences paused after exhausting send retries",
		},
	)

	// TicksTotal counts runner ticks.
	TicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outreachd",
			Subsystem: "sequencer",
			Name:      "runner_ticks_total",
			Help:      "Total number of scheduler ticks",
		},
	)
)
