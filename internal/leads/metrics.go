package leads

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QualifiedTotal counts leads that passed qualification.
	QualifiedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outreachd",
			Subsystem: "leads",
			Name:      "qualified_total",
			Help:      "Total number of qualified leads",
		},
	)

	// DroppedTotal counts disqualified leads.
	// Labels: reason
	DroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreachd",
			Subsystem: "leads",
			Name:      "dropped_total",
			Help:      "Total number of dropped leads by reason",
		},
		[]string{"reason"},
	)

	// SourceErrorsTotal counts failed provider calls.
	SourceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreachd",
			Subsystem: "leads",
			Name:      "source_errors_total",
			Help:      "Total number of failed lead source calls",
		},
		[]string{"source"},
	)
)
