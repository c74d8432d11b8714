// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks sessions currently held in the session table.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "haetae",
		Name:      "sessions_active",
		Help:      "Number of sessions currently tracked by the session manager.",
	})

	// InvocationsTotal counts tool invocations by tool name and outcome.
	InvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haetae",
		Name:      "tool_invocations_total",
		Help:      "Tool invocations by tool name and outcome.",
	}, []string{"tool", "outcome"})

	// DeliveryFailuresTotal counts results discarded because the stream
	// was gone before they could be pushed.
	DeliveryFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "haetae",
		Name:      "delivery_failures_total",
		Help:      "Results discarded because the session stream had closed.",
	})
)
