// Package metrics holds the process-wide Prometheus collectors
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesDispatched counts ledger rows written by outbound sends
	MessagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcaster",
			Name:      "messages_dispatched_total",
			Help:      "Outbound messages by channel and resulting ledger status.",
		},
		[]string{"channel", "status"},
	)

	// SendDuration observes transport call latency
	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "broadcaster",
			Name:      "transport_send_duration_seconds",
			Help:      "Duration of provider send calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// CallbacksProcessed counts provider callbacks by outcome
	CallbacksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcaster",
			Name:      "callbacks_processed_total",
			Help:      "Provider callbacks by channel and outcome (applied, duplicate, uncorrelated, inbound, dropped).",
		},
		[]string{"channel", "outcome"},
	)

	// SchedulerTicks counts scheduler ticks by family and outcome
	SchedulerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcaster",
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler ticks by campaign family and outcome.",
		},
		[]string{"family", "outcome"},
	)

	// CampaignTransitions counts campaign status changes
	CampaignTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcaster",
			Name:      "campaign_transitions_total",
			Help:      "Campaign status transitions by family and target status.",
		},
		[]string{"family", "status"},
	)
)

// Callback outcomes
const (
	OutcomeApplied      = "applied"
	OutcomeDuplicate    = "duplicate"
	OutcomeUncorrelated = "uncorrelated"
	OutcomeInbound      = "inbound"
	OutcomeDropped      = "dropped"
)
