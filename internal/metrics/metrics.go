package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "homare"

var (
	TaskCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_created_total",
			Help:      "Total number of tasks created.",
		},
		[]string{"category"},
	)

	CompletionSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_submitted_total",
			Help:      "Total number of completion submissions accepted.",
		},
		[]string{"category"},
	)

	VerdictDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdict_delivered_total",
			Help:      "Total number of verdicts accepted at the gateway, labeled by outcome.",
		},
		[]string{"category", "outcome"},
	)

	VerdictLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verdict_latency_seconds",
			Help:      "Latency from proof submission to verdict delivery (seconds).",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"category"},
	)

	SettlementTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_total",
			Help:      "Total number of settlements, labeled by result.",
		},
		[]string{"asset", "result"},
	)

	SettlementAmountTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_amount_total",
			Help:      "Total units disbursed, labeled by asset and bucket.",
		},
		[]string{"asset", "bucket"},
	)

	VerifierDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifier_dispatch_total",
			Help:      "Total number of proof dispatches to verifiers, labeled by outcome.",
		},
		[]string{"category", "outcome"},
	)

	OwedRetryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "owed_retry_total",
			Help:      "Total number of owed-settlement retries, labeled by result.",
		},
		[]string{"result"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limited calls, labeled by scope and kind.",
		},
		[]string{"scope", "kind"},
	)
)

func init() {
	prometheus.MustRegister(
		TaskCreatedTotal,
		CompletionSubmittedTotal,
		VerdictDeliveredTotal,
		VerdictLatencySeconds,
		SettlementTotal,
		SettlementAmountTotal,
		VerifierDispatchTotal,
		OwedRetryTotal,
		RateLimitHitsTotal,
	)
}
