package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal counts inference attempts per model, credential slot and outcome
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_attempts_total",
			Help: "Total number of inference attempts",
		},
		[]string{"model", "slot", "outcome"},
	)

	// AttemptLatency tracks the duration of a single inference call
	AttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_attempt_latency_seconds",
			Help:    "Inference call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// DispatchLatency tracks end-to-end resolution time for one email
	DispatchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triage_dispatch_latency_seconds",
			Help:    "Time to resolve one email, including cooldown",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)

	// CooldownsTotal counts second passes started after a full sweep was exhausted
	CooldownsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_cooldowns_total",
			Help: "Total number of cooldown waits before a second pass",
		},
	)

	// CasesTotal counts persisted cases per queue
	CasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_cases_total",
			Help: "Total number of cases appended",
		},
		[]string{"queue"},
	)

	// FallbacksTotal counts cases routed to manual review, by reason
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_fallbacks_total",
			Help: "Total number of fallback cases",
		},
		[]string{"reason"},
	)

	// DraftsTotal counts draft generations by result
	DraftsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_drafts_total",
			Help: "Total number of draft generations",
		},
		[]string{"result"},
	)

	// BatchInProgress is 1 while a batch is running
	BatchInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "triage_batch_in_progress",
			Help: "Whether a batch is currently running",
		},
	)
)
