// Package metrics holds the node's Prometheus collectors and the status
// HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "comreton"

var (
	ExecutorCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executor_cycles_total",
		Help:      "Completed executor poll cycles",
	})
	ExecutorCycleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executor_cycle_errors_total",
		Help:      "Executor cycles aborted before scanning jobs",
	})
	PendingJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_jobs",
		Help:      "Pending jobs seen in the last executor cycle",
	})
	JobAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_attempts_total",
		Help:      "Job processing attempts by outcome",
	}, []string{"outcome"})
	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_failures_total",
		Help:      "Job failures by failing stage",
	}, []string{"stage"})
	ProvingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "proving_seconds",
		Help:      "Time spent producing a verified proof",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	Alarms = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alarms_total",
		Help:      "Raised alarms by kind",
	}, []string{"kind"})

	IndexerCursor = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "indexer_cursor",
		Help:      "Sequence number of the last handled job created event",
	})
	EventsIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_indexed_total",
		Help:      "Job created events handled by the indexer",
	})
	EventGaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_gaps_total",
		Help:      "Non contiguous sequence numbers seen by the indexer",
	})
)

// Outcome labels of JobAttempts
const (
	OutcomeConfirmed = "confirmed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)
