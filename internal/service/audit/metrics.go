package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Audit-health metrics. Every swallowed pipeline failure increments
// pipelineFailures so operators can reconcile gaps in the trail.
var (
	recordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Audit records persisted, by principal tier and risk tier",
		},
		[]string{"principal_tier", "risk_tier"},
	)

	pipelineFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "ingest",
			Name:      "pipeline_failures_total",
			Help:      "Ingestion failures swallowed and reported to the reconciliation log",
		},
		[]string{"stage"},
	)

	ingestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "audit",
			Subsystem: "ingest",
			Name:      "latency_seconds",
			Help:      "End-to-end ingestion pipeline latency",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
	)

	integrityViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "integrity",
			Name:      "violations_total",
			Help:      "Records quarantined after a hash mismatch on read",
		},
	)

	securityEventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "alerting",
			Name:      "security_events_total",
			Help:      "Security events emitted to the notification collaborator",
		},
		[]string{"severity"},
	)

	decryptThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "query",
			Name:      "decrypt_throttled_total",
			Help:      "Read requests rejected by the per-requester decrypt rate limit",
		},
	)

	exportJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "export",
			Name:      "jobs_total",
			Help:      "Export job outcomes",
		},
		[]string{"outcome"}, // completed, failed, cancelled, deduplicated
	)

	recordsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "retention",
			Name:      "purged_total",
			Help:      "Records deleted by the retention sweep",
		},
	)

	retentionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "retention",
			Name:      "legal_hold_conflicts_total",
			Help:      "Expired records refused purge because of a legal hold",
		},
	)
)
