package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the signing service.
type Metrics struct {
	EnvelopesSent      prometheus.Counter
	EnvelopesCompleted prometheus.Counter
	EnvelopesDeclined  prometheus.Counter
	EnvelopesCancelled prometheus.Counter
	EnvelopesExpired   prometheus.Counter

	SignaturesRecorded *prometheus.CounterVec
	CommandLatency     *prometheus.HistogramVec
	CommandConflicts   *prometheus.CounterVec
	SaveRetries        prometheus.Counter

	AuditEventsAppended prometheus.Counter
	AuditVerifyFailures prometheus.Counter

	IdempotentReplays    prometheus.Counter
	IdempotencyMismatches prometheus.Counter

	RateLimitExceeded *prometheus.CounterVec

	SigningProviderCalls    *prometheus.CounterVec
	SigningProviderLatency  prometheus.Histogram
	NotificationsDispatched *prometheus.CounterVec

	CleanupRuns          *prometheus.CounterVec
	CleanupRecordsPurged *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EnvelopesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_envelopes_sent_total",
			Help: "Total number of envelopes moved out of draft",
		}),
		EnvelopesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_envelopes_completed_total",
			Help: "Total number of envelopes completed by the final signature",
		}),
		EnvelopesDeclined: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_envelopes_declined_total",
			Help: "Total number of envelopes declined by a signer",
		}),
		EnvelopesCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_envelopes_cancelled_total",
			Help: "Total number of envelopes cancelled by their owner",
		}),
		EnvelopesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_envelopes_expired_total",
			Help: "Total number of envelopes lazily marked expired",
		}),
		SignaturesRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_signatures_recorded_total",
			Help: "Total number of signatures recorded, by signing order policy",
		}, []string{"signing_order"}),
		CommandLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signet_command_latency_seconds",
			Help:    "Latency of lifecycle commands in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		CommandConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_command_conflicts_total",
			Help: "Lifecycle commands rejected with a state conflict, by command",
		}, []string{"command"}),
		SaveRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_save_retries_total",
			Help: "Conditional aggregate writes retried after a version conflict",
		}),
		AuditEventsAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_audit_events_appended_total",
			Help: "Audit events appended to envelope hash chains",
		}),
		AuditVerifyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_audit_verify_failures_total",
			Help: "Hash chain verifications that detected a mismatch",
		}),
		IdempotentReplays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_idempotent_replays_total",
			Help: "Commands answered from a recorded idempotency result",
		}),
		IdempotencyMismatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_idempotency_mismatches_total",
			Help: "Idempotency keys reused with a different payload",
		}),
		RateLimitExceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_rate_limit_exceeded_total",
			Help: "Commands rejected by the fixed-window rate limiter, by operation",
		}, []string{"operation"}),
		SigningProviderCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_signing_provider_calls_total",
			Help: "External signing provider calls, by outcome",
		}, []string{"outcome"}),
		SigningProviderLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signet_signing_provider_latency_seconds",
			Help:    "Latency of external signing provider calls in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		NotificationsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_notifications_dispatched_total",
			Help: "Notifications dispatched, by kind and outcome",
		}, []string{"kind", "outcome"}),
		CleanupRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_cleanup_runs_total",
			Help: "Background cleanup runs, by outcome",
		}, []string{"outcome"}),
		CleanupRecordsPurged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_cleanup_records_purged_total",
			Help: "Expired records purged by the cleanup worker, by record kind",
		}, []string{"kind"}),
	}
}
