// Package metrics defines and registers the custom Prometheus metrics for
// authgate. It is the single source of truth for metric names, labels and
// help strings. Metrics register with the default registry on import and are
// served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "authgate"

// ── Gateway outcomes ─────────────────────────────────────────────────────────

// AuthAttemptsTotal counts gateway decisions.
// Labels:
//   - operation: "register", "login", "authenticate", "logout"
//   - result: "success", "invalid_input", "conflict", "invalid_credentials",
//     "rate_limited", "unauthenticated", "store_error"
var AuthAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_attempts_total",
		Help:      "Total number of authentication operations, by operation and result.",
	},
	[]string{"operation", "result"},
)

// PasswordHashDuration measures PBKDF2 derivations.
// Label:
//   - op: "hash" or "verify"
var PasswordHashDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "password_hash_duration_seconds",
		Help:      "Duration of password hash derivations.",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
	},
	[]string{"op"},
)

// ── Rate limiting ────────────────────────────────────────────────────────────

// RateLimitRejectionsTotal counts refused attempts.
// Label:
//   - action: "login" or "signup"
var RateLimitRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Total number of attempts refused by the rate limiter.",
	},
	[]string{"action"},
)

// RateLimitErrorsTotal counts limiter backend failures (the attempt is let through).
var RateLimitErrorsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_errors_total",
		Help:      "Total number of rate limiter backend errors.",
	},
)

// TrackedEntries reports entries left after each sweep.
// Label:
//   - structure: "rate_limit_windows" or "sessions"
var TrackedEntries = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_entries",
		Help:      "Entries held in process memory after the last sweep.",
	},
	[]string{"structure"},
)

// ── Audit trail ──────────────────────────────────────────────────────────────

// AuditEventsTotal counts audit events by type and delivery outcome.
// Labels:
//   - type: the event type (e.g. "user.registered")
//   - outcome: "delivered", "dropped", "failed"
var AuditEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_events_total",
		Help:      "Total number of audit events, by type and delivery outcome.",
	},
	[]string{"type", "outcome"},
)

// AuditQueueDepth tracks events waiting in each dispatcher worker channel.
var AuditQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_queue_depth",
		Help:      "Current number of audit events pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)
