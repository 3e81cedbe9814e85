// Package types defines the shared domain model for the Airtime platform:
// accounts, metered sessions, plan limits, and the application error taxonomy.
// It has no dependencies on other internal packages so every layer can import it.
package types

import "time"

// PlanTier identifies a subscription plan.
type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanStarter  PlanTier = "starter"
	PlanPro      PlanTier = "pro"
	PlanBusiness PlanTier = "business"
)

// SubscriptionStatus mirrors the billing provider's subscription state.
// It is written by the billing webhook collaborator and only read here.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusTrialing SubscriptionStatus = "trialing"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
	SubStatusBanned   SubscriptionStatus = "banned"
)

// CanStartSession reports whether this subscription state admits new metered
// sessions. Only active and trialing accounts may start sessions.
func (s SubscriptionStatus) CanStartSession() bool {
	return s == SubStatusActive || s == SubStatusTrialing
}

// PlanLimits holds the authoritative resource limits for a plan tier.
type PlanLimits struct {
	// QuotaSecondsMonth is the metered-session allowance per billing period.
	QuotaSecondsMonth int64
	// MaxSessionSeconds caps the lifetime of any single session credential.
	MaxSessionSeconds int64
	// ConcurrencyLimit is the number of simultaneously active sessions.
	// The single-key concurrency lock is only enforced when this is <= 1.
	ConcurrencyLimit int
}

// Account is the durable ledger record for a user. It is the canonical,
// normalized form produced by the account repository; downstream logic never
// sees the legacy column fallbacks.
type Account struct {
	UserID             string
	Email              string
	Plan               PlanTier
	SubscriptionStatus SubscriptionStatus
	StripeCustomerID   string

	// QuotaSecondsUsed accumulates charged seconds within the current billing
	// period. Only settlement increments it; rollover resets it to zero.
	QuotaSecondsUsed int64
	// QuotaPeriodResetAt is when the current period ends. Nil means no period
	// has been established yet and the next admission performs a rollover.
	QuotaPeriodResetAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RolloverDue reports whether the account's quota period has elapsed (or was
// never established) as of now.
func (a *Account) RolloverDue(now time.Time) bool {
	return a.QuotaPeriodResetAt == nil || !now.Before(*a.QuotaPeriodResetAt)
}

// SessionStatus is the lifecycle state of a metered session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session is the durable record of one metered realtime session.
type Session struct {
	ID          string
	UserID      string
	PlanAtStart PlanTier // snapshot for audit; billing changes mid-session do not move the charge basis
	Model       string
	Metadata    map[string]any // opaque client metadata, stored not interpreted

	StartedAt       time.Time
	LastHeartbeatAt time.Time
	EndedAt         *time.Time

	Status SessionStatus

	// Counted is the settlement idempotency guard. Once true, DurationSeconds
	// and ChargedSeconds are immutable and later settlement calls replay them.
	Counted         bool
	DurationSeconds int64
	ChargedSeconds  int64
	EndReason       string
}

// Identity is the stable result of verifying a bearer credential with the
// external auth provider.
type Identity struct {
	UserID string
	Email  string
}

// StartSessionResult is returned to the client on successful admission.
type StartSessionResult struct {
	SessionID             string    `json:"session_id"`
	Credential            string    `json:"credential"`
	ExpiresAt             time.Time `json:"expires_at"`
	MaxDurationSeconds    int64     `json:"max_duration_seconds"`
	QuotaRemainingSeconds int64     `json:"quota_remaining_seconds"`
}

// Heartbeat termination reasons.
const (
	HeartbeatReasonSessionEnded  = "session_ended"
	HeartbeatReasonQuotaExceeded = "quota_exceeded"
)

// HeartbeatResult tells a live client whether to keep streaming.
type HeartbeatResult struct {
	Continue              bool   `json:"continue"`
	Reason                string `json:"reason,omitempty"`
	QuotaRemainingSeconds int64  `json:"quota_remaining_seconds,omitempty"`
}

// SettleResult is the terminal accounting outcome of a session. Replayed
// unchanged on duplicate settlement calls.
type SettleResult struct {
	DurationSeconds       int64 `json:"duration_seconds"`
	ChargedSeconds        int64 `json:"charged_seconds"`
	QuotaRemainingSeconds int64 `json:"quota_remaining_seconds"`
}

// QuotaSnapshot is the read-only usage view served by GET /v1/quota.
type QuotaSnapshot struct {
	Plan                  PlanTier           `json:"plan"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	QuotaSecondsMonth     int64              `json:"quota_seconds_month"`
	QuotaSecondsUsed      int64              `json:"quota_seconds_used"`
	QuotaRemainingSeconds int64              `json:"quota_remaining_seconds"`
	PeriodResetAt         *time.Time         `json:"period_reset_at,omitempty"`
	ActiveSessionID       string             `json:"active_session_id,omitempty"`
}

// UsageEvent is the settlement record published to the downstream
// invoicing/analytics pipeline. Best-effort; never blocks settlement.
type UsageEvent struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Plan            PlanTier  `json:"plan"`
	DurationSeconds int64     `json:"duration_seconds"`
	ChargedSeconds  int64     `json:"charged_seconds"`
	EndReason       string    `json:"end_reason,omitempty"`
	SettledAt       time.Time `json:"settled_at"`
}
