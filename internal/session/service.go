// Package session implements the admission, heartbeat, and settlement engine
// for metered realtime sessions. All session state lives in the durable ledger
// and the ephemeral lock store; there is no long-lived in-process session
// object, so the engine scales horizontally across processes.
package session

import (
	"context"
	"log/slog"
	"time"

	"airtime/internal/billing"
	"airtime/internal/external"
	"airtime/internal/lockstore"
	"airtime/internal/queue"
	"airtime/internal/telemetry"
	"airtime/internal/types"
)

// Engine tuning constants.
const (
	// mintWindow / mintLimit bound the per-user session-mint rate. This guards
	// against reflexive client retry storms, not legitimate concurrency.
	mintWindow = 60 * time.Second
	mintLimit  = 10

	// mintAction is the rate-counter action name for session admission.
	mintAction = "session_mint"

	// hardCapSeconds is a fixed safety ceiling on credential lifetime,
	// independent of plan. It bounds worst-case exposure from any single
	// credential regardless of plan misconfiguration.
	hardCapSeconds int64 = 3600

	// lockTTLBuffer is added to the credential lifetime when setting the
	// concurrency lock, so a crashed client's seat is released shortly after
	// its credential would have expired anyway.
	lockTTLBuffer = 120 * time.Second
)

// AccountReader is the ledger read surface admission and heartbeat need.
// *db.AccountRepo satisfies it.
type AccountReader interface {
	GetByUserID(ctx context.Context, userID string) (*types.Account, error)
	ResetQuotaPeriod(ctx context.Context, userID string, now, nextResetAt time.Time) (bool, error)
}

// SessionReader is the non-transactional session store surface.
// *db.SessionRepo satisfies it.
type SessionReader interface {
	Create(ctx context.Context, s *types.Session) error
	GetByID(ctx context.Context, id string) (*types.Session, error)
	TouchHeartbeat(ctx context.Context, id string, at time.Time) error
	FindActiveByUserID(ctx context.Context, userID string) (string, error)
}

// TxAccounts is the account surface available inside the settlement
// transaction.
type TxAccounts interface {
	GetByUserID(ctx context.Context, userID string) (*types.Account, error)
	AddQuotaUsed(ctx context.Context, userID string, seconds int64) error
}

// TxSessions is the session surface available inside the settlement
// transaction.
type TxSessions interface {
	GetByID(ctx context.Context, id string) (*types.Session, error)
	Settle(ctx context.Context, id string, endedAt time.Time, durationSeconds, chargedSeconds int64, endReason string) (bool, error)
}

// Ledger provides the serializable read-then-write transaction over exactly
// one Session and one Account. This isolates the one place
// correctness-critical atomicity is required.
type Ledger interface {
	InTx(ctx context.Context, fn func(accounts TxAccounts, sessions TxSessions) error) error
}

// Service is the session admission and quota-enforcement engine.
type Service struct {
	accounts AccountReader
	sessions SessionReader
	ledger   Ledger
	locks    lockstore.LockStore
	plans    billing.PlanRegistry
	issuer   external.CredentialIssuer
	metrics  telemetry.MetricsCollector
	usage    queue.UsageEventPublisher
	logger   *slog.Logger

	defaultModel string

	// now is injectable for tests; defaults to time.Now in UTC.
	now func() time.Time
}

// Config holds the dependencies for constructing a Service. Locks, Metrics,
// and Usage may be nil; they default to the no-op implementations (explicit
// fail open for the lock store).
type Config struct {
	Accounts     AccountReader
	Sessions     SessionReader
	Ledger       Ledger
	Locks        lockstore.LockStore
	Plans        billing.PlanRegistry
	Issuer       external.CredentialIssuer
	Metrics      telemetry.MetricsCollector
	Usage        queue.UsageEventPublisher
	Logger       *slog.Logger
	DefaultModel string
}

// NewService constructs the engine.
func NewService(cfg Config) *Service {
	locks := cfg.Locks
	if locks == nil {
		locks = lockstore.NewNoop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.Noop{}
	}
	usage := cfg.Usage
	if usage == nil {
		usage = queue.NoopUsagePublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		accounts:     cfg.Accounts,
		sessions:     cfg.Sessions,
		ledger:       cfg.Ledger,
		locks:        locks,
		plans:        cfg.Plans,
		issuer:       cfg.Issuer,
		metrics:      metrics,
		usage:        usage,
		logger:       logger,
		defaultModel: cfg.DefaultModel,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the engine clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// nextPeriodStart returns the start of the next monthly quota period: the
// first instant of the next calendar month in UTC.
func nextPeriodStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// Quota returns the read-only usage snapshot for GET /v1/quota. When a
// rollover is due but not yet persisted (rollover is lazy, applied on the
// next admission), the snapshot reports the new period's view without
// writing anything.
func (s *Service) Quota(ctx context.Context, userID string) (*types.QuotaSnapshot, error) {
	acct, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	_, limits := s.plans.Resolve(string(acct.Plan))

	used := acct.QuotaSecondsUsed
	resetAt := acct.QuotaPeriodResetAt
	if acct.RolloverDue(now) {
		used = 0
		next := nextPeriodStart(now)
		resetAt = &next
	}
	remaining := limits.QuotaSecondsMonth - used
	if remaining < 0 {
		remaining = 0
	}

	activeID, err := s.sessions.FindActiveByUserID(ctx, userID)
	if err != nil {
		// The snapshot is informational; a failed lookup should not hide the
		// quota numbers.
		s.logger.WarnContext(ctx, "active session lookup failed", "user_id", userID, "error", err.Error())
		activeID = ""
	}

	return &types.QuotaSnapshot{
		Plan:                  acct.Plan,
		SubscriptionStatus:    acct.SubscriptionStatus,
		QuotaSecondsMonth:     limits.QuotaSecondsMonth,
		QuotaSecondsUsed:      used,
		QuotaRemainingSeconds: remaining,
		PeriodResetAt:         resetAt,
		ActiveSessionID:       activeID,
	}, nil
}
