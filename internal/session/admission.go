package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"airtime/internal/lockstore"
	"airtime/internal/types"
)

// Admission outcome labels for metrics.
const (
	outcomeAdmitted           = "admitted"
	outcomeRateLimited        = "rate_limited"
	outcomeConcurrencyLimited = "concurrency_limited"
	outcomeForbidden          = "forbidden"
	outcomePaymentRequired    = "payment_required"
	outcomeQuotaExceeded      = "quota_exceeded"
	outcomeUpstreamError      = "upstream_error"
	outcomeInternalError      = "internal_error"
)

// StartSession admits a user into a new metered session. Checks run in strict
// order and each failure short-circuits the rest, so a rejection leaves no
// partial state: no credential is requested, no session row is written, and
// no lock is taken.
//
// Order: rate check, concurrency check, account load + plan resolution, lazy
// quota-period rollover, subscription-status check, remaining-quota check,
// token lifetime computation, credential issuance, session record creation,
// lock acquisition.
func (s *Service) StartSession(ctx context.Context, userID, desiredModel string, metadata map[string]any) (*types.StartSessionResult, error) {
	now := s.now()

	// Rate check: fixed window on session mints. Store errors fail open so a
	// cache outage never blocks paying users.
	count, err := s.locks.IncrWithExpiry(ctx, lockstore.RateKey(userID, mintAction), mintWindow)
	if err != nil {
		s.logger.ErrorContext(ctx, "rate counter unavailable, failing open",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	} else if count > mintLimit {
		s.metrics.RecordAdmission(ctx, outcomeRateLimited)
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeRateLimit,
			"too many session starts; retry after the window resets",
			nil,
			map[string]any{"retry_after_seconds": int64(mintWindow.Seconds())},
		)
	}

	// Concurrency check: read the active-session lock. The decision also
	// needs the plan's concurrency limit, which lives on the account, so the
	// verdict is rendered right after plan resolution below. Reads only; no
	// state has been written yet either way.
	lockVal, lockHeld, err := s.locks.Get(ctx, lockstore.SessionLockKey(userID))
	if err != nil {
		s.logger.ErrorContext(ctx, "session lock read failed, failing open",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		lockHeld = false
	}

	// Account existence check. A verified identity with no account record is
	// not allowed to start metered work.
	acct, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		s.metrics.RecordAdmission(ctx, admissionOutcomeForError(err))
		return nil, err
	}

	tier, limits := s.plans.Resolve(string(acct.Plan))

	if lockHeld && limits.ConcurrencyLimit <= 1 {
		s.metrics.RecordAdmission(ctx, outcomeConcurrencyLimited)
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeConcurrentSession,
			"an active session already exists for this account",
			nil,
			map[string]any{"active_session_id": lockVal},
		)
	}

	// Lazy quota-period rollover: monthly reset is a pull-based side effect
	// of first use in a new period, not a scheduled job. The conditional
	// UPDATE makes concurrent rollovers reset exactly once.
	if acct.RolloverDue(now) {
		if _, err := s.accounts.ResetQuotaPeriod(ctx, userID, now, nextPeriodStart(now)); err != nil {
			s.metrics.RecordAdmission(ctx, outcomeInternalError)
			return nil, err
		}
		if acct, err = s.accounts.GetByUserID(ctx, userID); err != nil {
			s.metrics.RecordAdmission(ctx, admissionOutcomeForError(err))
			return nil, err
		}
	}

	// Subscription-status check.
	if !acct.SubscriptionStatus.CanStartSession() {
		s.metrics.RecordAdmission(ctx, outcomePaymentRequired)
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodePaymentRequired,
			"subscription is not active",
			nil,
			map[string]any{"subscription_status": string(acct.SubscriptionStatus)},
		)
	}

	// Remaining-quota check.
	remaining := limits.QuotaSecondsMonth - acct.QuotaSecondsUsed
	if remaining <= 0 {
		details := map[string]any{"quota_seconds_month": limits.QuotaSecondsMonth}
		if acct.QuotaPeriodResetAt != nil {
			details["period_reset_at"] = acct.QuotaPeriodResetAt.Format(time.RFC3339)
		}
		s.metrics.RecordAdmission(ctx, outcomeQuotaExceeded)
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeQuotaExceeded,
			"monthly session quota exhausted",
			nil,
			details,
		)
	}

	// Token lifetime: bounded by remaining quota, the plan's per-session cap,
	// and the plan-independent hard ceiling.
	ttlSeconds := remaining
	if limits.MaxSessionSeconds < ttlSeconds {
		ttlSeconds = limits.MaxSessionSeconds
	}
	if hardCapSeconds < ttlSeconds {
		ttlSeconds = hardCapSeconds
	}
	ttl := time.Duration(ttlSeconds) * time.Second

	model := desiredModel
	if model == "" {
		model = s.defaultModel
	}

	// Credential issuance. Failures surface as upstream errors; no retries
	// beyond the shared client's backoff policy, and nothing has been
	// persisted if this fails.
	cred, err := s.issuer.Issue(ctx, model, ttl)
	if err != nil {
		s.metrics.RecordAdmission(ctx, outcomeUpstreamError)
		return nil, err
	}

	// Session record creation. Timestamps are server-assigned; the client
	// never supplies elapsed time.
	sess := &types.Session{
		ID:              uuid.NewString(),
		UserID:          userID,
		PlanAtStart:     tier,
		Model:           model,
		Metadata:        metadata,
		StartedAt:       now,
		LastHeartbeatAt: now,
		Status:          types.SessionActive,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		s.metrics.RecordAdmission(ctx, outcomeInternalError)
		return nil, err
	}

	// Lock acquisition. TTL covers the credential lifetime plus a buffer so
	// a crashed client's seat self-releases. The lock is advisory: a failed
	// write is logged and admission proceeds.
	lockTTL := ttl + lockTTLBuffer
	if err := s.locks.SetWithTTL(ctx, lockstore.SessionLockKey(userID), sess.ID, lockTTL); err != nil {
		s.logger.ErrorContext(ctx, "session lock write failed, proceeding unlocked",
			slog.String("user_id", userID),
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "session admitted",
		slog.String("user_id", userID),
		slog.String("session_id", sess.ID),
		slog.String("plan", string(tier)),
		slog.Int64("ttl_seconds", ttlSeconds),
		slog.Int64("quota_remaining_seconds", remaining),
	)
	s.metrics.RecordAdmission(ctx, outcomeAdmitted)

	return &types.StartSessionResult{
		SessionID:             sess.ID,
		Credential:            cred.Secret,
		ExpiresAt:             cred.ExpiresAt,
		MaxDurationSeconds:    ttlSeconds,
		QuotaRemainingSeconds: remaining,
	}, nil
}

// admissionOutcomeForError maps account-load failures to a metric outcome.
func admissionOutcomeForError(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeForbiddenAccountMissing {
		return outcomeForbidden
	}
	return outcomeInternalError
}
