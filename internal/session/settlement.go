package session

import (
	"context"
	"log/slog"

	"airtime/internal/lockstore"
	"airtime/internal/types"
)

// EndSession settles a session: it terminally records the server-derived
// duration, charges the capped amount against the monthly quota, and releases
// the concurrency lock. The quota increment and the session's terminal write
// commit in one serializable transaction, so a crash between them cannot leave
// usage counted twice or a counted session uncharged.
//
// Settlement is idempotent. A session is charged at most once (the counted
// flag is the guard); duplicate calls replay the originally recorded outcome.
func (s *Service) EndSession(ctx context.Context, userID, sessionID, endReason string) (*types.SettleResult, error) {
	var (
		result  types.SettleResult
		settled bool
		plan    types.PlanTier
	)

	err := s.ledger.InTx(ctx, func(accounts TxAccounts, sessions TxSessions) error {
		// Reset per attempt: the closure reruns on serialization conflicts.
		result = types.SettleResult{}
		settled = false

		sess, err := sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.UserID != userID {
			return types.NewAppError(types.ErrCodeForbiddenNotOwner, "session belongs to a different account", nil)
		}
		plan = sess.PlanAtStart

		acct, err := accounts.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		_, limits := s.plans.Resolve(string(acct.Plan))

		// Already charged: replay the recorded outcome verbatim.
		if sess.Counted {
			result = replayResult(sess, acct, limits)
			return nil
		}

		now := s.now()
		duration := int64(now.Sub(sess.StartedAt).Seconds())
		if duration < 0 {
			duration = 0
		}

		// Charge real elapsed time, capped at what the account had left.
		// Overrun past the quota is absorbed, never billed as negative
		// remaining.
		remaining := limits.QuotaSecondsMonth - acct.QuotaSecondsUsed
		if remaining < 0 {
			remaining = 0
		}
		charged := duration
		if charged > remaining {
			charged = remaining
		}

		won, err := sessions.Settle(ctx, sessionID, now, duration, charged, endReason)
		if err != nil {
			return err
		}
		if !won {
			// Another settlement committed between our read and write. Its
			// outcome is authoritative.
			fresh, err := sessions.GetByID(ctx, sessionID)
			if err != nil {
				return err
			}
			result = replayResult(fresh, acct, limits)
			return nil
		}

		if charged > 0 {
			if err := accounts.AddQuotaUsed(ctx, userID, charged); err != nil {
				return err
			}
		}

		settled = true
		result = types.SettleResult{
			DurationSeconds:       duration,
			ChargedSeconds:        charged,
			QuotaRemainingSeconds: remaining - charged,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Post-commit effects are all best effort. The accounting already holds;
	// the lock self-expires and the usage pipeline tolerates gaps.
	if settled {
		if err := s.locks.Delete(ctx, lockstore.SessionLockKey(userID)); err != nil {
			s.logger.WarnContext(ctx, "session lock release failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}

		s.metrics.RecordSettlement(ctx, result.ChargedSeconds)

		event := types.UsageEvent{
			SessionID:       sessionID,
			UserID:          userID,
			Plan:            plan,
			DurationSeconds: result.DurationSeconds,
			ChargedSeconds:  result.ChargedSeconds,
			EndReason:       endReason,
			SettledAt:       s.now(),
		}
		if err := s.usage.PublishUsage(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "usage event publish failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}

		s.logger.InfoContext(ctx, "session settled",
			slog.String("user_id", userID),
			slog.String("session_id", sessionID),
			slog.Int64("duration_seconds", result.DurationSeconds),
			slog.Int64("charged_seconds", result.ChargedSeconds),
			slog.String("end_reason", endReason),
		)
	}

	return &result, nil
}

// replayResult reconstructs the settlement response from an already-counted
// session row. The stored duration and charge are authoritative; remaining
// quota is recomputed from the account's current counter.
func replayResult(sess *types.Session, acct *types.Account, limits types.PlanLimits) types.SettleResult {
	remaining := limits.QuotaSecondsMonth - acct.QuotaSecondsUsed
	if remaining < 0 {
		remaining = 0
	}
	return types.SettleResult{
		DurationSeconds:       sess.DurationSeconds,
		ChargedSeconds:        sess.ChargedSeconds,
		QuotaRemainingSeconds: remaining,
	}
}
