package session

import (
	"context"
	"log/slog"
	"time"

	"airtime/internal/lockstore"
	"airtime/internal/types"
)

// Heartbeat re-validates an active session. Elapsed time is re-derived from
// the ledger's server-assigned start timestamp on every call; client-reported
// elapsed time is never trusted. Heartbeat never mutates quota_seconds_used —
// only settlement does. Its writes are one timestamp touch and a lock TTL
// refresh.
//
// This is the second, independent enforcement layer: it stops a session that
// has run past its allotted time even though the credential TTL was supposed
// to enforce that.
func (s *Service) Heartbeat(ctx context.Context, userID, sessionID string) (*types.HeartbeatResult, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, types.NewAppError(types.ErrCodeForbiddenNotOwner, "session belongs to a different account", nil)
	}

	// A client that missed the termination signal stops cleanly on its next
	// heartbeat.
	if sess.Status == types.SessionEnded {
		return &types.HeartbeatResult{
			Continue: false,
			Reason:   types.HeartbeatReasonSessionEnded,
		}, nil
	}

	// Defensive: legacy rows without a start timestamp cannot be re-validated.
	if sess.StartedAt.IsZero() {
		return &types.HeartbeatResult{Continue: true}, nil
	}

	now := s.now()
	elapsed := int64(now.Sub(sess.StartedAt).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}

	acct, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	_, limits := s.plans.Resolve(string(acct.Plan))

	remaining := limits.QuotaSecondsMonth - acct.QuotaSecondsUsed - elapsed
	if remaining <= 0 {
		s.logger.InfoContext(ctx, "heartbeat terminating session, quota exhausted",
			slog.String("user_id", userID),
			slog.String("session_id", sessionID),
			slog.Int64("elapsed_seconds", elapsed),
		)
		return &types.HeartbeatResult{
			Continue: false,
			Reason:   types.HeartbeatReasonQuotaExceeded,
		}, nil
	}

	// Keep the seat held while the client is demonstrably alive. Refresh
	// failures are advisory; the lock will self-expire at worst.
	lockTTL := time.Duration(limits.MaxSessionSeconds)*time.Second + lockTTLBuffer
	if err := s.locks.Refresh(ctx, lockstore.SessionLockKey(userID), lockTTL); err != nil {
		s.logger.WarnContext(ctx, "session lock refresh failed",
			slog.String("user_id", userID),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.sessions.TouchHeartbeat(ctx, sessionID, now); err != nil {
		// The heartbeat timestamp is diagnostic; losing one write must not
		// kill a healthy session.
		s.logger.WarnContext(ctx, "heartbeat touch failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	return &types.HeartbeatResult{
		Continue:              true,
		QuotaRemainingSeconds: remaining,
	}, nil
}
