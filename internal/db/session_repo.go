package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"airtime/internal/types"
)

// SessionRepo provides data access for the sessions table.
//
// The counted column is the settlement idempotency guard: Settle's UPDATE is
// conditional on counted = FALSE, so under the serializable settlement
// transaction exactly one caller records the charge.
type SessionRepo struct {
	db DBTX
}

// NewSessionRepo creates a new SessionRepo backed by the given database
// connection (pool or transaction).
func NewSessionRepo(db DBTX) *SessionRepo {
	return &SessionRepo{db: db}
}

// Create persists a freshly admitted session. Timestamps are server-assigned
// by the admission controller; the client never supplies them.
func (r *SessionRepo) Create(ctx context.Context, s *types.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions
		   (id, user_id, plan_at_start, model, metadata,
		    started_at, last_heartbeat_at, status, counted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)`,
		s.ID,
		s.UserID,
		s.PlanAtStart,
		s.Model,
		s.Metadata,
		s.StartedAt,
		s.LastHeartbeatAt,
		s.Status,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create session", err)
	}
	return nil
}

// GetByID loads a session by id.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*types.Session, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, user_id, plan_at_start, model, metadata,
		        started_at, last_heartbeat_at, ended_at, status, counted,
		        duration_seconds, charged_seconds, COALESCE(end_reason, '')
		 FROM sessions WHERE id = $1`,
		id,
	)

	var s types.Session
	var status string
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.PlanAtStart,
		&s.Model,
		&s.Metadata,
		&s.StartedAt,
		&s.LastHeartbeatAt,
		&s.EndedAt,
		&status,
		&s.Counted,
		&s.DurationSeconds,
		&s.ChargedSeconds,
		&s.EndReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundSession, "session not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load session", err)
	}
	s.Status = types.SessionStatus(status)
	return &s, nil
}

// TouchHeartbeat records a heartbeat timestamp. Heartbeat never mutates quota
// state; this is its one write.
func (r *SessionRepo) TouchHeartbeat(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE sessions SET last_heartbeat_at = $1 WHERE id = $2 AND status = 'active'`,
		at,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record heartbeat", err)
	}
	return nil
}

// Settle terminally records the session's accounting outcome. The UPDATE is
// guarded by counted = FALSE; the boolean result reports whether this caller
// won the idempotency race. Once counted, duration and charge are immutable.
func (r *SessionRepo) Settle(
	ctx context.Context,
	id string,
	endedAt time.Time,
	durationSeconds, chargedSeconds int64,
	endReason string,
) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions
		 SET status = 'ended',
		     ended_at = $1,
		     duration_seconds = $2,
		     charged_seconds = $3,
		     end_reason = NULLIF($4, ''),
		     counted = TRUE
		 WHERE id = $5
		   AND counted = FALSE`,
		endedAt,
		durationSeconds,
		chargedSeconds,
		endReason,
		id,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to settle session", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindActiveByUserID returns the user's most recently started active session
// id, if any. Used by the quota snapshot endpoint.
func (r *SessionRepo) FindActiveByUserID(ctx context.Context, userID string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`SELECT id FROM sessions
		 WHERE user_id = $1 AND status = 'active'
		 ORDER BY started_at DESC
		 LIMIT 1`,
		userID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to find active session", err)
	}
	return id, nil
}
