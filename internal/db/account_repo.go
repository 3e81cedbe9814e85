package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"airtime/internal/types"
)

// AccountRepo provides data access for the accounts table, the durable system
// of record for per-user quota state.
//
// Key invariants:
//   - quota_seconds_used is incremented only by AddQuotaUsed (settlement) and
//     reset only by ResetQuotaPeriod (lazy rollover).
//   - ResetQuotaPeriod is conditional on the stored reset timestamp having
//     passed, so concurrent admissions in a new period reset exactly once.
//   - UpdateSubscription uses optimistic locking on last_subscription_event_at
//     to tolerate out-of-order billing webhooks.
type AccountRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewAccountRepo creates a new AccountRepo backed by the given database
// connection (pool or transaction).
func NewAccountRepo(db DBTX, logger *slog.Logger) *AccountRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountRepo{db: db, logger: logger}
}

// accountColumns is the canonical select list. plan_id carries the current
// plan; the legacy plan column is kept for rows written before the billing
// migration and is normalized away in scanAccount.
const accountColumns = `user_id, email, plan_id, plan, subscription_status,
	COALESCE(stripe_customer_id, ''), quota_seconds_used, quota_period_reset_at,
	created_at, updated_at`

// GetByUserID loads the account for a verified identity. A missing account is
// a forbidden condition: a verified identity with no account record may not
// start metered work.
func (r *AccountRepo) GetByUserID(ctx context.Context, userID string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`,
		userID,
	)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(
			types.ErrCodeForbiddenAccountMissing,
			"no account exists for this identity",
			nil,
		)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load account", err)
	}
	return acct, nil
}

// GetByStripeCustomerID loads an account by its billing-provider customer id.
// Used by the billing webhook collaborator.
func (r *AccountRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = $1`,
		customerID,
	)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(
			types.ErrCodeForbiddenAccountMissing,
			"no account exists for this billing customer",
			nil,
		)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load account", err)
	}
	return acct, nil
}

// ResetQuotaPeriod performs the lazy rollover: zero the usage counter and
// advance the reset timestamp, but only if the stored timestamp is unset or
// has passed. Returns whether a reset was applied. Concurrent callers in the
// same new period race on the WHERE clause and exactly one wins; the rest see
// zero rows affected and reload.
func (r *AccountRepo) ResetQuotaPeriod(ctx context.Context, userID string, now, nextResetAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET quota_seconds_used = 0,
		     quota_period_reset_at = $1,
		     updated_at = NOW()
		 WHERE user_id = $2
		   AND (quota_period_reset_at IS NULL OR quota_period_reset_at <= $3)`,
		nextResetAt,
		userID,
		now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to roll over quota period", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AddQuotaUsed increments the usage counter by the charged seconds of a
// settled session. Callers must invoke this inside the settlement transaction;
// it is the only write path for quota_seconds_used outside rollover.
func (r *AccountRepo) AddQuotaUsed(ctx context.Context, userID string, seconds int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET quota_seconds_used = quota_seconds_used + $1,
		     updated_at = NOW()
		 WHERE user_id = $2`,
		seconds,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to add quota usage", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeForbiddenAccountMissing, "account disappeared during settlement", nil)
	}
	return nil
}

// UpdateSubscription applies a billing-webhook state change. The WHERE clause
// enforces optimistic locking: events older than the last applied one are
// silently ignored so out-of-order webhook delivery cannot regress the state.
func (r *AccountRepo) UpdateSubscription(
	ctx context.Context,
	customerID string,
	plan types.PlanTier,
	status types.SubscriptionStatus,
	eventTimestamp time.Time,
) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET plan_id = $1,
		     subscription_status = $2,
		     last_subscription_event_at = $3,
		     updated_at = NOW()
		 WHERE stripe_customer_id = $4
		   AND (last_subscription_event_at IS NULL OR last_subscription_event_at < $3)`,
		plan,
		status,
		eventTimestamp,
		customerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription state", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Info("stale or unmatched subscription event ignored",
			slog.String("customer_id", customerID),
			slog.Time("event_timestamp", eventTimestamp),
		)
	}
	return nil
}

// scanAccount produces the canonical in-memory Account from a row. This is
// the single normalization point: the legacy plan column is consulted only
// when plan_id is NULL, so downstream logic never sees the fallback chain.
func scanAccount(row pgx.Row) (*types.Account, error) {
	var (
		acct     types.Account
		planID   *string
		legacy   *string
		status   string
	)
	if err := row.Scan(
		&acct.UserID,
		&acct.Email,
		&planID,
		&legacy,
		&status,
		&acct.StripeCustomerID,
		&acct.QuotaSecondsUsed,
		&acct.QuotaPeriodResetAt,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	); err != nil {
		return nil, err
	}

	switch {
	case planID != nil && *planID != "":
		acct.Plan = types.PlanTier(*planID)
	case legacy != nil && *legacy != "":
		acct.Plan = types.PlanTier(*legacy)
	default:
		acct.Plan = types.PlanFree
	}
	acct.SubscriptionStatus = types.SubscriptionStatus(status)
	return &acct, nil
}
