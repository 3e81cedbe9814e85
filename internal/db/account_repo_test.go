package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"airtime/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// accountRowFn fills the scanAccount destination list. planID and legacy are
// the nullable plan columns; passing nil models a NULL.
func accountRowFn(userID string, planID, legacy *string, status string, used int64, resetAt *time.Time) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = userID
		*dest[1].(*string) = userID + "@example.test"
		*dest[2].(**string) = planID
		*dest[3].(**string) = legacy
		*dest[4].(*string) = status
		*dest[5].(*string) = "cus_" + userID
		*dest[6].(*int64) = used
		*dest[7].(**time.Time) = resetAt
		*dest[8].(*time.Time) = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		*dest[9].(*time.Time) = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
		return nil
	}
}

func strPtr(s string) *string { return &s }

// --- AccountRepo Tests ---

func TestAccountRepo_GetByUserID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	resetAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"user-1"}).
		Return(&mockRow{scanFn: accountRowFn("user-1", strPtr("pro"), nil, "active", 1200, &resetAt)})

	acct, err := repo.GetByUserID(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, "user-1", acct.UserID)
	assert.Equal(t, types.PlanPro, acct.Plan)
	assert.Equal(t, types.SubStatusActive, acct.SubscriptionStatus)
	assert.Equal(t, "cus_user-1", acct.StripeCustomerID)
	assert.Equal(t, int64(1200), acct.QuotaSecondsUsed)
	require.NotNil(t, acct.QuotaPeriodResetAt)
	assert.Equal(t, resetAt, *acct.QuotaPeriodResetAt)
	db.AssertExpectations(t)
}

func TestAccountRepo_GetByUserID_PlanNormalization(t *testing.T) {
	tests := []struct {
		name   string
		planID *string
		legacy *string
		want   types.PlanTier
	}{
		{"plan_id wins over legacy", strPtr("business"), strPtr("free"), types.PlanBusiness},
		{"legacy column fallback", nil, strPtr("starter"), types.PlanStarter},
		{"empty plan_id falls through", strPtr(""), strPtr("pro"), types.PlanPro},
		{"both NULL defaults to free", nil, nil, types.PlanFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewAccountRepo(db, nil)
			db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
				Return(&mockRow{scanFn: accountRowFn("user-1", tt.planID, tt.legacy, "active", 0, nil)})

			acct, err := repo.GetByUserID(context.Background(), "user-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, acct.Plan)
		})
	}
}

func TestAccountRepo_GetByUserID_MissingAccountIsForbidden(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByUserID(context.Background(), "ghost")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeForbiddenAccountMissing, appErr.Code)
}

func TestAccountRepo_GetByUserID_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	_, err := repo.GetByUserID(context.Background(), "user-1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestAccountRepo_GetByStripeCustomerID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"cus_user-1"}).
		Return(&mockRow{scanFn: accountRowFn("user-1", strPtr("starter"), nil, "past_due", 300, nil)})

	acct, err := repo.GetByStripeCustomerID(context.Background(), "cus_user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", acct.UserID)
	assert.Equal(t, types.SubStatusPastDue, acct.SubscriptionStatus)
}

func TestAccountRepo_ResetQuotaPeriod_Applied(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := now.AddDate(0, 1, 0)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{next, "user-1", now}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	applied, err := repo.ResetQuotaPeriod(context.Background(), "user-1", now, next)
	require.NoError(t, err)
	assert.True(t, applied)
	db.AssertExpectations(t)
}

func TestAccountRepo_ResetQuotaPeriod_LostRaceIsNotAnError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	// A concurrent admission already rolled the period: the conditional
	// WHERE matches zero rows and the caller simply reloads.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	applied, err := repo.ResetQuotaPeriod(context.Background(), "user-1", time.Now(), time.Now().AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestAccountRepo_ResetQuotaPeriod_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.ResetQuotaPeriod(context.Background(), "user-1", time.Now(), time.Now().AddDate(0, 1, 0))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestAccountRepo_AddQuotaUsed_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{int64(600), "user-1"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.AddQuotaUsed(context.Background(), "user-1", 600)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestAccountRepo_AddQuotaUsed_MissingAccount(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.AddQuotaUsed(context.Background(), "ghost", 600)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeForbiddenAccountMissing, appErr.Code)
}

func TestAccountRepo_UpdateSubscription_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	eventAt := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"),
		[]any{types.PlanPro, types.SubStatusActive, eventAt, "cus_1"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.UpdateSubscription(context.Background(), "cus_1", types.PlanPro, types.SubStatusActive, eventAt)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestAccountRepo_UpdateSubscription_StaleEventIgnored(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	// The optimistic-lock WHERE clause rejects an out-of-order event:
	// zero rows affected and no error.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.UpdateSubscription(context.Background(), "cus_1",
		types.PlanStarter, types.SubStatusCanceled, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
}

func TestAccountRepo_UpdateSubscription_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.UpdateSubscription(context.Background(), "cus_1",
		types.PlanPro, types.SubStatusActive, time.Now())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
