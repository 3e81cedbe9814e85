package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"airtime/internal/billing"
	"airtime/internal/external"
	"airtime/internal/types"
)

// testNow is the frozen engine clock used across the service tests.
var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// --- Mock account store (satisfies AccountReader and TxAccounts) ---

type mockAccounts struct {
	mock.Mock
}

func (m *mockAccounts) GetByUserID(ctx context.Context, userID string) (*types.Account, error) {
	args := m.Called(ctx, userID)
	if a := args.Get(0); a != nil {
		return a.(*types.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAccounts) ResetQuotaPeriod(ctx context.Context, userID string, now, nextResetAt time.Time) (bool, error) {
	args := m.Called(ctx, userID, now, nextResetAt)
	return args.Bool(0), args.Error(1)
}

func (m *mockAccounts) AddQuotaUsed(ctx context.Context, userID string, seconds int64) error {
	args := m.Called(ctx, userID, seconds)
	return args.Error(0)
}

// --- Mock session store (satisfies SessionReader and TxSessions) ---

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) Create(ctx context.Context, s *types.Session) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *mockSessions) GetByID(ctx context.Context, id string) (*types.Session, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*types.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessions) TouchHeartbeat(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *mockSessions) FindActiveByUserID(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *mockSessions) Settle(ctx context.Context, id string, endedAt time.Time, durationSeconds, chargedSeconds int64, endReason string) (bool, error) {
	args := m.Called(ctx, id, endedAt, durationSeconds, chargedSeconds, endReason)
	return args.Bool(0), args.Error(1)
}

// --- Fake lock store ---

// fakeLocks is an in-memory LockStore with injectable failures, used to
// exercise the fail-open paths without a real Redis.
type fakeLocks struct {
	mu sync.Mutex

	data   map[string]string
	ttls   map[string]time.Duration
	counts map[string]int64

	incrErr    error
	getErr     error
	setErr     error
	refreshErr error
	deleteErr  error

	refreshed []string
	deleted   []string
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{
		data:   make(map[string]string),
		ttls:   make(map[string]time.Duration),
		counts: make(map[string]int64),
	}
}

func (f *fakeLocks) IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeLocks) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.data[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeLocks) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", false, f.getErr
	}
	val, ok := f.data[key]
	return val, ok, nil
}

func (f *fakeLocks) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.refreshed = append(f.refreshed, key)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeLocks) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	delete(f.data, key)
	return nil
}

// --- Fake credential issuer ---

type fakeIssuer struct {
	issueErr  error
	lastModel string
	lastTTL   time.Duration
	calls     int
}

func (f *fakeIssuer) Issue(ctx context.Context, model string, ttl time.Duration) (*external.RealtimeCredential, error) {
	f.calls++
	f.lastModel = model
	f.lastTTL = ttl
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	return &external.RealtimeCredential{
		Secret:    "ek_test_secret",
		ExpiresAt: testNow.Add(ttl),
	}, nil
}

// --- Fake metrics collector ---

type fakeMetrics struct {
	mu          sync.Mutex
	admissions  []string
	settlements []int64
}

func (f *fakeMetrics) RecordAdmission(ctx context.Context, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admissions = append(f.admissions, outcome)
}

func (f *fakeMetrics) RecordSettlement(ctx context.Context, chargedSeconds int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlements = append(f.settlements, chargedSeconds)
}

func (f *fakeMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {}

// --- Fake usage publisher ---

type fakeUsage struct {
	mu         sync.Mutex
	events     []types.UsageEvent
	publishErr error
}

func (f *fakeUsage) PublishUsage(ctx context.Context, event types.UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.events = append(f.events, event)
	return nil
}

// --- Fake ledger ---

// fakeLedger runs the transactional closure against the provided mocks.
// Setting reruns > 1 invokes the closure multiple times, the way the real
// ledger does after a serialization conflict.
type fakeLedger struct {
	accounts TxAccounts
	sessions TxSessions
	reruns   int
	txErr    error
}

func (l *fakeLedger) InTx(ctx context.Context, fn func(TxAccounts, TxSessions) error) error {
	if l.txErr != nil {
		return l.txErr
	}
	runs := l.reruns
	if runs < 1 {
		runs = 1
	}
	var err error
	for i := 0; i < runs; i++ {
		if err = fn(l.accounts, l.sessions); err != nil {
			return err
		}
	}
	return err
}

// --- Test harness ---

type testEnv struct {
	svc      *Service
	accounts *mockAccounts
	sessions *mockSessions
	locks    *fakeLocks
	issuer   *fakeIssuer
	metrics  *fakeMetrics
	usage    *fakeUsage
	ledger   *fakeLedger
}

func newTestEnv() *testEnv {
	accounts := &mockAccounts{}
	sessions := &mockSessions{}
	locks := newFakeLocks()
	issuer := &fakeIssuer{}
	metrics := &fakeMetrics{}
	usage := &fakeUsage{}
	ledger := &fakeLedger{accounts: accounts, sessions: sessions}

	svc := NewService(Config{
		Accounts:     accounts,
		Sessions:     sessions,
		Ledger:       ledger,
		Locks:        locks,
		Plans:        billing.NewStaticPlanRegistry(),
		Issuer:       issuer,
		Metrics:      metrics,
		Usage:        usage,
		DefaultModel: "gpt-realtime",
	}).WithClock(func() time.Time { return testNow })

	return &testEnv{
		svc:      svc,
		accounts: accounts,
		sessions: sessions,
		locks:    locks,
		issuer:   issuer,
		metrics:  metrics,
		usage:    usage,
		ledger:   ledger,
	}
}

// activeAccount returns a pro account mid-period with the given usage.
func activeAccount(userID string, used int64) *types.Account {
	resetAt := testNow.Add(10 * 24 * time.Hour)
	return &types.Account{
		UserID:             userID,
		Email:              userID + "@example.com",
		Plan:               types.PlanPro,
		SubscriptionStatus: types.SubStatusActive,
		QuotaSecondsUsed:   used,
		QuotaPeriodResetAt: &resetAt,
	}
}

// --- Quota snapshot ---

func TestService_Quota_Snapshot(t *testing.T) {
	env := newTestEnv()
	acct := activeAccount("user-1", 6000)
	env.accounts.On("GetByUserID", mock.Anything, "user-1").Return(acct, nil)
	env.sessions.On("FindActiveByUserID", mock.Anything, "user-1").Return("sess-9", nil)

	snap, err := env.svc.Quota(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, types.PlanPro, snap.Plan)
	assert.Equal(t, types.SubStatusActive, snap.SubscriptionStatus)
	assert.Equal(t, int64(36000), snap.QuotaSecondsMonth)
	assert.Equal(t, int64(6000), snap.QuotaSecondsUsed)
	assert.Equal(t, int64(30000), snap.QuotaRemainingSeconds)
	assert.Equal(t, "sess-9", snap.ActiveSessionID)
	require.NotNil(t, snap.PeriodResetAt)
	assert.Equal(t, *acct.QuotaPeriodResetAt, *snap.PeriodResetAt)
}

func TestService_Quota_RolloverDueReportsFreshPeriod(t *testing.T) {
	env := newTestEnv()
	stale := testNow.Add(-time.Hour)
	acct := activeAccount("user-1", 35999)
	acct.QuotaPeriodResetAt = &stale
	env.accounts.On("GetByUserID", mock.Anything, "user-1").Return(acct, nil)
	env.sessions.On("FindActiveByUserID", mock.Anything, "user-1").Return("", nil)

	snap, err := env.svc.Quota(context.Background(), "user-1")
	require.NoError(t, err)

	// The snapshot reports the new period without persisting the rollover.
	assert.Equal(t, int64(0), snap.QuotaSecondsUsed)
	assert.Equal(t, int64(36000), snap.QuotaRemainingSeconds)
	require.NotNil(t, snap.PeriodResetAt)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), *snap.PeriodResetAt)
	env.accounts.AssertNotCalled(t, "ResetQuotaPeriod", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Quota_ActiveSessionLookupFailureTolerated(t *testing.T) {
	env := newTestEnv()
	env.accounts.On("GetByUserID", mock.Anything, "user-1").Return(activeAccount("user-1", 100), nil)
	env.sessions.On("FindActiveByUserID", mock.Anything, "user-1").
		Return("", assert.AnError)

	snap, err := env.svc.Quota(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, snap.ActiveSessionID)
	assert.Equal(t, int64(35900), snap.QuotaRemainingSeconds)
}

func TestNextPeriodStart_MonthBoundaries(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "mid_month",
			now:  time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
			want: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "december_wraps_year",
			now:  time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
			want: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "first_instant_of_month",
			now:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, nextPeriodStart(tc.now))
		})
	}
}
