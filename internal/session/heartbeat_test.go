package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"airtime/internal/lockstore"
	"airtime/internal/types"
)

// activeSession returns a session started elapsed seconds before testNow.
func activeSession(id, userID string, elapsed time.Duration) *types.Session {
	started := testNow.Add(-elapsed)
	return &types.Session{
		ID:              id,
		UserID:          userID,
		PlanAtStart:     types.PlanPro,
		Model:           "gpt-realtime",
		StartedAt:       started,
		LastHeartbeatAt: started,
		Status:          types.SessionActive,
	}
}

func TestHeartbeat_ContinueWithRemainingQuota(t *testing.T) {
	env := newTestEnv()
	sess := activeSession("sess-1", "user-1", 120*time.Second)
	env.sessions.On("GetByID", mock.Anything, "sess-1").Return(sess, nil)
	env.accounts.On("GetByUserID", mock.Anything, "user-1").Return(activeAccount("user-1", 6000), nil)
	env.sessions.On("TouchHeartbeat", mock.Anything, "sess-1", testNow).Return(nil)

	result, err := env.svc.Heartbeat(context.Background(), "user-1", "sess-1")
	require.NoError(t, err)

	assert.True(t, result.Continue)
	// 36000 month - 6000 used - 120 elapsed.
	assert.Equal(t, int64(29880), result.QuotaRemainingSeconds)

	// Seat stays held: lock TTL refreshed for the plan's max session window.
	require.Len(t, env.locks.refreshed, 1)
	assert.Equal(t, lockstore.SessionLockKey("user-1"), env.locks.refreshed[0])
	assert.Equal(t, 3600*time.Second+lockTTLBuffer, env.locks.ttls[lockstore.SessionLockKey("user-1")])

	env.sessions.AssertCalled(t, "TouchHeartbeat", mock.Anything, "sess-1", testNow)
}

func TestHeartbeat_WrongOwnerForbidden(t *testing.T) {
	env := newTestEnv()
	env.sessions.On("GetByID", mock.Anything, "sess-1").Return(activeSession("sess-1", "user-2", time.Minute), nil)

	_, err := env.svc.Heartbeat(context.Background(), "user-1", "sess-1")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeForbiddenNotOwner, appErr.Code)
	env.accounts.AssertNotCalled(t, "GetByUserID", mock.Anything, mock.Anything)
}

func TestHeartbeat_EndedSessionStopsClient(t *testing.T) {
	env := newTestEnv()
	sess := activeSession("sess-1", "user-1", time.Minute)
	sess.Status = types.SessionEnded
	env.sessions.On("GetByID", mock.Anything, "sess-1").Return(sess, nil)

	result, err := env.svc.Heartbeat(context.Background(), "user-1", "sess-1")
	require.NoError(t, err)

	assert.False(t, result.Continue)
	assert.Equal(t, types.HeartbeatReasonSessionEnded, result.Reason)
	env.sessions.AssertNotCalled(t, "TouchHeartbeat", mock.Anything, mock.Anything, mock.Anything)
}

func TestHeartbeat_QuotaExhaustedTerminatesWithoutMutation(t *testing.T) {
	env := newTestEnv()
	// Pro account with 35900 used; 150s elapsed pushes past the 36000 month.
	env.sessions.On("GetByID", mock.Anything, "sess-1").Return(activeSession("sess-1", "user-1", 150*time.Second), nil)
	env.accounts.On("GetByUserID", mock.Anything, "user-1").Return(activeAccount("user-1", 35900), nil)

	result, err := env.svc.Heartbeat(context.Background(), "user-1", "sess-1")
	require.NoError(t, err)

	assert.False(t, result.Continue)
	assert.Equal(t, types.HeartbeatReasonQuotaExceeded, result.Reason)

	// Heartbeat only advises; charging is settlement's job.
	env.accounts.AssertNotCalled(t, "AddQuotaUsed", mock.Anything, mock.Anything, mock.Anything)
	env.sessions.AssertNotCalled(t, "TouchHeartbeat", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, env.locks.refreshed)
}

func TestHeartbeat_ElapsedDerivedFromServerStart(t *testing.T) {
	env := newTestEnv()
	// The account alone has 200s left; the session has burned 180 of them.
	acct := activeAccount("user-1", 35800)
	env.sessions.On("GetByID", mock.Anything, "sess-1").Return(activeSession("sess-1", "user-1", 180*time.Second), nil)
	env.accounts.On("GetByUserID", mock.Anything, "user-1").Return(acct, nil)
	env.sessions.On("TouchHeartbeat", mock.Anything, "sess-1", testNow).Return(nil)

	result, err := env.svc.Heartbeat(context.Background(), "user-1", "sess-1")
	require.NoError(t, err)
	assert.True(t, result.Continue)
	assert.Equal(t, int64(20), result.QuotaRemainingSeconds)
}

func TestHeartbeat_TouchFailureDoesNotKillSession(t *testing.T) {
	env := newTestEnv()
	env.sessions.On("GetByID", mock.Anything, "sess-1").Return(activeSession("sess-1", "user-1", time.Minute), nil)
	env.accounts.On("GetByUserID", mock.Anything, "user-1").Return(activeAccount("user-1", 0), nil)
	env.sessions.On("TouchHeartbeat", mock.Anything, "sess-1", testNow).Return(assert.AnError)
	env.locks.refreshErr = assert.AnError

	result, err := env.svc.Heartbeat(context.Background(), "user-1", "sess-1")
	require.NoError(t, err)
	assert.True(t, result.Continue)
}
