package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"airtime/internal/types"
)

type mockSubscriptionStore struct {
	mock.Mock
}

func (m *mockSubscriptionStore) UpdateSubscription(ctx context.Context, customerID string, plan types.PlanTier, status types.SubscriptionStatus, eventTimestamp time.Time) error {
	args := m.Called(ctx, customerID, plan, status, eventTimestamp)
	return args.Error(0)
}

var eventTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestSubscriptionSyncer_ApplySubscriptionChange(t *testing.T) {
	store := &mockSubscriptionStore{}
	store.On("UpdateSubscription", mock.Anything, "cus_123", types.PlanPro, types.SubStatusActive, eventTime).Return(nil)

	syncer := NewSubscriptionSyncer(store, nil)
	err := syncer.ApplySubscriptionChange(context.Background(), "cus_123", "price_pro", "active", eventTime)

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestSubscriptionSyncer_UnknownPriceFallsBackToFree(t *testing.T) {
	store := &mockSubscriptionStore{}
	store.On("UpdateSubscription", mock.Anything, "cus_123", types.PlanFree, types.SubStatusActive, eventTime).Return(nil)

	syncer := NewSubscriptionSyncer(store, nil)
	err := syncer.ApplySubscriptionChange(context.Background(), "cus_123", "price_enterprise_beta", "active", eventTime)

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestSubscriptionSyncer_ApplySubscriptionDeleted(t *testing.T) {
	store := &mockSubscriptionStore{}
	store.On("UpdateSubscription", mock.Anything, "cus_123", types.PlanFree, types.SubStatusCanceled, eventTime).Return(nil)

	syncer := NewSubscriptionSyncer(store, nil)
	err := syncer.ApplySubscriptionDeleted(context.Background(), "cus_123", eventTime)

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestSubscriptionSyncer_ApplyPaymentFailedMarksPastDue(t *testing.T) {
	store := &mockSubscriptionStore{}
	store.On("UpdateSubscription", mock.Anything, "cus_123", types.PlanStarter, types.SubStatusPastDue, eventTime).Return(nil)

	syncer := NewSubscriptionSyncer(store, nil)
	err := syncer.ApplyPaymentFailed(context.Background(), "cus_123", "price_starter", eventTime)

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestSubscriptionSyncer_StoreErrorPropagates(t *testing.T) {
	store := &mockSubscriptionStore{}
	store.On("UpdateSubscription", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	syncer := NewSubscriptionSyncer(store, nil)
	err := syncer.ApplySubscriptionChange(context.Background(), "cus_123", "price_pro", "active", eventTime)
	assert.Error(t, err)
}

func TestMapStripeStatus(t *testing.T) {
	cases := []struct {
		stripe string
		want   types.SubscriptionStatus
	}{
		{"active", types.SubStatusActive},
		{"trialing", types.SubStatusTrialing},
		{"past_due", types.SubStatusPastDue},
		{"unpaid", types.SubStatusPastDue},
		{"incomplete", types.SubStatusPastDue},
		{"canceled", types.SubStatusCanceled},
		{"incomplete_expired", types.SubStatusCanceled},
		{"paused", types.SubStatusPastDue}, // unknown states deny admission
	}

	for _, tc := range cases {
		t.Run(tc.stripe, func(t *testing.T) {
			assert.Equal(t, tc.want, MapStripeStatus(tc.stripe))
		})
	}
}

func TestMapStripeStatus_OnlyActiveAndTrialingAdmit(t *testing.T) {
	admitting := 0
	for _, s := range []string{"active", "trialing", "past_due", "unpaid", "incomplete", "canceled", "incomplete_expired", "anything"} {
		if MapStripeStatus(s).CanStartSession() {
			admitting++
		}
	}
	assert.Equal(t, 2, admitting)
}
