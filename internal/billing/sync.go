package billing

import (
	"context"
	"log/slog"
	"time"

	"airtime/internal/types"
)

// SubscriptionStore is the account-repository subset needed to apply billing
// webhook state changes. Keyed by the provider's customer id because webhook
// payloads do not carry our user ids.
type SubscriptionStore interface {
	UpdateSubscription(
		ctx context.Context,
		customerID string,
		plan types.PlanTier,
		status types.SubscriptionStatus,
		eventTimestamp time.Time,
	) error
}

// PriceToPlan maps Stripe price ids to plan tiers. Populated from
// configuration at startup; the defaults match the development-mode Stripe
// account.
var PriceToPlan = map[string]types.PlanTier{
	"price_starter":  types.PlanStarter,
	"price_pro":      types.PlanPro,
	"price_business": types.PlanBusiness,
}

// SubscriptionSyncer applies Stripe subscription lifecycle events to the
// local account record. It never touches quota counters or sessions: quota is
// consumed by settlement only, and a mid-session plan change takes effect on
// the next admission.
type SubscriptionSyncer struct {
	store  SubscriptionStore
	logger *slog.Logger
}

func NewSubscriptionSyncer(store SubscriptionStore, logger *slog.Logger) *SubscriptionSyncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionSyncer{store: store, logger: logger}
}

// ApplySubscriptionChange handles subscription created/updated events.
func (s *SubscriptionSyncer) ApplySubscriptionChange(
	ctx context.Context,
	customerID, priceID, stripeStatus string,
	eventTime time.Time,
) error {
	plan := PlanForPrice(priceID)
	status := MapStripeStatus(stripeStatus)

	s.logger.InfoContext(ctx, "applying subscription change",
		slog.String("customer_id", customerID),
		slog.String("plan", string(plan)),
		slog.String("status", string(status)),
	)

	return s.store.UpdateSubscription(ctx, customerID, plan, status, eventTime)
}

// ApplySubscriptionDeleted handles cancellation: the account reverts to the
// free tier.
func (s *SubscriptionSyncer) ApplySubscriptionDeleted(
	ctx context.Context,
	customerID string,
	eventTime time.Time,
) error {
	s.logger.InfoContext(ctx, "applying subscription cancellation",
		slog.String("customer_id", customerID),
	)

	return s.store.UpdateSubscription(ctx, customerID, types.PlanFree, types.SubStatusCanceled, eventTime)
}

// ApplyPaymentFailed marks the account past_due, which blocks new session
// admissions until the subscription recovers. In-flight sessions are not
// terminated; they settle normally.
func (s *SubscriptionSyncer) ApplyPaymentFailed(
	ctx context.Context,
	customerID, priceID string,
	eventTime time.Time,
) error {
	s.logger.WarnContext(ctx, "applying payment failure",
		slog.String("customer_id", customerID),
	)

	return s.store.UpdateSubscription(ctx, customerID, PlanForPrice(priceID), types.SubStatusPastDue, eventTime)
}

// PlanForPrice resolves a Stripe price id to a plan tier, defaulting to free
// for unrecognized prices.
func PlanForPrice(priceID string) types.PlanTier {
	if plan, ok := PriceToPlan[priceID]; ok {
		return plan
	}
	return types.PlanFree
}

// MapStripeStatus converts a Stripe subscription status string to the domain
// enum. Delinquent-ish states collapse to past_due and terminal states to
// canceled; both deny new admissions.
func MapStripeStatus(status string) types.SubscriptionStatus {
	switch status {
	case "active":
		return types.SubStatusActive
	case "trialing":
		return types.SubStatusTrialing
	case "past_due", "unpaid", "incomplete":
		return types.SubStatusPastDue
	case "canceled", "incomplete_expired":
		return types.SubStatusCanceled
	default:
		return types.SubStatusPastDue
	}
}
