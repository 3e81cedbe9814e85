package external

import (
	"context"
	"time"

	"airtime/internal/types"
)

// IdentityVerifier abstracts the external auth provider. Given a bearer
// credential it yields a stable user identity; the engine never inspects the
// credential itself.
type IdentityVerifier interface {
	// Verify resolves a bearer token to a stable identity. Failures map to
	// auth_* error codes (401); provider outages map to
	// upstream_identity_unavailable.
	Verify(ctx context.Context, token string) (*types.Identity, error)
}

// RealtimeCredential is a single-use, time-bounded client secret issued by
// the streaming AI vendor. The client authenticates directly against the
// vendor with it; its expiry is the primary session cancellation mechanism.
type RealtimeCredential struct {
	Secret    string
	ExpiresAt time.Time
}

// CredentialIssuer abstracts the streaming AI vendor's ephemeral-credential
// endpoint.
type CredentialIssuer interface {
	// Issue requests a credential for the given model with the given lifetime.
	// Failures surface as upstream_realtime_unavailable and are not retried
	// beyond the shared client's backoff policy.
	Issue(ctx context.Context, model string, ttl time.Duration) (*RealtimeCredential, error)
}

// Stripe event type constants prevent magic strings in webhook handlers.
const (
	EventStripeSubCreated     = "customer.subscription.created"
	EventStripeSubUpdated     = "customer.subscription.updated"
	EventStripeSubDeleted     = "customer.subscription.deleted"
	EventStripePaymentFailed  = "invoice.payment_failed"
)
