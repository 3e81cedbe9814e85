package external

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"airtime/internal/types"
)

// StubIdentityVerifier accepts any non-empty token and derives a stable user
// id from it. Used in local mode and tests; never in production wiring.
type StubIdentityVerifier struct{}

// Verify returns a deterministic identity for the token.
func (s *StubIdentityVerifier) Verify(ctx context.Context, token string) (*types.Identity, error) {
	if token == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "bearer token is required", nil)
	}
	return &types.Identity{
		UserID: "stub-user-" + token,
		Email:  fmt.Sprintf("%s@example.test", token),
	}, nil
}

// StubCredentialIssuer mints fake credentials with the requested lifetime.
// Used in local mode and tests; never in production wiring.
type StubCredentialIssuer struct{}

// Issue returns a random secret expiring after ttl.
func (s *StubCredentialIssuer) Issue(ctx context.Context, model string, ttl time.Duration) (*RealtimeCredential, error) {
	return &RealtimeCredential{
		Secret:    "stub-secret-" + uuid.NewString(),
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

// Compile-time interface compliance checks.
var (
	_ IdentityVerifier = (*StubIdentityVerifier)(nil)
	_ CredentialIssuer = (*StubCredentialIssuer)(nil)
)
