package external

import (
	"github.com/stripe/stripe-go/v82/webhook"
)

// WebhookVerifier validates a billing-provider webhook payload against its
// signature header.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification: HMAC-SHA256 with timestamp tolerance.
type StripeVerifier struct{}

func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return webhook.ValidatePayload(payload, header, secret)
}

// StubWebhookVerifier accepts every payload. Local development only.
type StubWebhookVerifier struct{}

func (v *StubWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	return nil
}

var (
	_ WebhookVerifier = (*StripeVerifier)(nil)
	_ WebhookVerifier = (*StubWebhookVerifier)(nil)
)
