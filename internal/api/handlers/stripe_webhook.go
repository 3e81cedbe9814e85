// This file implements the Stripe webhook handler. It is NOT behind auth
// middleware -- Stripe calls it directly. Security is provided by verifying
// the Stripe-Signature header.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"airtime/internal/core"
	"airtime/internal/external"
	"airtime/internal/types"
)

// maxWebhookBodySize caps Stripe webhook payloads (64 KB). Real payloads are
// small; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// SubscriptionApplier is the billing-sync subset needed by the webhook
// handler.
type SubscriptionApplier interface {
	ApplySubscriptionChange(ctx context.Context, customerID, priceID, stripeStatus string, eventTime time.Time) error
	ApplySubscriptionDeleted(ctx context.Context, customerID string, eventTime time.Time) error
	ApplyPaymentFailed(ctx context.Context, customerID, priceID string, eventTime time.Time) error
}

// StripeWebhookHandler handles asynchronous billing events from Stripe.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	syncer   SubscriptionApplier
	secret   string
	logger   *slog.Logger
}

func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	syncer SubscriptionApplier,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		syncer:   syncer,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Registered separately from the
// session routes because webhook routes are public (no auth middleware).
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes an incoming Stripe webhook:
//  1. Reads the body and the Stripe-Signature header.
//  2. Verifies the signature against the signing secret.
//  3. Parses the event JSON and routes by event type.
//  4. Returns 200 for malformed, stale, or unmatched events so Stripe does
//     not retry them forever; transient database failures return 5xx so
//     Stripe redelivers once the database recovers.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event JSON", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeInternalDB {
			core.Error(w, r, appErr)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case external.EventStripeSubCreated, external.EventStripeSubUpdated:
		return h.handleSubscriptionChange(ctx, event)

	case external.EventStripeSubDeleted:
		return h.handleSubscriptionDeleted(ctx, event)

	case external.EventStripePaymentFailed:
		return h.handlePaymentFailed(ctx, event)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

func (h *StripeWebhookHandler) handleSubscriptionChange(ctx context.Context, event *stripeWebhookEvent) error {
	sub, err := event.subscriptionObject()
	if err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}
	if sub.Customer == "" {
		return fmt.Errorf("%s: missing customer id in event %s", event.Type, event.ID)
	}

	return h.syncer.ApplySubscriptionChange(ctx, sub.Customer, sub.priceID(), sub.Status, event.eventTimestamp())
}

func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripeWebhookEvent) error {
	sub, err := event.subscriptionObject()
	if err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}
	if sub.Customer == "" {
		return fmt.Errorf("%s: missing customer id in event %s", event.Type, event.ID)
	}

	return h.syncer.ApplySubscriptionDeleted(ctx, sub.Customer, event.eventTimestamp())
}

func (h *StripeWebhookHandler) handlePaymentFailed(ctx context.Context, event *stripeWebhookEvent) error {
	var data stripeEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}

	var invoice stripeInvoiceObj
	if err := json.Unmarshal(data.Object, &invoice); err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}
	if invoice.Customer == "" {
		return fmt.Errorf("%s: missing customer id in event %s", event.Type, event.ID)
	}

	var priceID string
	if len(invoice.Lines.Data) > 0 {
		priceID = invoice.Lines.Data[0].Price.ID
	}

	return h.syncer.ApplyPaymentFailed(ctx, invoice.Customer, priceID, event.eventTimestamp())
}

// --- Stripe event parsing ---
//
// Minimal representations tailored to the fields this service needs. The full
// stripe.Event type is deliberately not used so the handler stays decoupled
// from the library's object graph and test payloads stay small.

type stripeWebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeSubscriptionObj struct {
	ID       string         `json:"id"`
	Customer string         `json:"customer"`
	Status   string         `json:"status"`
	Items    stripeSubItems `json:"items"`
}

type stripeSubItems struct {
	Data []stripeSubItem `json:"data"`
}

type stripeSubItem struct {
	Price stripePriceRef `json:"price"`
}

type stripePriceRef struct {
	ID string `json:"id"`
}

type stripeInvoiceObj struct {
	Customer string             `json:"customer"`
	Lines    stripeInvoiceLines `json:"lines"`
}

type stripeInvoiceLines struct {
	Data []stripeInvoiceLine `json:"data"`
}

type stripeInvoiceLine struct {
	Price stripePriceRef `json:"price"`
}

func (e *stripeWebhookEvent) eventTimestamp() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

func (e *stripeWebhookEvent) subscriptionObject() (*stripeSubscriptionObj, error) {
	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	var sub stripeSubscriptionObj
	if err := json.Unmarshal(data.Object, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *stripeSubscriptionObj) priceID() string {
	if len(s.Items.Data) > 0 {
		return s.Items.Data[0].Price.ID
	}
	return ""
}
