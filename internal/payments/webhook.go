package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrWebhookSignature indicates the callback payload failed signature verification.
var ErrWebhookSignature = errors.New("payments: webhook signature verification failed")

// ErrWebhookIgnored indicates an authentic event of a type this service does not act on.
var ErrWebhookIgnored = errors.New("payments: webhook event ignored")

// GatewayEvent is a verified, normalised gateway callback.
type GatewayEvent struct {
	Provider string
	Type     string
	OrderID  string
	IntentID string
	Status   Status
}

// StripeWebhook verifies and normalises Stripe event callbacks.
type StripeWebhook struct {
	secret string
	logger StripeLogger
}

// NewStripeWebhook constructs a webhook parser for the given endpoint secret.
func NewStripeWebhook(secret string, logger StripeLogger) (*StripeWebhook, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeWebhook{secret: secret, logger: logger}, nil
}

// Parse verifies the payload signature and extracts the order reference.
// Only payment success events are surfaced; everything else returns
// ErrWebhookIgnored so the caller can acknowledge without acting.
func (w *StripeWebhook) Parse(ctx context.Context, payload []byte, signature string) (GatewayEvent, error) {
	if w == nil {
		return GatewayEvent{}, errors.New("stripe: webhook parser is nil")
	}

	event, err := webhook.ConstructEvent(payload, signature, w.secret)
	if err != nil {
		return GatewayEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	out := GatewayEvent{Provider: "stripe", Type: string(event.Type)}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return GatewayEvent{}, fmt.Errorf("stripe: decode checkout session event: %w", err)
		}
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return GatewayEvent{}, ErrWebhookIgnored
		}
		out.OrderID = session.Metadata["orderId"]
		if session.PaymentIntent != nil {
			out.IntentID = session.PaymentIntent.ID
		}
		out.Status = StatusSucceeded
	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return GatewayEvent{}, fmt.Errorf("stripe: decode payment intent event: %w", err)
		}
		out.OrderID = intent.Metadata["orderId"]
		out.IntentID = intent.ID
		out.Status = StatusSucceeded
	default:
		w.logger(ctx, "payments.stripe.webhook.skipped", map[string]any{
			"type": string(event.Type),
		})
		return GatewayEvent{}, ErrWebhookIgnored
	}

	if out.OrderID == "" {
		return GatewayEvent{}, fmt.Errorf("stripe: event %s carries no order reference", event.Type)
	}
	return out, nil
}
