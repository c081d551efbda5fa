package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mixmall/api/internal/platform/httpx"
	"github.com/mixmall/api/internal/services"
)

// Gateway payloads are small; anything larger is rejected before parsing.
const maxWebhookBodySize = 256 * 1024

// WebhookHandlers receives asynchronous callbacks from payment gateways.
type WebhookHandlers struct {
	payments services.PaymentService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handlePaymentEvent)
}

func (h *WebhookHandlers) handlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	provider := strings.TrimSpace(chi.URLParam(r, "provider"))
	if provider == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment provider is required", http.StatusBadRequest))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if int64(len(payload)) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	err = h.payments.HandleGatewayEvent(ctx, services.GatewayEventCommand{
		Provider: provider,
		Payload:  payload,
		Headers: map[string]string{
			"Stripe-Signature": r.Header.Get("Stripe-Signature"),
		},
	})
	if err != nil {
		if errors.Is(err, services.ErrPaymentInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook rejected", http.StatusBadRequest))
			return
		}
		// Signal the gateway to retry delivery.
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "webhook processing failed", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]bool{"received": true})
}
