package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mixmall/api/internal/platform/auth"
	"github.com/mixmall/api/internal/platform/httpx"
	"github.com/mixmall/api/internal/services"
)

const defaultBodyLimit = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and unmarshals a size-limited request body into dst.
// An empty body decodes into the zero value when allowEmpty is set.
func decodeJSONBody(r *http.Request, dst any, allowEmpty bool) error {
	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		if allowEmpty {
			return nil
		}
		return errEmptyBody
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// requireIdentity extracts the authenticated principal or writes a 401.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// writeOrderError maps service sentinels onto the HTTP error contract shared
// by the order, payment, logistics and export endpoints.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrPaymentInvalidInput),
		errors.Is(err, services.ErrLogisticsInvalidInput),
		errors.Is(err, services.ErrInventoryInvalidInput),
		errors.Is(err, services.ErrExportInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderStateConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_state_conflict", "order status does not allow this operation", http.StatusConflict))
	case errors.Is(err, services.ErrOrderNoReturnAddress):
		httpx.WriteError(ctx, w, httpx.NewError("no_return_address", "no active return address is configured", http.StatusConflict))
	case errors.Is(err, services.ErrLogisticsNotShipped):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_shipped", "order has no shipment to track", http.StatusConflict))
	case errors.Is(err, services.ErrInventoryInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock for one or more items", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrInventoryItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_unavailable", "one or more items are no longer available", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponInvalid), errors.Is(err, services.ErrCouponNotMet):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", "coupon cannot be applied to this order", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrInsufficientBalance):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_balance", "balance is insufficient for this payment", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentPasswordInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("pay_password_invalid", "pay password is incorrect", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrExportTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("export_too_large", "export exceeds the allowed size, narrow the filter", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment gateway rejected the request", http.StatusBadGateway))
	case errors.Is(err, services.ErrLogisticsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("logistics_unavailable", "tracking provider is unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}
