package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ManagerRefunder exposes full-amount refunds against a payment reference,
// routed through the Manager's provider selection.
type ManagerRefunder struct {
	manager  *Manager
	provider string
	currency string
}

// NewManagerRefunder builds a refunder pinned to one provider and currency.
func NewManagerRefunder(manager *Manager, provider, currency string) (*ManagerRefunder, error) {
	if manager == nil {
		return nil, errors.New("payments: manager is required")
	}
	return &ManagerRefunder{
		manager:  manager,
		provider: strings.TrimSpace(provider),
		currency: strings.TrimSpace(currency),
	}, nil
}

// RefundPayment refunds the full captured amount for the given intent.
func (r *ManagerRefunder) RefundPayment(ctx context.Context, gatewayRef string, amount int64) error {
	gatewayRef = strings.TrimSpace(gatewayRef)
	if gatewayRef == "" {
		return errors.New("payments: gateway reference is required")
	}
	if amount <= 0 {
		return fmt.Errorf("payments: refund amount must be positive, got %d", amount)
	}

	_, err := r.manager.Refund(ctx, PaymentContext{
		PreferredProvider: r.provider,
		Currency:          r.currency,
	}, RefundRequest{
		IntentID:       gatewayRef,
		Amount:         &amount,
		Reason:         "requested_by_customer",
		IdempotencyKey: "refund_" + gatewayRef,
	})
	return err
}
