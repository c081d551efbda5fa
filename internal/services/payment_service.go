package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/mixmall/api/internal/domain"
	"github.com/mixmall/api/internal/payments"
	"github.com/mixmall/api/internal/repositories"
)

const (
	defaultPaymentCurrency = "usd"

	paymentProviderStripe = "stripe"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid payment data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentPasswordInvalid indicates the supplied pay password does not match.
	ErrPaymentPasswordInvalid = errors.New("payment: pay password invalid")
	// ErrInsufficientBalance indicates the buyer's balance does not cover the order.
	ErrInsufficientBalance = errors.New("payment: insufficient balance")
	// ErrPaymentGateway wraps provider failures. The provider message is
	// attached; credentials never are.
	ErrPaymentGateway = errors.New("payment: gateway error")
)

// paymentGatewayManager abstracts payments.Manager for easier testing.
type paymentGatewayManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// gatewayEventParser abstracts payments.StripeWebhook for easier testing.
type gatewayEventParser interface {
	Parse(ctx context.Context, payload []byte, signature string) (payments.GatewayEvent, error)
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders     repositories.OrderRepository
	Users      repositories.UserRepository
	MoneyLogs  repositories.MoneyLogRepository
	UnitOfWork repositories.UnitOfWork
	Gateway    paymentGatewayManager
	Webhooks   gatewayEventParser
	// Pepper keys the HMAC applied to pay passwords before comparison with
	// the stored hash.
	Pepper      string
	Currency    string
	SuccessURL  string
	CancelURL   string
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders     repositories.OrderRepository
	users      repositories.UserRepository
	moneyLogs  repositories.MoneyLogRepository
	unitOfWork repositories.UnitOfWork
	gateway    paymentGatewayManager
	webhooks   gatewayEventParser
	pepper     []byte
	currency   string
	successURL string
	cancelURL  string
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("payment service: user repository is required")
	}
	if deps.MoneyLogs == nil {
		return nil, errors.New("payment service: money log repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: payment gateway is required")
	}
	if strings.TrimSpace(deps.Pepper) == "" {
		return nil, errors.New("payment service: pay password pepper is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	currency := strings.TrimSpace(deps.Currency)
	if currency == "" {
		currency = defaultPaymentCurrency
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders:     deps.Orders,
		users:      deps.Users,
		moneyLogs:  deps.MoneyLogs,
		unitOfWork: unit,
		gateway:    deps.Gateway,
		webhooks:   deps.Webhooks,
		pepper:     []byte(deps.Pepper),
		currency:   currency,
		successURL: strings.TrimSpace(deps.SuccessURL),
		cancelURL:  strings.TrimSpace(deps.CancelURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// Pay settles the order from the buyer's balance or hands off to the gateway.
func (s *paymentService) Pay(ctx context.Context, cmd PayOrderCommand) (PayOrderResult, error) {
	order, err := s.loadOwnedOrder(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return PayOrderResult{}, err
	}
	if order.Status != domain.OrderStatusPendingPayment || order.PayStatus != domain.PayStatusUnpaid {
		return PayOrderResult{}, fmt.Errorf("%w: order is %q", ErrOrderStateConflict, order.Status.Label())
	}

	switch cmd.PayType {
	case domain.PayTypeBalance:
		return s.payWithBalance(ctx, order, cmd.PayPassword)
	case domain.PayTypeStripe:
		return s.payWithGateway(ctx, order)
	default:
		return PayOrderResult{}, fmt.Errorf("%w: unknown pay type %q", ErrPaymentInvalidInput, cmd.PayType)
	}
}

func (s *paymentService) payWithBalance(ctx context.Context, order Order, payPassword string) (PayOrderResult, error) {
	user, err := s.users.FindByID(ctx, order.UserID)
	if err != nil {
		return PayOrderResult{}, s.mapRepositoryError(err)
	}
	if !s.verifyPayPassword(payPassword, user.PayPasswordHash) {
		return PayOrderResult{}, ErrPaymentPasswordInvalid
	}
	amount := order.Price.PayPrice
	if user.Balance < amount {
		return PayOrderResult{}, fmt.Errorf("%w: need %d, have %d", ErrInsufficientBalance, amount, user.Balance)
	}

	now := s.now()
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.users.FindByID(txCtx, order.UserID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Balance < amount {
			return fmt.Errorf("%w: need %d, have %d", ErrInsufficientBalance, amount, current.Balance)
		}

		updated, err := s.orders.MarkPaid(txCtx, order.ID, domain.PayTypeBalance, "", now, domain.TimelineEntry{
			Time:  now,
			Title: "Payment received",
			Tip:   "Paid from balance",
			Type:  "pay",
		})
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !updated {
			return fmt.Errorf("%w: order already paid or closed", ErrOrderStateConflict)
		}

		if amount > 0 {
			if err := s.users.AdjustBalance(txCtx, order.UserID, -amount); err != nil {
				return s.mapRepositoryError(err)
			}
			entry := MoneyLog{
				ID:        s.newID(),
				UserID:    order.UserID,
				Title:     fmt.Sprintf("Payment for order %s", order.OrderNumber),
				Type:      domain.MoneyLogPayOrder,
				Amount:    -amount,
				CreatedAt: now,
			}
			if err := s.moneyLogs.Append(txCtx, entry); err != nil {
				return s.mapRepositoryError(err)
			}
			if err := s.users.IncrementConsumption(txCtx, order.UserID, amount); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		return nil
	})
	if err != nil {
		return PayOrderResult{}, err
	}

	paid, err := s.orders.FindByID(ctx, order.ID)
	if err != nil {
		return PayOrderResult{}, s.mapRepositoryError(err)
	}

	s.publishPaid(ctx, paid, now)
	return PayOrderResult{Paid: true, Order: paid}, nil
}

func (s *paymentService) payWithGateway(ctx context.Context, order Order) (PayOrderResult, error) {
	session, err := s.gateway.CreateCheckoutSession(ctx, payments.PaymentContext{
		PreferredProvider: paymentProviderStripe,
		Currency:          s.currency,
	}, payments.CheckoutSessionRequest{
		Amount:     order.Price.PayPrice,
		Currency:   s.currency,
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
		Metadata: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
		},
		IdempotencyKey: "pay_" + order.ID,
	})
	if err != nil {
		return PayOrderResult{}, s.gatewayError(err)
	}

	// The payment intent often materialises only at reconciliation; stash
	// whichever reference the session carries now.
	ref := session.IntentID
	if ref == "" {
		ref = session.ID
	}
	if ref != "" && ref != order.GatewayRef {
		order.GatewayRef = ref
		order.UpdatedAt = s.now()
		if err := s.orders.Update(ctx, order); err != nil {
			return PayOrderResult{}, s.mapRepositoryError(err)
		}
	}

	return PayOrderResult{
		Paid:  false,
		Order: order,
		Handoff: &domain.PaymentHandoff{
			Provider:     session.Provider,
			SessionID:    session.ID,
			ClientSecret: session.ClientSecret,
			RedirectURL:  session.RedirectURL,
			ExpiresAt:    session.ExpiresAt,
		},
	}, nil
}

// QueryPayStatus reconciles the gateway payment state into the order. The
// update is idempotent; a second delivery finds nothing to change and
// reports success.
func (s *paymentService) QueryPayStatus(ctx context.Context, cmd QueryPayStatusCommand) (PayStatusResult, error) {
	order, err := s.loadOwnedOrder(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return PayStatusResult{}, err
	}

	if order.PayStatus == domain.PayStatusPaid {
		return PayStatusResult{Paid: true, Status: order.Status}, nil
	}
	if order.GatewayRef == "" {
		return PayStatusResult{Paid: false, Status: order.Status}, nil
	}

	details, err := s.gateway.LookupPayment(ctx, payments.PaymentContext{
		PreferredProvider: paymentProviderStripe,
		Currency:          s.currency,
	}, payments.LookupRequest{IntentID: order.GatewayRef})
	if err != nil {
		return PayStatusResult{}, s.gatewayError(err)
	}
	if details.Status != payments.StatusSucceeded {
		return PayStatusResult{Paid: false, Status: order.Status}, nil
	}

	if err := s.reconcile(ctx, order.ID, details.IntentID); err != nil {
		return PayStatusResult{}, err
	}
	return PayStatusResult{Paid: true, Status: domain.OrderStatusPendingShipment}, nil
}

// HandleGatewayEvent verifies and applies a gateway callback.
func (s *paymentService) HandleGatewayEvent(ctx context.Context, cmd GatewayEventCommand) error {
	if !strings.EqualFold(strings.TrimSpace(cmd.Provider), paymentProviderStripe) {
		return fmt.Errorf("%w: unknown payment provider %q", ErrPaymentInvalidInput, cmd.Provider)
	}
	if s.webhooks == nil {
		return errors.New("payment service: webhook parser not configured")
	}

	event, err := s.webhooks.Parse(ctx, cmd.Payload, cmd.Headers["Stripe-Signature"])
	if err != nil {
		if errors.Is(err, payments.ErrWebhookIgnored) {
			return nil
		}
		if errors.Is(err, payments.ErrWebhookSignature) {
			return fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
		}
		return err
	}
	if event.Status != payments.StatusSucceeded {
		return nil
	}
	return s.reconcile(ctx, event.OrderID, event.IntentID)
}

// ListMoneyLogs returns the buyer's balance ledger, newest first.
func (s *paymentService) ListMoneyLogs(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[MoneyLog], error) {
	if strings.TrimSpace(userID) == "" {
		return domain.CursorPage[MoneyLog]{}, fmt.Errorf("%w: user id is required", ErrPaymentInvalidInput)
	}
	page, err := s.moneyLogs.ListByUser(ctx, strings.TrimSpace(userID), pager)
	if err != nil {
		return domain.CursorPage[MoneyLog]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// reconcile applies the idempotent paid update for a gateway payment.
func (s *paymentService) reconcile(ctx context.Context, orderID, intentID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	now := s.now()
	var reconciled Order
	applied := false
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		updated, err := s.orders.MarkPaid(txCtx, orderID, domain.PayTypeStripe, intentID, now, domain.TimelineEntry{
			Time:  now,
			Title: "Payment received",
			Tip:   "Paid via card",
			Type:  "pay",
		})
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !updated {
			// Already reconciled by a concurrent delivery.
			return nil
		}
		applied = true
		reconciled = current

		if current.Price.PayPrice > 0 {
			if err := s.users.IncrementConsumption(txCtx, current.UserID, current.Price.PayPrice); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if applied {
		reconciled.Status = domain.OrderStatusPendingShipment
		reconciled.PayStatus = domain.PayStatusPaid
		s.publishPaid(ctx, reconciled, now)
	}
	return nil
}

func (s *paymentService) loadOwnedOrder(ctx context.Context, userID, orderID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrPaymentInvalidInput)
	}
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.UserID != userID {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// verifyPayPassword compares the peppered HMAC of the candidate against the
// stored hex digest in constant time.
func (s *paymentService) verifyPayPassword(candidate, storedHash string) bool {
	storedHash = strings.TrimSpace(storedHash)
	if storedHash == "" || candidate == "" {
		return false
	}
	digest := s.hashPayPassword(candidate)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(strings.ToLower(storedHash))) == 1
}

func (s *paymentService) hashPayPassword(password string) string {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(password))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *paymentService) gatewayError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrPaymentGateway, err)
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderStateConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *paymentService) now() time.Time {
	return s.clock()
}

func (s *paymentService) publishPaid(ctx context.Context, order Order, now time.Time) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:        "order.paid",
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      domain.OrderStatusPendingShipment,
		OccurredAt:  now,
		Metadata: map[string]any{
			"payType": string(order.PayType),
			"amount":  order.Price.PayPrice,
		},
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
