package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	domain "github.com/mixmall/api/internal/domain"
	"github.com/mixmall/api/internal/payments"
)

const paymentTestPepper = "pepper-under-test"

func payPasswordDigest(password string) string {
	mac := hmac.New(sha256.New, []byte(paymentTestPepper))
	mac.Write([]byte(password))
	return hex.EncodeToString(mac.Sum(nil))
}

type stubGatewayManager struct {
	session    payments.CheckoutSession
	sessionErr error
	details    payments.PaymentDetails
	lookupErr  error
	lookups    int
}

func (s *stubGatewayManager) CreateCheckoutSession(_ context.Context, _ payments.PaymentContext, _ payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if s.sessionErr != nil {
		return payments.CheckoutSession{}, s.sessionErr
	}
	return s.session, nil
}

func (s *stubGatewayManager) LookupPayment(_ context.Context, _ payments.PaymentContext, _ payments.LookupRequest) (payments.PaymentDetails, error) {
	s.lookups++
	if s.lookupErr != nil {
		return payments.PaymentDetails{}, s.lookupErr
	}
	return s.details, nil
}

type stubWebhookParser struct {
	event payments.GatewayEvent
	err   error
}

func (s *stubWebhookParser) Parse(context.Context, []byte, string) (payments.GatewayEvent, error) {
	if s.err != nil {
		return payments.GatewayEvent{}, s.err
	}
	return s.event, nil
}

type paymentTestEnv struct {
	orders    *memOrderRepo
	users     *stubUserRepo
	moneyLogs *stubMoneyLogRepo
	gateway   *stubGatewayManager
	webhooks  *stubWebhookParser
	publisher *recordingPublisher
	service   PaymentService
}

func newPaymentTestEnv(t *testing.T, orders ...domain.Order) *paymentTestEnv {
	t.Helper()

	env := &paymentTestEnv{
		orders: newMemOrderRepo(orders...),
		users: &stubUserRepo{users: map[string]domain.User{
			"user-1": {
				ID:              "user-1",
				Username:        "ayaka",
				Balance:         5000,
				PayPasswordHash: payPasswordDigest("1234"),
			},
			"user-poor": {
				ID:              "user-poor",
				Balance:         10,
				PayPasswordHash: payPasswordDigest("1234"),
			},
		}},
		moneyLogs: &stubMoneyLogRepo{},
		gateway:   &stubGatewayManager{},
		webhooks:  &stubWebhookParser{},
		publisher: &recordingPublisher{},
	}

	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:     env.orders,
		Users:      env.users,
		MoneyLogs:  env.moneyLogs,
		Gateway:    env.gateway,
		Webhooks:   env.webhooks,
		Pepper:     paymentTestPepper,
		Currency:   "usd",
		SuccessURL: "https://shop.example/pay/success",
		CancelURL:  "https://shop.example/pay/cancel",
		Clock:      func() time.Time { return orderTestTime },
		IDGenerator: func() string {
			return "ml-1"
		},
		Events: env.publisher,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	env.service = svc
	return env
}

func unpaidOrder(id string) domain.Order {
	order := testOrder(id, domain.OrderStatusPendingPayment)
	order.PayStatus = domain.PayStatusUnpaid
	order.PayType = ""
	return order
}

func TestPaymentPayWithBalanceDebitsAndMarksPaid(t *testing.T) {
	env := newPaymentTestEnv(t, unpaidOrder("ord-1"))

	result, err := env.service.Pay(context.Background(), PayOrderCommand{
		UserID:      "user-1",
		OrderID:     "ord-1",
		PayType:     domain.PayTypeBalance,
		PayPassword: "1234",
	})
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}

	if !result.Paid || result.Handoff != nil {
		t.Fatalf("expected a settled balance payment, got %+v", result)
	}
	if result.Order.Status != domain.OrderStatusPendingShipment || result.Order.PayStatus != domain.PayStatusPaid {
		t.Fatalf("unexpected order state %+v", result.Order)
	}
	if got := env.users.adjustments; len(got) != 1 || got[0] != "user-1:-2000" {
		t.Fatalf("expected a 2000 debit, got %v", got)
	}
	if len(env.moneyLogs.entries) != 1 {
		t.Fatalf("expected one money log, got %d", len(env.moneyLogs.entries))
	}
	entry := env.moneyLogs.entries[0]
	if entry.Type != domain.MoneyLogPayOrder || entry.Amount != -2000 {
		t.Fatalf("unexpected money log %+v", entry)
	}
	if len(env.publisher.events) != 1 || env.publisher.events[0].Type != "order.paid" {
		t.Fatalf("expected an order.paid event, got %+v", env.publisher.events)
	}
}

func TestPaymentPayRejectsWrongPassword(t *testing.T) {
	env := newPaymentTestEnv(t, unpaidOrder("ord-1"))

	_, err := env.service.Pay(context.Background(), PayOrderCommand{
		UserID:      "user-1",
		OrderID:     "ord-1",
		PayType:     domain.PayTypeBalance,
		PayPassword: "9999",
	})
	if !errors.Is(err, ErrPaymentPasswordInvalid) {
		t.Fatalf("expected ErrPaymentPasswordInvalid, got %v", err)
	}
	if len(env.users.adjustments) != 0 {
		t.Fatal("expected no balance movement")
	}
	if env.orders.orders["ord-1"].PayStatus != domain.PayStatusUnpaid {
		t.Fatal("expected the order to stay unpaid")
	}
}

func TestPaymentPayRejectsInsufficientBalance(t *testing.T) {
	order := unpaidOrder("ord-1")
	order.UserID = "user-poor"
	env := newPaymentTestEnv(t, order)

	_, err := env.service.Pay(context.Background(), PayOrderCommand{
		UserID:      "user-poor",
		OrderID:     "ord-1",
		PayType:     domain.PayTypeBalance,
		PayPassword: "1234",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestPaymentPayRequiresPayableOrder(t *testing.T) {
	env := newPaymentTestEnv(t, testOrder("ord-1", domain.OrderStatusPendingShipment))

	_, err := env.service.Pay(context.Background(), PayOrderCommand{
		UserID:      "user-1",
		OrderID:     "ord-1",
		PayType:     domain.PayTypeBalance,
		PayPassword: "1234",
	})
	if !errors.Is(err, ErrOrderStateConflict) {
		t.Fatalf("expected ErrOrderStateConflict, got %v", err)
	}
}

func TestPaymentPayWithGatewayReturnsHandoff(t *testing.T) {
	env := newPaymentTestEnv(t, unpaidOrder("ord-1"))
	env.gateway.session = payments.CheckoutSession{
		ID:           "cs_123",
		Provider:     "stripe",
		ClientSecret: "cs_secret",
		RedirectURL:  "https://checkout.stripe.com/pay/cs_123",
		IntentID:     "pi_123",
		ExpiresAt:    orderTestTime.Add(30 * time.Minute),
	}

	result, err := env.service.Pay(context.Background(), PayOrderCommand{
		UserID:  "user-1",
		OrderID: "ord-1",
		PayType: domain.PayTypeStripe,
	})
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}

	if result.Paid {
		t.Fatal("gateway payments settle asynchronously")
	}
	if result.Handoff == nil || result.Handoff.SessionID != "cs_123" || result.Handoff.ClientSecret != "cs_secret" {
		t.Fatalf("unexpected handoff %+v", result.Handoff)
	}
	if env.orders.orders["ord-1"].GatewayRef != "pi_123" {
		t.Fatalf("expected the gateway reference to be stored, got %q", env.orders.orders["ord-1"].GatewayRef)
	}
	if env.orders.orders["ord-1"].PayStatus != domain.PayStatusUnpaid {
		t.Fatal("the order must stay unpaid until reconciliation")
	}
}

func TestPaymentPayWrapsGatewayFailure(t *testing.T) {
	env := newPaymentTestEnv(t, unpaidOrder("ord-1"))
	env.gateway.sessionErr = errors.New("stripe: card network unavailable")

	_, err := env.service.Pay(context.Background(), PayOrderCommand{
		UserID:  "user-1",
		OrderID: "ord-1",
		PayType: domain.PayTypeStripe,
	})
	if !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected ErrPaymentGateway, got %v", err)
	}
}

func TestPaymentQueryPayStatusReconcilesSuccess(t *testing.T) {
	order := unpaidOrder("ord-1")
	order.GatewayRef = "cs_123"
	env := newPaymentTestEnv(t, order)
	env.gateway.details = payments.PaymentDetails{
		Provider: "stripe",
		IntentID: "pi_123",
		Status:   payments.StatusSucceeded,
		Amount:   2000,
	}

	result, err := env.service.QueryPayStatus(context.Background(), QueryPayStatusCommand{UserID: "user-1", OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("QueryPayStatus: %v", err)
	}

	if !result.Paid || result.Status != domain.OrderStatusPendingShipment {
		t.Fatalf("expected a reconciled payment, got %+v", result)
	}
	stored := env.orders.orders["ord-1"]
	if stored.PayStatus != domain.PayStatusPaid || stored.PayType != domain.PayTypeStripe {
		t.Fatalf("unexpected stored order %+v", stored)
	}
	if stored.GatewayRef != "pi_123" {
		t.Fatalf("expected the intent id to replace the session id, got %q", stored.GatewayRef)
	}

	// A second query returns paid without another gateway round trip.
	again, err := env.service.QueryPayStatus(context.Background(), QueryPayStatusCommand{UserID: "user-1", OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("QueryPayStatus (again): %v", err)
	}
	if !again.Paid {
		t.Fatal("expected the second query to report paid")
	}
	if env.gateway.lookups != 1 {
		t.Fatalf("expected one gateway lookup, got %d", env.gateway.lookups)
	}
}

func TestPaymentQueryPayStatusPendingPayment(t *testing.T) {
	order := unpaidOrder("ord-1")
	order.GatewayRef = "cs_123"
	env := newPaymentTestEnv(t, order)
	env.gateway.details = payments.PaymentDetails{Status: payments.StatusPending}

	result, err := env.service.QueryPayStatus(context.Background(), QueryPayStatusCommand{UserID: "user-1", OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("QueryPayStatus: %v", err)
	}
	if result.Paid {
		t.Fatal("expected a pending result")
	}
	if env.orders.orders["ord-1"].PayStatus != domain.PayStatusUnpaid {
		t.Fatal("the order must stay unpaid")
	}
}

func TestPaymentQueryPayStatusWithoutGatewayRef(t *testing.T) {
	env := newPaymentTestEnv(t, unpaidOrder("ord-1"))

	result, err := env.service.QueryPayStatus(context.Background(), QueryPayStatusCommand{UserID: "user-1", OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("QueryPayStatus: %v", err)
	}
	if result.Paid || env.gateway.lookups != 0 {
		t.Fatalf("expected no gateway call for an order without a reference, got %+v", result)
	}
}

func TestPaymentHandleGatewayEventReconciles(t *testing.T) {
	env := newPaymentTestEnv(t, unpaidOrder("ord-1"))
	env.webhooks.event = payments.GatewayEvent{
		Provider: "stripe",
		Type:     "checkout.session.completed",
		OrderID:  "ord-1",
		IntentID: "pi_999",
		Status:   payments.StatusSucceeded,
	}

	err := env.service.HandleGatewayEvent(context.Background(), GatewayEventCommand{
		Provider: "stripe",
		Payload:  []byte(`{}`),
		Headers:  map[string]string{"Stripe-Signature": "t=1,v1=sig"},
	})
	if err != nil {
		t.Fatalf("HandleGatewayEvent: %v", err)
	}

	stored := env.orders.orders["ord-1"]
	if stored.PayStatus != domain.PayStatusPaid || stored.GatewayRef != "pi_999" {
		t.Fatalf("unexpected stored order %+v", stored)
	}

	// A redelivery is a no-op success.
	if err := env.service.HandleGatewayEvent(context.Background(), GatewayEventCommand{
		Provider: "stripe",
		Payload:  []byte(`{}`),
		Headers:  map[string]string{"Stripe-Signature": "t=1,v1=sig"},
	}); err != nil {
		t.Fatalf("HandleGatewayEvent (redelivery): %v", err)
	}
}

func TestPaymentHandleGatewayEventIgnoresIrrelevantEvents(t *testing.T) {
	env := newPaymentTestEnv(t, unpaidOrder("ord-1"))
	env.webhooks.err = payments.ErrWebhookIgnored

	if err := env.service.HandleGatewayEvent(context.Background(), GatewayEventCommand{
		Provider: "stripe",
		Payload:  []byte(`{}`),
	}); err != nil {
		t.Fatalf("expected ignored events to succeed silently, got %v", err)
	}
	if env.orders.orders["ord-1"].PayStatus != domain.PayStatusUnpaid {
		t.Fatal("the order must stay unpaid")
	}
}

func TestPaymentHandleGatewayEventRejectsBadSignature(t *testing.T) {
	env := newPaymentTestEnv(t, unpaidOrder("ord-1"))
	env.webhooks.err = payments.ErrWebhookSignature

	err := env.service.HandleGatewayEvent(context.Background(), GatewayEventCommand{
		Provider: "stripe",
		Payload:  []byte(`{}`),
	})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
	}
}

func TestPaymentHandleGatewayEventRejectsUnknownProvider(t *testing.T) {
	env := newPaymentTestEnv(t)

	err := env.service.HandleGatewayEvent(context.Background(), GatewayEventCommand{Provider: "paypal"})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
	}
}

func TestPaymentListMoneyLogsRequiresUser(t *testing.T) {
	env := newPaymentTestEnv(t)

	if _, err := env.service.ListMoneyLogs(context.Background(), "", Pagination{}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
	}
}
