package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/mixmall/api/internal/domain"
	"github.com/mixmall/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventRefunded      = "order.refunded"
	orderEventShipped       = "order.shipped"
	orderEventCommissionOut = "order.commission.paid"

	orderIDPrefix = "ord_"

	orderNumberDateLayout  = "20060102"
	orderNumberRandomWidth = 12

	maxOrderNoteLength     = 200
	maxReturnReasonLength  = 500
	maxRatingContentLength = 500

	orderNumberAttempts = 3
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or belongs to someone else.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderStateConflict indicates the order is not in the status the operation requires.
	ErrOrderStateConflict = errors.New("order: state conflict")
	// ErrOrderNoReturnAddress indicates no active merchant return address is configured.
	ErrOrderNoReturnAddress = errors.New("order: no active return address")

	errOrderNumberCollision = errors.New("order: number collision")
)

// Only these transitions exist; everything else is a state conflict.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPendingPayment:  {domain.OrderStatusPendingShipment, domain.OrderStatusClosed},
	domain.OrderStatusPendingShipment: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:         {domain.OrderStatusPendingReview, domain.OrderStatusReturnRequested},
	domain.OrderStatusPendingReview:   {domain.OrderStatusCompleted, domain.OrderStatusReturnRequested},
	domain.OrderStatusReturnRequested: {domain.OrderStatusReturnRejected, domain.OrderStatusReturning},
	domain.OrderStatusReturning:       {domain.OrderStatusReturnComplete, domain.OrderStatusRefundRejected},
}

func canTransition(from, to domain.OrderStatus) bool {
	for _, allowed := range orderStateTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// GatewayRefunder executes a refund against the payment gateway. It is the
// last call inside a refund transaction so a gateway failure aborts the
// whole refund.
type GatewayRefunder interface {
	RefundPayment(ctx context.Context, gatewayRef string, amount int64) error
}

// CommissionRates configures inviter payouts in basis points of the pay price.
type CommissionRates struct {
	Level1Bps int64
	Level2Bps int64
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Catalog         repositories.InventoryRepository
	Coupons         repositories.CouponRepository
	Users           repositories.UserRepository
	MoneyLogs       repositories.MoneyLogRepository
	ReturnAddresses repositories.ReturnAddressRepository
	Express         repositories.ExpressRepository
	Inventory       InventoryService
	Pricing         PricingEngine
	Refunder        GatewayRefunder
	UnitOfWork      repositories.UnitOfWork
	// RefundUnitOfWork runs refund transactions. Wire it with a single
	// attempt so the external gateway call never re-executes on retry.
	RefundUnitOfWork repositories.UnitOfWork
	Commission       CommissionRates
	Clock            func() time.Time
	IDGenerator      func() string
	NumberGenerator  func(now time.Time) string
	Sanitizer        *bluemonday.Policy
	Events           OrderEventPublisher
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders          repositories.OrderRepository
	catalog         repositories.InventoryRepository
	coupons         repositories.CouponRepository
	users           repositories.UserRepository
	moneyLogs       repositories.MoneyLogRepository
	returnAddresses repositories.ReturnAddressRepository
	express         repositories.ExpressRepository
	inventory       InventoryService
	pricing         PricingEngine
	refunder        GatewayRefunder
	unitOfWork      repositories.UnitOfWork
	refundUnit      repositories.UnitOfWork
	commission      CommissionRates
	clock           func() time.Time
	newID           func() string
	newNumber       func(now time.Time) string
	sanitizer       *bluemonday.Policy
	events          OrderEventPublisher
	logger          func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: inventory repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("order service: coupon repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("order service: user repository is required")
	}
	if deps.MoneyLogs == nil {
		return nil, errors.New("order service: money log repository is required")
	}
	if deps.ReturnAddresses == nil {
		return nil, errors.New("order service: return address repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	refundUnit := deps.RefundUnitOfWork
	if refundUnit == nil {
		refundUnit = unit
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

	numberGen := deps.NumberGenerator
	if numberGen == nil {
		numberGen = defaultOrderNumber
	}

	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = bluemonday.StrictPolicy()
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:          deps.Orders,
		catalog:         deps.Catalog,
		coupons:         deps.Coupons,
		users:           deps.Users,
		moneyLogs:       deps.MoneyLogs,
		returnAddresses: deps.ReturnAddresses,
		express:         deps.Express,
		inventory:       deps.Inventory,
		pricing:         deps.Pricing,
		refunder:        deps.Refunder,
		unitOfWork:      unit,
		refundUnit:      refundUnit,
		commission:      deps.Commission,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		newNumber: numberGen,
		sanitizer: sanitizer,
		events:    deps.Events,
		logger:    logger,
	}, nil
}

// Create prices the requested lines, reserves stock, consumes the coupon, and
// inserts the order in a single transaction. The order starts unpaid.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}
	if cmd.Mode != CreateModeCart && cmd.Mode != CreateModeBuyNow {
		return Order{}, fmt.Errorf("%w: unknown create mode %q", ErrOrderInvalidInput, cmd.Mode)
	}
	if cmd.Mode == CreateModeBuyNow && len(cmd.Lines) != 1 {
		return Order{}, fmt.Errorf("%w: buy now accepts exactly one line", ErrOrderInvalidInput)
	}
	if err := validateConsignee(cmd.Address); err != nil {
		return Order{}, err
	}

	lines, err := s.resolveLines(ctx, cmd.Lines)
	if err != nil {
		return Order{}, err
	}

	quoteLines := make([]QuoteLine, 0, len(lines))
	for _, line := range lines {
		quoteLines = append(quoteLines, QuoteLine{
			ProductID: line.ProductID,
			SKUID:     line.SKUID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	quote, err := s.pricing.Quote(ctx, QuoteCommand{
		UserID:   userID,
		Lines:    quoteLines,
		CouponID: cmd.CouponID,
	})
	if err != nil {
		return Order{}, err
	}

	commission, err := s.precomputeCommission(ctx, userID, quote.PriceData().PayPrice)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	note := s.sanitizeText(cmd.Note, maxOrderNoteLength)

	order := Order{
		ID:         orderIDPrefix + s.newID(),
		UserID:     userID,
		Username:   strings.TrimSpace(cmd.Username),
		Status:     domain.OrderStatusPendingPayment,
		StatusTip:  "Waiting for payment",
		Lines:      lines,
		Price:      quote.PriceData(),
		Address:    cmd.Address,
		PayStatus:  domain.PayStatusUnpaid,
		Commission: commission,
		Note:       note,
		Timeline: []TimelineEntry{{
			Time:  now,
			Title: "Order created",
			Tip:   "Waiting for payment",
			Type:  "created",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	couponID := strings.TrimSpace(cmd.CouponID)
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order.OrderNumber = s.newNumber(now)

		err = s.runInTx(ctx, func(txCtx context.Context) error {
			exists, err := s.orders.NumberExists(txCtx, order.OrderNumber)
			if err != nil {
				return s.mapRepositoryError(err)
			}
			if exists {
				return errOrderNumberCollision
			}
			if couponID != "" {
				coupon, err := s.coupons.FindForUser(txCtx, userID, couponID)
				if err != nil {
					return s.mapRepositoryError(err)
				}
				if coupon.Used {
					return fmt.Errorf("%w: coupon already used", ErrCouponInvalid)
				}
			}
			if err := s.inventory.Reserve(txCtx, lines); err != nil {
				return err
			}
			if couponID != "" {
				if err := s.coupons.SetUsed(txCtx, couponID, true); err != nil {
					return s.mapRepositoryError(err)
				}
			}
			if err := s.orders.Insert(txCtx, order); err != nil {
				return s.mapRepositoryError(err)
			}
			return nil
		})
		if errors.Is(err, errOrderNumberCollision) {
			s.logger(ctx, "order.number.collision", map[string]any{
				"number":  order.OrderNumber,
				"attempt": attempt + 1,
			})
			continue
		}
		break
	}
	if errors.Is(err, errOrderNumberCollision) {
		return Order{}, fmt.Errorf("order: could not allocate a unique order number: %w", errOrderNumberCollision)
	}
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		OccurredAt:  now,
		Metadata: map[string]any{
			"payPrice": order.Price.PayPrice,
			"mode":     string(cmd.Mode),
		},
	})

	return order, nil
}

// GetOrder loads one of the buyer's orders. Orders owned by someone else are
// reported as missing.
func (s *orderService) GetOrder(ctx context.Context, userID string, orderID string) (Order, error) {
	return s.loadOwnedOrder(ctx, userID, orderID)
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListQuery) (domain.CursorPage[Order], error) {
	if strings.TrimSpace(filter.UserID) == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByUser(ctx, repositories.OrderListFilter{
		UserID:     strings.TrimSpace(filter.UserID),
		Statuses:   filter.Statuses,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) CountOrders(ctx context.Context, userID string) (OrderCounts, error) {
	if strings.TrimSpace(userID) == "" {
		return OrderCounts{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	counts, err := s.orders.CountsByUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return OrderCounts{}, s.mapRepositoryError(err)
	}
	return counts, nil
}

// Cancel closes an unpaid order and returns its stock and coupon.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, err := s.loadOwnedOrder(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return Order{}, fmt.Errorf("%w: only unpaid orders can be cancelled, order is %q", ErrOrderStateConflict, order.Status.Label())
	}

	now := s.now()
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Status != domain.OrderStatusPendingPayment {
			return fmt.Errorf("%w: order is %q", ErrOrderStateConflict, current.Status.Label())
		}
		if err := s.inventory.Release(txCtx, current.Lines); err != nil {
			return err
		}
		if current.Price.CouponID != "" {
			if err := s.coupons.SetUsed(txCtx, current.Price.CouponID, false); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		order = current
		s.applyTransition(&order, domain.OrderStatusClosed, now, "Order cancelled", "Cancelled before payment", "cancel")
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishStatusEvent(ctx, order, domain.OrderStatusPendingPayment, now)
	return order, nil
}

// ConfirmReceipt moves a shipped order to pending review and, exactly once,
// pays out the precomputed inviter commissions.
func (s *orderService) ConfirmReceipt(ctx context.Context, cmd ConfirmReceiptCommand) (Order, error) {
	order, err := s.loadOwnedOrder(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusShipped {
		return Order{}, fmt.Errorf("%w: only shipped orders can be confirmed, order is %q", ErrOrderStateConflict, order.Status.Label())
	}

	now := s.now()
	commissionPaid := false
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Status != domain.OrderStatusShipped {
			return fmt.Errorf("%w: order is %q", ErrOrderStateConflict, current.Status.Label())
		}

		if current.Commission != nil && !current.Commission.Paid {
			if err := s.payCommission(txCtx, &current, now); err != nil {
				return err
			}
			commissionPaid = true
		}
		if err := s.inventory.RecordSales(txCtx, current.Lines); err != nil {
			return err
		}

		order = current
		s.applyTransition(&order, domain.OrderStatusPendingReview, now, "Receipt confirmed", "Waiting for your review", "confirm")
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishStatusEvent(ctx, order, domain.OrderStatusShipped, now)
	if commissionPaid {
		s.publishEvent(ctx, OrderEvent{
			Type:        orderEventCommissionOut,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      order.UserID,
			Status:      order.Status,
			OccurredAt:  now,
		})
	}
	return order, nil
}

// Rate completes the order with the buyer's stars and sanitized comment, then
// folds the rating into the product aggregates.
func (s *orderService) Rate(ctx context.Context, cmd RateOrderCommand) (Order, error) {
	if cmd.Stars < 0 || cmd.Stars > 5 {
		return Order{}, fmt.Errorf("%w: stars must be between 0 and 5", ErrOrderInvalidInput)
	}

	order, err := s.loadOwnedOrder(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusPendingReview {
		return Order{}, fmt.Errorf("%w: only confirmed orders can be rated, order is %q", ErrOrderStateConflict, order.Status.Label())
	}

	now := s.now()
	content := s.sanitizeText(cmd.Content, maxRatingContentLength)

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Status != domain.OrderStatusPendingReview {
			return fmt.Errorf("%w: order is %q", ErrOrderStateConflict, current.Status.Label())
		}

		order = current
		order.Rating = &OrderRating{Stars: cmd.Stars, Content: content, RatedAt: now}
		order.CompletedAt = &now
		s.applyTransition(&order, domain.OrderStatusCompleted, now, "Order completed", "Thanks for your review", "rate")
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	// Rating aggregates are advisory; a failure here never unwinds the order.
	if err := s.inventory.ApplyRating(ctx, order.Lines, cmd.Stars); err != nil {
		s.logger(ctx, "order.rating.aggregate.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}

	s.publishStatusEvent(ctx, order, domain.OrderStatusPendingReview, now)
	return order, nil
}

// Remove soft-hides a terminal order from the buyer's listings.
func (s *orderService) Remove(ctx context.Context, cmd RemoveOrderCommand) error {
	order, err := s.loadOwnedOrder(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return err
	}
	if !order.Status.Terminal() {
		return fmt.Errorf("%w: only finished orders can be removed, order is %q", ErrOrderStateConflict, order.Status.Label())
	}
	if err := s.orders.SetRemoved(ctx, order.ID, true); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// RequestReturn opens a return request on a shipped or confirmed order.
func (s *orderService) RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Order, error) {
	reason := s.sanitizeText(cmd.Reason, maxReturnReasonLength)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: return reason is required", ErrOrderInvalidInput)
	}

	order, err := s.loadOwnedOrder(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusShipped && order.Status != domain.OrderStatusPendingReview {
		return Order{}, fmt.Errorf("%w: order %q cannot be returned", ErrOrderStateConflict, order.Status.Label())
	}

	now := s.now()
	previous := order.Status
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Status != previous {
			return fmt.Errorf("%w: order is %q", ErrOrderStateConflict, current.Status.Label())
		}

		order = current
		order.Return = &ReturnInfo{Reason: reason}
		s.applyTransition(&order, domain.OrderStatusReturnRequested, now, "Return requested", "Waiting for the merchant to review your return", "return")
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishStatusEvent(ctx, order, previous, now)
	return order, nil
}

// SubmitReturnShipment records the buyer's return tracking details. The order
// stays in the returning status.
func (s *orderService) SubmitReturnShipment(ctx context.Context, cmd ReturnShipmentCommand) (Order, error) {
	shipperCode := strings.TrimSpace(cmd.ShipperCode)
	trackingNumber := strings.TrimSpace(cmd.TrackingNumber)
	if shipperCode == "" {
		return Order{}, fmt.Errorf("%w: shipper code is required", ErrOrderInvalidInput)
	}
	if trackingNumber == "" {
		return Order{}, fmt.Errorf("%w: tracking number is required", ErrOrderInvalidInput)
	}

	order, err := s.loadOwnedOrder(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusReturning {
		return Order{}, fmt.Errorf("%w: return is not approved yet, order is %q", ErrOrderStateConflict, order.Status.Label())
	}
	if order.Return == nil {
		return Order{}, fmt.Errorf("%w: order has no return request", ErrOrderStateConflict)
	}

	now := s.now()
	order.Return.ShipperCode = shipperCode
	order.Return.TrackingNumber = trackingNumber
	order.UpdatedAt = now
	s.prependTimeline(&order, now, "Return shipment submitted",
		fmt.Sprintf("Tracking number %s", trackingNumber), "return")

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// RequestRefund refunds a paid, unshipped order in one transaction: stock and
// coupon return, money log, balance credit or gateway refund.
func (s *orderService) RequestRefund(ctx context.Context, cmd RequestRefundCommand) (Order, error) {
	order, err := s.loadOwnedOrder(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusPendingShipment {
		return Order{}, fmt.Errorf("%w: only unshipped orders can be refunded directly, order is %q", ErrOrderStateConflict, order.Status.Label())
	}

	now := s.now()
	refunded, err := s.executeRefund(ctx, order.ID, domain.OrderStatusPendingShipment, domain.OrderStatusCancelled,
		"Order refunded", "Refunded before shipment", now)
	if err != nil {
		return Order{}, err
	}
	return refunded, nil
}

// Ship hands a paid order to a carrier.
func (s *orderService) Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return s.ship(ctx, order, cmd.ShipperCode, cmd.ShipperName, cmd.TrackingNumber)
}

// BatchShip ships an order addressed by its buyer-facing number, for bulk
// back-office imports.
func (s *orderService) BatchShip(ctx context.Context, cmd BatchShipCommand) (Order, error) {
	number := strings.TrimSpace(cmd.OrderNumber)
	if number == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, number)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return s.ship(ctx, order, cmd.ShipperCode, "", cmd.TrackingNumber)
}

func (s *orderService) ship(ctx context.Context, order Order, shipperCode, shipperName, trackingNumber string) (Order, error) {
	shipperCode = strings.TrimSpace(shipperCode)
	trackingNumber = strings.TrimSpace(trackingNumber)
	shipperName = strings.TrimSpace(shipperName)
	if shipperCode == "" {
		return Order{}, fmt.Errorf("%w: shipper code is required", ErrOrderInvalidInput)
	}
	if trackingNumber == "" {
		return Order{}, fmt.Errorf("%w: tracking number is required", ErrOrderInvalidInput)
	}
	if order.Status != domain.OrderStatusPendingShipment {
		return Order{}, fmt.Errorf("%w: only paid orders awaiting shipment can be shipped, order is %q", ErrOrderStateConflict, order.Status.Label())
	}

	if shipperName == "" && s.express != nil {
		company, err := s.express.FindByCode(ctx, shipperCode)
		if err == nil {
			shipperName = company.Name
		}
	}
	if shipperName == "" {
		shipperName = shipperCode
	}

	now := s.now()
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Status != domain.OrderStatusPendingShipment {
			return fmt.Errorf("%w: order is %q", ErrOrderStateConflict, current.Status.Label())
		}

		order = current
		order.ShipperCode = shipperCode
		order.TrackingNumber = trackingNumber
		order.ShippedAt = &now
		s.applyTransition(&order, domain.OrderStatusShipped, now, "Order shipped",
			fmt.Sprintf("%s %s", shipperName, trackingNumber), "ship")
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventShipped,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		OccurredAt:  now,
		Metadata: map[string]any{
			"shipperCode":    shipperCode,
			"trackingNumber": trackingNumber,
		},
	})
	return order, nil
}

// RejectReturn declines a return request; the order completes.
func (s *orderService) RejectReturn(ctx context.Context, cmd ReturnDecisionCommand) (Order, error) {
	return s.decideReturn(ctx, cmd, domain.OrderStatusReturnRequested, domain.OrderStatusReturnRejected,
		"Return rejected", "The merchant declined your return request")
}

// ApproveReturn approves a return request. It requires an active merchant
// return address, whose snapshot is stamped onto the order for the buyer.
func (s *orderService) ApproveReturn(ctx context.Context, cmd ReturnDecisionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	address, err := s.returnAddresses.FindActive(ctx)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Order{}, ErrOrderNoReturnAddress
		}
		return Order{}, s.mapRepositoryError(err)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status != domain.OrderStatusReturnRequested {
		return Order{}, fmt.Errorf("%w: order is %q", ErrOrderStateConflict, order.Status.Label())
	}

	now := s.now()
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Status != domain.OrderStatusReturnRequested {
			return fmt.Errorf("%w: order is %q", ErrOrderStateConflict, current.Status.Label())
		}

		order = current
		if order.Return == nil {
			order.Return = &ReturnInfo{}
		}
		snapshot := address
		order.Return.Address = &snapshot
		s.applyTransition(&order, domain.OrderStatusReturning, now, "Return approved",
			fmt.Sprintf("Ship the item back to %s, %s", address.Name, address.Address), "return")
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishStatusEvent(ctx, order, domain.OrderStatusReturnRequested, now)
	return order, nil
}

// RejectRefund declines the refund after a return; the order completes.
func (s *orderService) RejectRefund(ctx context.Context, cmd ReturnDecisionCommand) (Order, error) {
	return s.decideReturn(ctx, cmd, domain.OrderStatusReturning, domain.OrderStatusRefundRejected,
		"Refund rejected", "The merchant declined the refund for the returned item")
}

// ApproveRefund accepts the returned goods and refunds the order atomically.
func (s *orderService) ApproveRefund(ctx context.Context, cmd ReturnDecisionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status != domain.OrderStatusReturning {
		return Order{}, fmt.Errorf("%w: order is %q", ErrOrderStateConflict, order.Status.Label())
	}

	now := s.now()
	return s.executeRefund(ctx, order.ID, domain.OrderStatusReturning, domain.OrderStatusReturnComplete,
		"Return complete", "The returned item was accepted and your payment refunded", now)
}

func (s *orderService) ListAdmin(ctx context.Context, filter repositories.AdminOrderFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.ListAdmin(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// decideReturn handles the two rejection decisions, which share their shape.
func (s *orderService) decideReturn(ctx context.Context, cmd ReturnDecisionCommand, from, to domain.OrderStatus, title, tip string) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status != from {
		return Order{}, fmt.Errorf("%w: order is %q", ErrOrderStateConflict, order.Status.Label())
	}

	now := s.now()
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Status != from {
			return fmt.Errorf("%w: order is %q", ErrOrderStateConflict, current.Status.Label())
		}

		order = current
		s.applyTransition(&order, to, now, title, tip, "return")
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishStatusEvent(ctx, order, from, now)
	return order, nil
}

// executeRefund runs the shared refund transaction: stock release, coupon
// return, money log, balance credit or gateway refund, order update. The
// gateway call goes last so an aborted transaction never leaves an external
// refund behind; the refund unit of work runs a single attempt.
func (s *orderService) executeRefund(ctx context.Context, orderID string, from, to domain.OrderStatus, title, tip string, now time.Time) (Order, error) {
	refundNumber := s.newNumber(now)

	var order Order
	err := s.refundUnit.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Status != from {
			return fmt.Errorf("%w: order is %q", ErrOrderStateConflict, current.Status.Label())
		}

		if err := s.inventory.Release(txCtx, current.Lines); err != nil {
			return err
		}

		amount := current.Price.PayPrice
		if current.PayType == domain.PayTypeBalance && amount > 0 {
			if err := s.users.AdjustBalance(txCtx, current.UserID, amount); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		if amount > 0 {
			entry := MoneyLog{
				ID:        s.newID(),
				UserID:    current.UserID,
				Title:     fmt.Sprintf("Refund for order %s", current.OrderNumber),
				Type:      domain.MoneyLogRefundOrder,
				Amount:    amount,
				CreatedAt: now,
			}
			if err := s.moneyLogs.Append(txCtx, entry); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		if current.Price.CouponID != "" {
			if err := s.coupons.SetUsed(txCtx, current.Price.CouponID, false); err != nil {
				return s.mapRepositoryError(err)
			}
		}

		order = current
		if order.Return == nil {
			order.Return = &ReturnInfo{}
		}
		order.Return.RefundNumber = refundNumber
		s.applyTransition(&order, to, now, title, tip, "refund")
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}

		if current.PayType == domain.PayTypeStripe && amount > 0 {
			if s.refunder == nil {
				return errors.New("order: gateway refunder not configured")
			}
			if err := s.refunder.RefundPayment(txCtx, current.GatewayRef, amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventRefunded,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		OccurredAt:  now,
		Metadata: map[string]any{
			"amount":       order.Price.PayPrice,
			"refundNumber": refundNumber,
		},
	})
	return order, nil
}

// payCommission credits the inviter chain and stamps the at-most-once flag.
func (s *orderService) payCommission(ctx context.Context, order *Order, now time.Time) error {
	c := order.Commission
	if c == nil || c.Paid {
		return nil
	}

	credits := []struct {
		userID string
		amount int64
		level  int
	}{
		{c.Level1UserID, c.Level1Amount, 1},
		{c.Level2UserID, c.Level2Amount, 2},
	}
	for _, credit := range credits {
		if credit.userID == "" || credit.amount <= 0 {
			continue
		}
		if err := s.users.AdjustBalance(ctx, credit.userID, credit.amount); err != nil {
			return s.mapRepositoryError(err)
		}
		entry := MoneyLog{
			ID:        s.newID(),
			UserID:    credit.userID,
			Title:     fmt.Sprintf("Commission for order %s", order.OrderNumber),
			Type:      domain.MoneyLogCommission,
			Amount:    credit.amount,
			CreatedAt: now,
		}
		if err := s.moneyLogs.Append(ctx, entry); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.users.IncrementSalesTotal(ctx, credit.userID, order.Price.PayPrice); err != nil {
			return s.mapRepositoryError(err)
		}
	}

	c.Paid = true
	c.PaidAt = &now
	return nil
}

// precomputeCommission resolves the buyer's inviter chain and captures the
// payout amounts on the order so rate changes never affect placed orders.
func (s *orderService) precomputeCommission(ctx context.Context, userID string, payPrice int64) (*Commission, error) {
	if payPrice <= 0 || (s.commission.Level1Bps <= 0 && s.commission.Level2Bps <= 0) {
		return nil, nil
	}

	buyer, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if buyer.InviterID == "" {
		return nil, nil
	}

	commission := &Commission{
		Level1UserID: buyer.InviterID,
		Level1Amount: roundBps(payPrice, s.commission.Level1Bps),
	}

	inviter, err := s.users.FindByID(ctx, buyer.InviterID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil, nil
		}
		return nil, s.mapRepositoryError(err)
	}
	if inviter.InviterID != "" && s.commission.Level2Bps > 0 {
		commission.Level2UserID = inviter.InviterID
		commission.Level2Amount = roundBps(payPrice, s.commission.Level2Bps)
	}
	return commission, nil
}

// roundBps computes amount x bps/10000 rounded half-up.
func roundBps(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return (amount*bps + 5000) / 10000
}

func (s *orderService) resolveLines(ctx context.Context, inputs []OrderLineInput) ([]OrderLine, error) {
	lines := make([]OrderLine, 0, len(inputs))
	for _, input := range inputs {
		skuID := strings.TrimSpace(input.SKUID)
		if skuID == "" {
			return nil, fmt.Errorf("%w: sku id is required", ErrOrderInvalidInput)
		}
		if input.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", ErrOrderInvalidInput)
		}

		sku, err := s.catalog.GetSKU(ctx, skuID)
		if err != nil {
			return nil, s.mapInventoryError(err)
		}
		product, err := s.catalog.GetProduct(ctx, sku.ProductID)
		if err != nil {
			return nil, s.mapInventoryError(err)
		}

		lines = append(lines, OrderLine{
			ProductID: product.ID,
			SKUID:     sku.ID,
			Title:     product.Title,
			Image:     product.Image,
			SpecText:  sku.SpecText,
			UnitPrice: sku.Price,
			Quantity:  input.Quantity,
		})
	}
	return lines, nil
}

func validateConsignee(address Address) error {
	if strings.TrimSpace(address.Name) == "" {
		return fmt.Errorf("%w: consignee name is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(address.Mobile) == "" {
		return fmt.Errorf("%w: consignee mobile is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(address.Detail) == "" {
		return fmt.Errorf("%w: address detail is required", ErrOrderInvalidInput)
	}
	return nil
}

func (s *orderService) loadOwnedOrder(ctx context.Context, userID, orderID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
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

// applyTransition moves the order to the target status and records the
// timeline entry. Callers verify the source status first; this re-checks the
// transition table as a final guard.
func (s *orderService) applyTransition(order *Order, target domain.OrderStatus, now time.Time, title, tip, entryType string) {
	if !canTransition(order.Status, target) {
		// Callers validate before entering the transaction; reaching this
		// point is a programming error worth surfacing loudly in logs.
		s.logger(context.Background(), "order.transition.invalid", map[string]any{
			"order": order.ID,
			"from":  int(order.Status),
			"to":    int(target),
		})
	}
	order.Status = target
	order.StatusTip = tip
	order.UpdatedAt = now
	s.prependTimeline(order, now, title, tip, entryType)
}

func (s *orderService) prependTimeline(order *Order, now time.Time, title, tip, entryType string) {
	entry := TimelineEntry{Time: now, Title: title, Tip: tip, Type: entryType}
	order.Timeline = append([]TimelineEntry{entry}, order.Timeline...)
}

func (s *orderService) sanitizeText(text string, maxLen int) string {
	text = strings.TrimSpace(s.sanitizer.Sanitize(text))
	if maxLen > 0 && len(text) > maxLen {
		text = text[:maxLen]
	}
	return text
}

func (s *orderService) mapRepositoryError(err error) error {
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
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) mapInventoryError(err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) && invErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishStatusEvent(ctx context.Context, order Order, previous domain.OrderStatus, now time.Time) {
	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventStatusChanged,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		OccurredAt:  now,
		Metadata: map[string]any{
			"previous": int(previous),
			"current":  int(order.Status),
		},
	})
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

// defaultOrderNumber builds the storefront order number: an eight digit date
// prefix followed by twelve random decimal digits.
func defaultOrderNumber(now time.Time) string {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(orderNumberRandomWidth), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		n = new(big.Int).Mod(big.NewInt(now.UnixNano()), limit)
	}
	return now.Format(orderNumberDateLayout) + fmt.Sprintf("%0*d", orderNumberRandomWidth, n)
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
