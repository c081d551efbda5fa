package services

import (
	"context"
	"time"

	domain "github.com/mixmall/api/internal/domain"
	"github.com/mixmall/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Order              = domain.Order
	OrderLine          = domain.OrderLine
	OrderStatus        = domain.OrderStatus
	OrderCounts        = domain.OrderCounts
	OrderRating        = domain.OrderRating
	PriceData          = domain.PriceData
	TimelineEntry      = domain.TimelineEntry
	Quote              = domain.Quote
	QuoteLine          = domain.QuoteLine
	Address            = domain.Address
	PayType            = domain.PayType
	PaymentHandoff     = domain.PaymentHandoff
	Commission         = domain.Commission
	ReturnAddress      = domain.ReturnAddress
	ReturnInfo         = domain.ReturnInfo
	Product            = domain.Product
	SKU                = domain.SKU
	UserCoupon         = domain.UserCoupon
	ReductionTier      = domain.ReductionTier
	User               = domain.User
	MoneyLog           = domain.MoneyLog
	ExpressCompany     = domain.ExpressCompany
	LogisticsInfo      = domain.LogisticsInfo
	OrderExport        = domain.OrderExport
	SystemHealthReport = domain.SystemHealthReport
	AuditLogEntry      = domain.AuditLogEntry
)

// PricingEngine prices a set of lines against the reduction ladder and an
// optional coupon. Quote performs no persistence.
type PricingEngine interface {
	Quote(ctx context.Context, cmd QuoteCommand) (Quote, error)
}

// InventoryService centralizes conditional stock movements shared by order flows.
type InventoryService interface {
	Reserve(ctx context.Context, lines []OrderLine) error
	Release(ctx context.Context, lines []OrderLine) error
	RecordSales(ctx context.Context, lines []OrderLine) error
	ApplyRating(ctx context.Context, lines []OrderLine, stars int) error
}

// OrderService owns the order lifecycle: creation, the status machine, and
// the return/refund workflow.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, userID string, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListQuery) (domain.CursorPage[Order], error)
	CountOrders(ctx context.Context, userID string) (OrderCounts, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	ConfirmReceipt(ctx context.Context, cmd ConfirmReceiptCommand) (Order, error)
	Rate(ctx context.Context, cmd RateOrderCommand) (Order, error)
	Remove(ctx context.Context, cmd RemoveOrderCommand) error

	RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Order, error)
	SubmitReturnShipment(ctx context.Context, cmd ReturnShipmentCommand) (Order, error)
	RequestRefund(ctx context.Context, cmd RequestRefundCommand) (Order, error)

	Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error)
	BatchShip(ctx context.Context, cmd BatchShipCommand) (Order, error)
	RejectReturn(ctx context.Context, cmd ReturnDecisionCommand) (Order, error)
	ApproveReturn(ctx context.Context, cmd ReturnDecisionCommand) (Order, error)
	RejectRefund(ctx context.Context, cmd ReturnDecisionCommand) (Order, error)
	ApproveRefund(ctx context.Context, cmd ReturnDecisionCommand) (Order, error)

	ListAdmin(ctx context.Context, filter repositories.AdminOrderFilter) (domain.CursorPage[Order], error)
}

// PaymentService dispatches order payments and reconciles gateway outcomes.
type PaymentService interface {
	Pay(ctx context.Context, cmd PayOrderCommand) (PayOrderResult, error)
	QueryPayStatus(ctx context.Context, cmd QueryPayStatusCommand) (PayStatusResult, error)
	HandleGatewayEvent(ctx context.Context, cmd GatewayEventCommand) error
	ListMoneyLogs(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[MoneyLog], error)
}

// LogisticsService lists carriers and resolves live tracking traces.
type LogisticsService interface {
	ListCompanies(ctx context.Context) ([]ExpressCompany, error)
	Track(ctx context.Context, cmd TrackCommand) (LogisticsInfo, error)
}

// ExportService renders back-office order exports and uploads them to object storage.
type ExportService interface {
	ExportOrders(ctx context.Context, cmd ExportOrdersCommand) (OrderExport, error)
}

// SystemService aggregates utility endpoints (health checks, audit logs).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// OrderEventPublisher accepts order lifecycle notifications for downstream
// processing. Publish failures are logged, never surfaced to the buyer.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent is the payload handed to the notification publisher.
type OrderEvent struct {
	Type        string
	OrderID     string
	OrderNumber string
	UserID      string
	Status      OrderStatus
	OccurredAt  time.Time
	Metadata    map[string]any
}

// Command and DTO definitions ------------------------------------------------

// QuoteCommand carries everything needed to preview an order price.
type QuoteCommand struct {
	UserID   string
	Lines    []QuoteLine
	CouponID string
}

// OrderLineInput identifies one SKU/quantity pair on a creation request.
type OrderLineInput struct {
	SKUID    string
	Quantity int
}

// CreateOrderMode distinguishes cart checkout from buy-now.
type CreateOrderMode string

const (
	// CreateModeCart prices and creates an order from selected cart lines.
	CreateModeCart CreateOrderMode = "cart"
	// CreateModeBuyNow creates a single-line order directly from a product page.
	CreateModeBuyNow CreateOrderMode = "buy_now"
)

type CreateOrderCommand struct {
	UserID   string
	Username string
	Mode     CreateOrderMode
	Lines    []OrderLineInput
	Address  Address
	CouponID string
	Note     string
}

// OrderListQuery narrows a buyer's order listing.
type OrderListQuery struct {
	UserID     string
	Statuses   []OrderStatus
	Pagination Pagination
}

type CancelOrderCommand struct {
	UserID  string
	OrderID string
}

type ConfirmReceiptCommand struct {
	UserID  string
	OrderID string
}

type RateOrderCommand struct {
	UserID  string
	OrderID string
	Stars   int
	Content string
}

type RemoveOrderCommand struct {
	UserID  string
	OrderID string
}

type RequestReturnCommand struct {
	UserID  string
	OrderID string
	Reason  string
}

type ReturnShipmentCommand struct {
	UserID         string
	OrderID        string
	ShipperCode    string
	TrackingNumber string
}

type RequestRefundCommand struct {
	UserID  string
	OrderID string
}

type ShipOrderCommand struct {
	OrderID        string
	ShipperCode    string
	ShipperName    string
	TrackingNumber string
	ActorID        string
}

type BatchShipCommand struct {
	OrderNumber    string
	ShipperCode    string
	TrackingNumber string
	ActorID        string
}

// ReturnDecisionCommand is shared by the four admin return/refund decisions.
type ReturnDecisionCommand struct {
	OrderID string
	ActorID string
}

type PayOrderCommand struct {
	UserID      string
	OrderID     string
	PayType     PayType
	PayPassword string
}

// PayOrderResult reports either a settled balance payment or a gateway handoff.
type PayOrderResult struct {
	Paid    bool
	Order   Order
	Handoff *PaymentHandoff
}

type QueryPayStatusCommand struct {
	UserID  string
	OrderID string
}

// PayStatusResult reports the reconciled payment state of an order.
type PayStatusResult struct {
	Paid   bool
	Status OrderStatus
}

// GatewayEventCommand wraps a raw gateway callback for reconciliation.
type GatewayEventCommand struct {
	Provider string
	Payload  []byte
	Headers  map[string]string
}

type TrackCommand struct {
	UserID  string
	OrderID string
	Phone   string
}

type ExportOrdersCommand struct {
	OrderNumber   string
	Username      string
	ConsigneeName string
	Status        *OrderStatus
	ActorID       string
}

// AuditLogRecord defines the payload accepted by the audit writer service.
type AuditLogRecord struct {
	Actor                 string
	ActorType             string
	Action                string
	TargetRef             string
	Severity              string
	RequestID             string
	OccurredAt            time.Time
	Metadata              map[string]any
	SensitiveMetadataKeys []string
	Diff                  map[string]AuditLogDiff
	SensitiveDiffKeys     []string
	IPAddress             string
	UserAgent             string
}

// AuditLogDiff captures a before/after pair for one audited field.
type AuditLogDiff struct {
	Before any
	After  any
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}
