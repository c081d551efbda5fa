package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates lifecycle states for orders. The numeric codes are
// stable and stored as-is in Firestore.
type OrderStatus int

const (
	// OrderStatusPendingPayment indicates the order awaits payment.
	OrderStatusPendingPayment OrderStatus = 0
	// OrderStatusPendingShipment indicates payment succeeded and the order awaits shipment.
	OrderStatusPendingShipment OrderStatus = 1
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = 2
	// OrderStatusPendingReview indicates receipt was confirmed and a rating is outstanding.
	OrderStatusPendingReview OrderStatus = 3
	// OrderStatusCompleted indicates the order finished its normal lifecycle.
	OrderStatusCompleted OrderStatus = 4
	// OrderStatusClosed indicates the order was cancelled before payment.
	OrderStatusClosed OrderStatus = 10
	// OrderStatusCancelled indicates the order was refunded after payment but before shipment.
	OrderStatusCancelled OrderStatus = 11
	// OrderStatusReturnRequested indicates the buyer asked to return the goods.
	OrderStatusReturnRequested OrderStatus = 12
	// OrderStatusReturnRejected indicates the return request was declined; the order is complete.
	OrderStatusReturnRejected OrderStatus = 13
	// OrderStatusReturning indicates the return was approved and the buyer is shipping the goods back.
	OrderStatusReturning OrderStatus = 14
	// OrderStatusReturnComplete indicates the returned goods were accepted and refunded.
	OrderStatusReturnComplete OrderStatus = 15
	// OrderStatusRefundRejected indicates the refund was declined after return; the order is complete.
	OrderStatusRefundRejected OrderStatus = 16
)

// Terminal reports whether the status ends the order lifecycle. Only terminal
// orders may be removed from the buyer's list.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusClosed, OrderStatusCancelled,
		OrderStatusReturnRejected, OrderStatusReturnComplete, OrderStatusRefundRejected:
		return true
	}
	return false
}

// Label returns the buyer-facing name for the status.
func (s OrderStatus) Label() string {
	switch s {
	case OrderStatusPendingPayment:
		return "pending payment"
	case OrderStatusPendingShipment:
		return "pending shipment"
	case OrderStatusShipped:
		return "shipped"
	case OrderStatusPendingReview:
		return "pending review"
	case OrderStatusCompleted:
		return "completed"
	case OrderStatusClosed:
		return "closed"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusReturnRequested:
		return "return requested"
	case OrderStatusReturnRejected:
		return "return rejected"
	case OrderStatusReturning:
		return "returning"
	case OrderStatusReturnComplete:
		return "return complete"
	case OrderStatusRefundRejected:
		return "refund rejected"
	}
	return "unknown"
}

// PayType identifies how an order is (or was) paid.
type PayType string

const (
	// PayTypeBalance settles the order from the buyer's stored balance.
	PayTypeBalance PayType = "balance"
	// PayTypeStripe hands the buyer off to the Stripe gateway.
	PayTypeStripe PayType = "stripe"
)

// PriceData is the priced breakdown of an order, captured at creation.
// Amounts are in the smallest currency unit.
type PriceData struct {
	GoodsPrice     int64
	FullReduction  int64
	CouponDiscount int64
	PayPrice       int64
	CouponID       string
}

// TimelineEntry is one buyer-visible milestone on an order. Entries are kept
// newest first.
type TimelineEntry struct {
	Time  time.Time
	Title string
	Tip   string
	Type  string
}

// OrderLine snapshots one purchased SKU at the moment of ordering.
type OrderLine struct {
	ProductID string
	SKUID     string
	Title     string
	Image     string
	SpecText  string
	UnitPrice int64
	Quantity  int
}

// Commission holds the inviter payouts precomputed at order creation and
// settled when receipt is confirmed. Paid is the at-most-once guard.
type Commission struct {
	Level1UserID string
	Level1Amount int64
	Level2UserID string
	Level2Amount int64
	Paid         bool
	PaidAt       *time.Time
}

// ReturnAddress is the merchant address returned goods are shipped to.
type ReturnAddress struct {
	ID      string
	Name    string
	Mobile  string
	Address string
	Active  bool
}

// ReturnInfo tracks the return/refund workflow attached to an order.
type ReturnInfo struct {
	Reason         string
	Address        *ReturnAddress
	ShipperCode    string
	TrackingNumber string
	RefundNumber   string
}

// OrderRating stores the buyer's rating submitted when completing the order.
type OrderRating struct {
	Stars   int
	Content string
	RatedAt time.Time
}

// Address represents the consignee snapshot captured on the order.
type Address struct {
	Name     string
	Mobile   string
	Province string
	City     string
	District string
	Detail   string
}

// Order is the aggregate at the heart of fulfillment. Lines, price data and
// the consignee address are snapshots; they never change after creation.
type Order struct {
	ID             string
	OrderNumber    string
	UserID         string
	Username       string
	Status         OrderStatus
	StatusTip      string
	Lines          []OrderLine
	Price          PriceData
	Address        Address
	PayType        PayType
	PayStatus      int
	GatewayRef     string
	Commission     *Commission
	Return         *ReturnInfo
	Rating         *OrderRating
	ShipperCode    string
	TrackingNumber string
	Timeline       []TimelineEntry
	Note           string
	Removed        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PaidAt         *time.Time
	ShippedAt      *time.Time
	CompletedAt    *time.Time
}

// PayStatus values recorded alongside the order status.
const (
	// PayStatusUnpaid marks an order whose payment has not been observed.
	PayStatusUnpaid = 0
	// PayStatusPaid marks an order whose payment has been reconciled.
	PayStatusPaid = 1
)

// Product carries the storefront fields fulfillment touches: stock, sales and
// rating aggregates. Catalog authoring lives elsewhere.
type Product struct {
	ID          string
	Title       string
	Image       string
	Price       int64
	Stock       int
	Sales       int
	RatingCount int
	RatingTotal int
	RatingRatio int
	Deleted     bool
	UpdatedAt   time.Time
}

// SKU is a sellable variant of a product with its own price and stock.
type SKU struct {
	ID        string
	ProductID string
	SpecText  string
	Price     int64
	Stock     int
	Deleted   bool
	UpdatedAt time.Time
}

// UserCoupon is a coupon instance held by a buyer.
type UserCoupon struct {
	ID        string
	UserID    string
	Title     string
	Threshold int64
	Amount    int64
	Used      bool
	ExpiresAt time.Time
}

// ReductionTier is one rung of the storewide full-reduction ladder.
type ReductionTier struct {
	Threshold int64
	Discount  int64
}

// User carries the account fields payment and commission need.
type User struct {
	ID               string
	Username         string
	Balance          int64
	PayPasswordHash  string
	InviterID        string
	ConsumptionTotal int64
	SalesTotal       int64
}

// MoneyLogType classifies balance movements.
type MoneyLogType string

const (
	// MoneyLogPayOrder records a balance debit for an order payment.
	MoneyLogPayOrder MoneyLogType = "pay_order"
	// MoneyLogRefundOrder records a refund credited back to the buyer.
	MoneyLogRefundOrder MoneyLogType = "refund_order"
	// MoneyLogCommission records an inviter commission credit.
	MoneyLogCommission MoneyLogType = "commission"
	// MoneyLogRecharge records a balance top-up.
	MoneyLogRecharge MoneyLogType = "recharge"
)

// MoneyLog is one entry in a user's balance ledger.
type MoneyLog struct {
	ID        string
	UserID    string
	Title     string
	Type      MoneyLogType
	Amount    int64
	CreatedAt time.Time
}

// ExpressCompany describes a carrier known to the storefront.
type ExpressCompany struct {
	ID    string
	Code  string
	Name  string
	Logo  string
	Phone string
}

// LogisticsTrace is one scan event on a shipment, newest first.
type LogisticsTrace struct {
	Time    time.Time
	Context string
}

// LogisticsInfo joins carrier metadata with the tracking trace.
type LogisticsInfo struct {
	Company ExpressCompany
	State   string
	Traces  []LogisticsTrace
}

// OrderCounts summarizes open orders per storefront tab.
type OrderCounts struct {
	PendingPayment  int
	PendingShipment int
	Shipped         int
	PendingReview   int
	Returning       int
}

// PaymentHandoff is what the client needs to finish a gateway payment.
type PaymentHandoff struct {
	Provider     string
	SessionID    string
	ClientSecret string
	RedirectURL  string
	ExpiresAt    time.Time
}

// OrderExport is the signed-URL result of an admin order export.
type OrderExport struct {
	ObjectName string
	URL        string
	ExpiresAt  time.Time
	Rows       int
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// AuditLogEntry stores normalized audit information for admin actions.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Diff      map[string]any
	IPHash    string
	UserAgent string
	Severity  string
	RequestID string
	CreatedAt time.Time
}
