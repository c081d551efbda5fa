package repositories

import (
	"context"
	"time"

	domain "github.com/mixmall/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Inventory() InventoryRepository
	Coupons() CouponRepository
	Users() UserRepository
	MoneyLogs() MoneyLogRepository
	ReductionTiers() ReductionTierRepository
	ReturnAddresses() ReturnAddressRepository
	Express() ExpressRepository
	AuditLogs() AuditLogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order documents and provides query helpers for buyers and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	// NumberExists reports whether an order already carries the given number.
	// Called inside the creation transaction to rule out collisions.
	NumberExists(ctx context.Context, orderNumber string) (bool, error)
	ListByUser(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListAdmin(ctx context.Context, filter AdminOrderFilter) (domain.CursorPage[domain.Order], error)
	CountsByUser(ctx context.Context, userID string) (domain.OrderCounts, error)
	// MarkPaid applies the idempotent payment reconciliation update: it only
	// touches orders still in {status: pending payment, pay_status: unpaid}
	// and reports whether a document was updated. A non-empty gatewayRef is
	// stored alongside, since checkout sessions learn their payment intent
	// only at reconciliation time.
	MarkPaid(ctx context.Context, orderID string, payType domain.PayType, gatewayRef string, paidAt time.Time, entry domain.TimelineEntry) (bool, error)
	// SetRemoved soft-hides a terminal order from the buyer's listings.
	SetRemoved(ctx context.Context, orderID string, removed bool) error
}

// StockAdjustment is one product/SKU stock delta. Negative deltas reserve,
// positive deltas release.
type StockAdjustment struct {
	ProductID string
	SKUID     string
	Delta     int
}

// InventoryRepository manages product and SKU stock with transactional guarantees.
type InventoryRepository interface {
	// Adjust applies the delta to both the product and the SKU stock.
	// Negative deltas are guarded by stock >= -delta on both documents; a
	// failed guard surfaces as a conflict RepositoryError.
	Adjust(ctx context.Context, adj StockAdjustment) error
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	GetSKU(ctx context.Context, skuID string) (domain.SKU, error)
	IncrementSales(ctx context.Context, productID string, quantity int) error
	// ApplyRating folds one 0-5 star rating into the product aggregates.
	ApplyRating(ctx context.Context, productID string, stars int) error
}

// CouponRepository stores per-buyer coupon instances.
type CouponRepository interface {
	FindForUser(ctx context.Context, userID string, couponID string) (domain.UserCoupon, error)
	// SetUsed flips the used flag. Marking used is conditional on the coupon
	// being unused; a lost race surfaces as a conflict RepositoryError.
	SetUsed(ctx context.Context, couponID string, used bool) error
}

// UserRepository stores the account fields payment and commission touch.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	// AdjustBalance applies the delta to the user's balance. Negative deltas
	// are guarded by balance >= -delta; a failed guard surfaces as a conflict
	// RepositoryError.
	AdjustBalance(ctx context.Context, userID string, delta int64) error
	IncrementConsumption(ctx context.Context, userID string, amount int64) error
	IncrementSalesTotal(ctx context.Context, userID string, amount int64) error
}

// MoneyLogRepository appends and lists balance ledger entries.
type MoneyLogRepository interface {
	Append(ctx context.Context, entry domain.MoneyLog) error
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.MoneyLog], error)
}

// ReductionTierRepository reads the storewide full-reduction ladder.
type ReductionTierRepository interface {
	List(ctx context.Context) ([]domain.ReductionTier, error)
}

// ReturnAddressRepository reads the configured merchant return address.
type ReturnAddressRepository interface {
	// FindActive returns the active return address, or a not-found
	// RepositoryError when none is configured.
	FindActive(ctx context.Context) (domain.ReturnAddress, error)
}

// ExpressRepository stores carrier metadata for logistics lookups.
type ExpressRepository interface {
	List(ctx context.Context) ([]domain.ExpressCompany, error)
	FindByCode(ctx context.Context, code string) (domain.ExpressCompany, error)
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// OrderListFilter narrows buyer order listings, newest first.
type OrderListFilter struct {
	UserID         string
	Statuses       []domain.OrderStatus
	IncludeRemoved bool
	Pagination     domain.Pagination
}

// AdminOrderFilter narrows back-office order listings.
type AdminOrderFilter struct {
	OrderNumber   string
	Username      string
	ConsigneeName string
	Status        *domain.OrderStatus
	Pagination    domain.Pagination
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}
