package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/mixmall/api/internal/domain"
	"github.com/mixmall/api/internal/repositories"
)

var (
	// ErrPricingInvalidInput signals the caller provided invalid quote data.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrCouponInvalid indicates the coupon is expired, already used, or not owned by the buyer.
	ErrCouponInvalid = errors.New("pricing: coupon invalid")
	// ErrCouponNotMet indicates the order total does not reach the coupon threshold.
	ErrCouponNotMet = errors.New("pricing: coupon threshold not met")
)

// PricingEngineDeps bundles collaborators required to construct the pricing engine.
type PricingEngineDeps struct {
	Inventory repositories.InventoryRepository
	Coupons   repositories.CouponRepository
	Tiers     repositories.ReductionTierRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type pricingEngine struct {
	inventory repositories.InventoryRepository
	coupons   repositories.CouponRepository
	tiers     repositories.ReductionTierRepository
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewPricingEngine wires dependencies into a concrete PricingEngine implementation.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	if deps.Inventory == nil {
		return nil, errors.New("pricing engine: inventory repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("pricing engine: coupon repository is required")
	}
	if deps.Tiers == nil {
		return nil, errors.New("pricing engine: reduction tier repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &pricingEngine{
		inventory: deps.Inventory,
		coupons:   deps.Coupons,
		tiers:     deps.Tiers,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Quote fetches current SKU prices, the reduction ladder, and the referenced
// coupon, then runs the deterministic calculation.
func (e *pricingEngine) Quote(ctx context.Context, cmd QuoteCommand) (Quote, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Quote{}, fmt.Errorf("%w: user id is required", ErrPricingInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return Quote{}, fmt.Errorf("%w: at least one line is required", ErrPricingInvalidInput)
	}

	lines := make([]domain.QuoteLine, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		skuID := strings.TrimSpace(line.SKUID)
		if skuID == "" {
			return Quote{}, fmt.Errorf("%w: sku id is required", ErrPricingInvalidInput)
		}
		if line.Quantity <= 0 {
			return Quote{}, fmt.Errorf("%w: quantity must be positive for sku %s", ErrPricingInvalidInput, skuID)
		}
		priced := line
		priced.SKUID = skuID
		if priced.UnitPrice <= 0 {
			sku, err := e.inventory.GetSKU(ctx, skuID)
			if err != nil {
				return Quote{}, e.mapRepositoryError(err)
			}
			priced.UnitPrice = sku.Price
			if priced.ProductID == "" {
				priced.ProductID = sku.ProductID
			}
		}
		lines = append(lines, priced)
	}

	tiers, err := e.tiers.List(ctx)
	if err != nil {
		return Quote{}, e.mapRepositoryError(err)
	}

	var coupon *domain.UserCoupon
	if couponID := strings.TrimSpace(cmd.CouponID); couponID != "" {
		found, err := e.coupons.FindForUser(ctx, userID, couponID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return Quote{}, fmt.Errorf("%w: coupon %s", ErrCouponInvalid, couponID)
			}
			return Quote{}, e.mapRepositoryError(err)
		}
		coupon = &found
	}

	quote, err := ComputeQuote(domain.QuoteInput{
		Lines:  lines,
		Coupon: coupon,
		Tiers:  tiers,
		Now:    e.clock().Unix(),
	})
	if err != nil {
		return Quote{}, err
	}

	e.logger(ctx, "pricing.quote", map[string]any{
		"user":       userID,
		"goodsPrice": quote.GoodsPrice,
		"payPrice":   quote.PayPrice,
	})
	return quote, nil
}

// ComputeQuote is the deterministic pricing core. It never performs I/O;
// callers supply lines with resolved unit prices, the reduction ladder, and
// the already-fetched coupon.
func ComputeQuote(input domain.QuoteInput) (domain.Quote, error) {
	if len(input.Lines) == 0 {
		return domain.Quote{}, fmt.Errorf("%w: no lines", ErrPricingInvalidInput)
	}

	var goodsPrice int64
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return domain.Quote{}, fmt.Errorf("%w: quantity must be positive", ErrPricingInvalidInput)
		}
		if line.UnitPrice < 0 {
			return domain.Quote{}, fmt.Errorf("%w: unit price must not be negative", ErrPricingInvalidInput)
		}
		goodsPrice += line.UnitPrice * int64(line.Quantity)
	}

	// Tiers never stack: only the single largest qualifying rung applies.
	var fullReduction int64
	var bestThreshold int64 = -1
	for _, tier := range input.Tiers {
		if tier.Threshold <= goodsPrice && tier.Threshold > bestThreshold {
			bestThreshold = tier.Threshold
			fullReduction = tier.Discount
		}
	}
	if fullReduction > goodsPrice {
		fullReduction = goodsPrice
	}

	remaining := goodsPrice - fullReduction

	var couponDiscount int64
	couponID := ""
	if input.Coupon != nil {
		coupon := input.Coupon
		if coupon.Used {
			return domain.Quote{}, fmt.Errorf("%w: already used", ErrCouponInvalid)
		}
		if !coupon.ExpiresAt.IsZero() && coupon.ExpiresAt.Unix() < input.Now {
			return domain.Quote{}, fmt.Errorf("%w: expired", ErrCouponInvalid)
		}
		if remaining < coupon.Threshold {
			return domain.Quote{}, fmt.Errorf("%w: threshold %d, remaining %d", ErrCouponNotMet, coupon.Threshold, remaining)
		}
		couponDiscount = coupon.Amount
		if couponDiscount > remaining {
			couponDiscount = remaining
		}
		couponID = coupon.ID
	}

	payPrice := remaining - couponDiscount
	if payPrice < 0 {
		payPrice = 0
	}

	return domain.Quote{
		GoodsPrice:     goodsPrice,
		FullReduction:  fullReduction,
		CouponDiscount: couponDiscount,
		PayPrice:       payPrice,
		CouponID:       couponID,
	}, nil
}

func (e *pricingEngine) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPricingInvalidInput, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("pricing: repository unavailable: %w", err)
		}
	}
	return err
}
