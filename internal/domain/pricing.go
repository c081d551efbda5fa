package domain

// QuoteLine is one SKU/quantity pair submitted for pricing.
type QuoteLine struct {
	ProductID string
	SKUID     string
	Quantity  int
	UnitPrice int64
}

// QuoteInput bundles everything the pricing engine needs. The caller fetches
// the coupon and tier data; the engine itself performs no I/O.
type QuoteInput struct {
	Lines  []QuoteLine
	Coupon *UserCoupon
	Tiers  []ReductionTier
	Now    int64
}

// Quote is the priced result of a quote request. Amounts are in the smallest
// currency unit.
type Quote struct {
	GoodsPrice     int64
	FullReduction  int64
	CouponDiscount int64
	PayPrice       int64
	CouponID       string
}

// PriceData converts a quote into the snapshot stored on an order.
func (q Quote) PriceData() PriceData {
	return PriceData{
		GoodsPrice:     q.GoodsPrice,
		FullReduction:  q.FullReduction,
		CouponDiscount: q.CouponDiscount,
		PayPrice:       q.PayPrice,
		CouponID:       q.CouponID,
	}
}
