package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mixmall/api/internal/domain"
	pfirestore "github.com/mixmall/api/internal/platform/firestore"
	"github.com/mixmall/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists order aggregates in Firestore. Mutations issued
// inside a unit-of-work transaction join it through the context.
type OrderRepository struct {
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(orderCollection), nil
}

// Insert stores a new order, failing when the document id already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}

	col, err := r.collection(ctx)
	if err != nil {
		return pfirestore.WrapError("firestore: insert order", err)
	}
	if err := createDoc(ctx, col.Doc(order.ID), fromDomainOrder(order)); err != nil {
		return pfirestore.WrapError("firestore: insert order", err)
	}
	return nil
}

// Update overwrites the stored order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}

	col, err := r.collection(ctx)
	if err != nil {
		return pfirestore.WrapError("firestore: update order", err)
	}
	if err := setDoc(ctx, col.Doc(order.ID), fromDomainOrder(order)); err != nil {
		return pfirestore.WrapError("firestore: update order", err)
	}
	return nil
}

// FindByID loads one order by document id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}

	col, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("firestore: get order", err)
	}
	snap, err := getDoc(ctx, col.Doc(orderID))
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("firestore: get order", err)
	}
	return decodeOrderSnapshot(snap)
}

// FindByNumber loads one order by its buyer-facing number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order number is required")
	}

	col, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("firestore: find order by number", err)
	}
	iter := queryDocs(ctx, col.Query.Where("orderNumber", "==", orderNumber).Limit(1))
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, pfirestore.WrapError("firestore: find order by number",
			status.Error(codes.NotFound, "order not found"))
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("firestore: find order by number", err)
	}
	return decodeOrderSnapshot(snap)
}

// NumberExists reports whether an order already carries the given number.
func (r *OrderRepository) NumberExists(ctx context.Context, orderNumber string) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return false, errors.New("order number is required")
	}

	col, err := r.collection(ctx)
	if err != nil {
		return false, pfirestore.WrapError("firestore: order number lookup", err)
	}
	iter := queryDocs(ctx, col.Query.Where("orderNumber", "==", orderNumber).Limit(1).Select())
	defer iter.Stop()

	_, err = iter.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, pfirestore.WrapError("firestore: order number lookup", err)
	}
	return true, nil
}

// ListByUser returns the buyer's orders newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(filter.UserID) == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("user id is required")
	}

	col, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("firestore: list orders", err)
	}

	query := col.Query.Where("userId", "==", filter.UserID)
	if len(filter.Statuses) > 0 {
		statuses := make([]int, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, int(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if !filter.IncludeRemoved {
		query = query.Where("removed", "==", false)
	}
	return r.listPage(ctx, query, filter.Pagination, "firestore: list orders")
}

// ListAdmin returns back-office order listings newest first.
func (r *OrderRepository) ListAdmin(ctx context.Context, filter repositories.AdminOrderFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	col, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("firestore: list orders admin", err)
	}

	query := col.Query
	if number := strings.TrimSpace(filter.OrderNumber); number != "" {
		query = query.Where("orderNumber", "==", number)
	}
	if username := strings.TrimSpace(filter.Username); username != "" {
		query = query.Where("username", "==", username)
	}
	if consignee := strings.TrimSpace(filter.ConsigneeName); consignee != "" {
		query = query.Where("address.name", "==", consignee)
	}
	if filter.Status != nil {
		query = query.Where("status", "==", int(*filter.Status))
	}
	return r.listPage(ctx, query, filter.Pagination, "firestore: list orders admin")
}

func (r *OrderRepository) listPage(ctx context.Context, query firestore.Query, pager domain.Pagination, op string) (domain.CursorPage[domain.Order], error) {
	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	query, err := applyCreatedCursor(query, pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError(op, err)
	}
	iter := queryDocs(ctx, query.Limit(pageSize+1))
	defer iter.Stop()

	page := domain.CursorPage[domain.Order]{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError(op, err)
		}
		order, err := decodeOrderSnapshot(snap)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.Items = append(page.Items, order)
	}

	if len(page.Items) > pageSize {
		page.Items = page.Items[:pageSize]
		last := page.Items[len(page.Items)-1]
		token, err := encodeCreatedCursor(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError(op, err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

// CountsByUser tallies the buyer's open orders per storefront tab.
func (r *OrderRepository) CountsByUser(ctx context.Context, userID string) (domain.OrderCounts, error) {
	if r == nil || r.provider == nil {
		return domain.OrderCounts{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.OrderCounts{}, errors.New("user id is required")
	}

	col, err := r.collection(ctx)
	if err != nil {
		return domain.OrderCounts{}, pfirestore.WrapError("firestore: count orders", err)
	}

	counts := domain.OrderCounts{}
	buckets := []struct {
		statuses []int
		target   *int
	}{
		{[]int{int(domain.OrderStatusPendingPayment)}, &counts.PendingPayment},
		{[]int{int(domain.OrderStatusPendingShipment)}, &counts.PendingShipment},
		{[]int{int(domain.OrderStatusShipped)}, &counts.Shipped},
		{[]int{int(domain.OrderStatusPendingReview)}, &counts.PendingReview},
		{[]int{int(domain.OrderStatusReturnRequested), int(domain.OrderStatusReturning)}, &counts.Returning},
	}
	for _, bucket := range buckets {
		query := col.Query.Where("userId", "==", userID).Where("removed", "==", false)
		if len(bucket.statuses) == 1 {
			query = query.Where("status", "==", bucket.statuses[0])
		} else {
			query = query.Where("status", "in", bucket.statuses)
		}
		total, err := countDocs(ctx, query)
		if err != nil {
			return domain.OrderCounts{}, pfirestore.WrapError("firestore: count orders", err)
		}
		*bucket.target = total
	}
	return counts, nil
}

// MarkPaid applies the idempotent payment reconciliation update. Only orders
// still awaiting payment are touched; the return value reports whether this
// call performed the update.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID string, payType domain.PayType, gatewayRef string, paidAt time.Time, entry domain.TimelineEntry) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return false, errors.New("order id is required")
	}

	col, err := r.collection(ctx)
	if err != nil {
		return false, pfirestore.WrapError("firestore: mark order paid", err)
	}
	ref := col.Doc(orderID)

	apply := func(ctx context.Context) (bool, error) {
		snap, err := getDoc(ctx, ref)
		if err != nil {
			return false, pfirestore.WrapError("firestore: mark order paid", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return false, pfirestore.WrapError("firestore: mark order paid", err)
		}
		if doc.Status != int(domain.OrderStatusPendingPayment) || doc.PayStatus != domain.PayStatusUnpaid {
			return false, nil
		}

		paid := paidAt.UTC()
		doc.Status = int(domain.OrderStatusPendingShipment)
		doc.StatusTip = entry.Tip
		doc.PayStatus = domain.PayStatusPaid
		doc.PayType = string(payType)
		if ref := strings.TrimSpace(gatewayRef); ref != "" {
			doc.GatewayRef = ref
		}
		doc.PaidAt = &paid
		doc.UpdatedAt = time.Now().UTC()
		doc.Timeline = append([]timelineDocument{fromDomainTimelineEntry(entry)}, doc.Timeline...)
		if err := setDoc(ctx, ref, doc); err != nil {
			return false, pfirestore.WrapError("firestore: mark order paid", err)
		}
		return true, nil
	}

	if _, inTx := txFromContext(ctx); inTx {
		return apply(ctx)
	}

	updated := false
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var innerErr error
		updated, innerErr = apply(withTx(ctx, tx))
		return innerErr
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

// SetRemoved soft-hides a terminal order from the buyer's listings.
func (r *OrderRepository) SetRemoved(ctx context.Context, orderID string, removed bool) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return errors.New("order id is required")
	}

	col, err := r.collection(ctx)
	if err != nil {
		return pfirestore.WrapError("firestore: set order removed", err)
	}
	updates := []firestore.Update{
		{Path: "removed", Value: removed},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if err := updateDoc(ctx, col.Doc(orderID), updates); err != nil {
		return pfirestore.WrapError("firestore: set order removed", err)
	}
	return nil
}

const defaultPageSize = 20

func countDocs(ctx context.Context, query firestore.Query) (int, error) {
	iter := queryDocs(ctx, query.Select())
	defer iter.Stop()

	total := 0
	for {
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return total, nil
		}
		if err != nil {
			return 0, err
		}
		total++
	}
}

func decodeOrderSnapshot(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, pfirestore.WrapError("firestore: decode order", err)
	}
	order := toDomainOrder(doc)
	order.ID = snap.Ref.ID
	if order.CreatedAt.IsZero() {
		order.CreatedAt = snap.CreateTime
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = snap.UpdateTime
	}
	return order, nil
}

type orderDocument struct {
	OrderNumber    string              `firestore:"orderNumber"`
	UserID         string              `firestore:"userId"`
	Username       string              `firestore:"username"`
	Status         int                 `firestore:"status"`
	StatusTip      string              `firestore:"statusTip"`
	Lines          []orderLineDocument `firestore:"lines"`
	Price          priceDocument       `firestore:"price"`
	Address        addressDocument     `firestore:"address"`
	PayType        string              `firestore:"payType,omitempty"`
	PayStatus      int                 `firestore:"payStatus"`
	GatewayRef     string              `firestore:"gatewayRef,omitempty"`
	Commission     *commissionDocument `firestore:"commission,omitempty"`
	Return         *returnDocument     `firestore:"return,omitempty"`
	Rating         *ratingDocument     `firestore:"rating,omitempty"`
	ShipperCode    string              `firestore:"shipperCode,omitempty"`
	TrackingNumber string              `firestore:"trackingNumber,omitempty"`
	Timeline       []timelineDocument  `firestore:"timeline"`
	Note           string              `firestore:"note,omitempty"`
	Removed        bool                `firestore:"removed"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
	PaidAt         *time.Time          `firestore:"paidAt,omitempty"`
	ShippedAt      *time.Time          `firestore:"shippedAt,omitempty"`
	CompletedAt    *time.Time          `firestore:"completedAt,omitempty"`
}

type orderLineDocument struct {
	ProductID string `firestore:"productId"`
	SKUID     string `firestore:"skuId"`
	Title     string `firestore:"title"`
	Image     string `firestore:"image,omitempty"`
	SpecText  string `firestore:"specText,omitempty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
}

type priceDocument struct {
	GoodsPrice     int64  `firestore:"goodsPrice"`
	FullReduction  int64  `firestore:"fullReduction"`
	CouponDiscount int64  `firestore:"couponDiscount"`
	PayPrice       int64  `firestore:"payPrice"`
	CouponID       string `firestore:"couponId,omitempty"`
}

type addressDocument struct {
	Name     string `firestore:"name"`
	Mobile   string `firestore:"mobile"`
	Province string `firestore:"province"`
	City     string `firestore:"city"`
	District string `firestore:"district"`
	Detail   string `firestore:"detail"`
}

type commissionDocument struct {
	Level1UserID string     `firestore:"level1UserId,omitempty"`
	Level1Amount int64      `firestore:"level1Amount"`
	Level2UserID string     `firestore:"level2UserId,omitempty"`
	Level2Amount int64      `firestore:"level2Amount"`
	Paid         bool       `firestore:"paid"`
	PaidAt       *time.Time `firestore:"paidAt,omitempty"`
}

type returnAddressDocument struct {
	ID      string `firestore:"id"`
	Name    string `firestore:"name"`
	Mobile  string `firestore:"mobile"`
	Address string `firestore:"address"`
}

type returnDocument struct {
	Reason         string                 `firestore:"reason"`
	Address        *returnAddressDocument `firestore:"address,omitempty"`
	ShipperCode    string                 `firestore:"shipperCode,omitempty"`
	TrackingNumber string                 `firestore:"trackingNumber,omitempty"`
	RefundNumber   string                 `firestore:"refundNumber,omitempty"`
}

type ratingDocument struct {
	Stars   int       `firestore:"stars"`
	Content string    `firestore:"content,omitempty"`
	RatedAt time.Time `firestore:"ratedAt"`
}

type timelineDocument struct {
	Time  time.Time `firestore:"time"`
	Title string    `firestore:"title"`
	Tip   string    `firestore:"tip,omitempty"`
	Type  string    `firestore:"type,omitempty"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:    strings.TrimSpace(order.OrderNumber),
		UserID:         order.UserID,
		Username:       order.Username,
		Status:         int(order.Status),
		StatusTip:      order.StatusTip,
		Price:          priceDocument(order.Price),
		Address:        addressDocument(order.Address),
		PayType:        string(order.PayType),
		PayStatus:      order.PayStatus,
		GatewayRef:     order.GatewayRef,
		ShipperCode:    order.ShipperCode,
		TrackingNumber: order.TrackingNumber,
		Note:           strings.TrimSpace(order.Note),
		Removed:        order.Removed,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
		PaidAt:         order.PaidAt,
		ShippedAt:      order.ShippedAt,
		CompletedAt:    order.CompletedAt,
	}
	for _, line := range order.Lines {
		doc.Lines = append(doc.Lines, orderLineDocument(line))
	}
	for _, entry := range order.Timeline {
		doc.Timeline = append(doc.Timeline, fromDomainTimelineEntry(entry))
	}
	if order.Commission != nil {
		commission := commissionDocument(*order.Commission)
		doc.Commission = &commission
	}
	if order.Return != nil {
		ret := returnDocument{
			Reason:         order.Return.Reason,
			ShipperCode:    order.Return.ShipperCode,
			TrackingNumber: order.Return.TrackingNumber,
			RefundNumber:   order.Return.RefundNumber,
		}
		if order.Return.Address != nil {
			ret.Address = &returnAddressDocument{
				ID:      order.Return.Address.ID,
				Name:    order.Return.Address.Name,
				Mobile:  order.Return.Address.Mobile,
				Address: order.Return.Address.Address,
			}
		}
		doc.Return = &ret
	}
	if order.Rating != nil {
		rating := ratingDocument(*order.Rating)
		doc.Rating = &rating
	}
	return doc
}

func toDomainOrder(doc orderDocument) domain.Order {
	order := domain.Order{
		OrderNumber:    doc.OrderNumber,
		UserID:         doc.UserID,
		Username:       doc.Username,
		Status:         domain.OrderStatus(doc.Status),
		StatusTip:      doc.StatusTip,
		Price:          domain.PriceData(doc.Price),
		Address:        domain.Address(doc.Address),
		PayType:        domain.PayType(doc.PayType),
		PayStatus:      doc.PayStatus,
		GatewayRef:     doc.GatewayRef,
		ShipperCode:    doc.ShipperCode,
		TrackingNumber: doc.TrackingNumber,
		Note:           doc.Note,
		Removed:        doc.Removed,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		PaidAt:         doc.PaidAt,
		ShippedAt:      doc.ShippedAt,
		CompletedAt:    doc.CompletedAt,
	}
	for _, line := range doc.Lines {
		order.Lines = append(order.Lines, domain.OrderLine(line))
	}
	for _, entry := range doc.Timeline {
		order.Timeline = append(order.Timeline, domain.TimelineEntry(entry))
	}
	if doc.Commission != nil {
		commission := domain.Commission(*doc.Commission)
		order.Commission = &commission
	}
	if doc.Return != nil {
		ret := domain.ReturnInfo{
			Reason:         doc.Return.Reason,
			ShipperCode:    doc.Return.ShipperCode,
			TrackingNumber: doc.Return.TrackingNumber,
			RefundNumber:   doc.Return.RefundNumber,
		}
		if doc.Return.Address != nil {
			ret.Address = &domain.ReturnAddress{
				ID:      doc.Return.Address.ID,
				Name:    doc.Return.Address.Name,
				Mobile:  doc.Return.Address.Mobile,
				Address: doc.Return.Address.Address,
			}
		}
		order.Return = &ret
	}
	if doc.Rating != nil {
		rating := domain.OrderRating(*doc.Rating)
		order.Rating = &rating
	}
	return order
}

func fromDomainTimelineEntry(entry domain.TimelineEntry) timelineDocument {
	return timelineDocument(entry)
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
