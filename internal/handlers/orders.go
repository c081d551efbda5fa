package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mixmall/api/internal/domain"
	"github.com/mixmall/api/internal/platform/auth"
	"github.com/mixmall/api/internal/platform/httpx"
	"github.com/mixmall/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes the buyer-facing order lifecycle endpoints.
type OrderHandlers struct {
	authn      *auth.Authenticator
	pricing    services.PricingEngine
	orders     services.OrderService
	payments   services.PaymentService
	logistics  services.LogisticsService
	payLimiter rateLimiter
}

// OrderHandlersOption customises the order handlers before construction.
type OrderHandlersOption func(*OrderHandlers)

// WithPayRateLimit throttles payment attempts per user to slow down
// pay-password guessing.
func WithPayRateLimit(limit int, window time.Duration) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.payLimiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(
	authn *auth.Authenticator,
	pricing services.PricingEngine,
	orders services.OrderService,
	payments services.PaymentService,
	logistics services.LogisticsService,
	opts ...OrderHandlersOption,
) *OrderHandlers {
	h := &OrderHandlers{
		authn:     authn,
		pricing:   pricing,
		orders:    orders,
		payments:  payments,
		logistics: logistics,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/quotes", h.quote)
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/counts", h.countOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Delete("/{orderID}", h.removeOrder)
	r.Post("/{orderID}/pay", h.payOrder)
	r.Get("/{orderID}/pay-status", h.payStatus)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Post("/{orderID}/confirm", h.confirmReceipt)
	r.Post("/{orderID}/rate", h.rateOrder)
	r.Post("/{orderID}/return", h.requestReturn)
	r.Post("/{orderID}/return-shipment", h.submitReturnShipment)
	r.Post("/{orderID}/refund", h.requestRefund)
	r.Get("/{orderID}/logistics", h.trackLogistics)
}

type quoteRequest struct {
	Lines    []orderLineRequest `json:"lines"`
	CouponID string             `json:"coupon_id"`
}

type orderLineRequest struct {
	SKUID    string `json:"sku_id"`
	Quantity int    `json:"quantity"`
}

type quoteResponse struct {
	GoodsPrice     int64  `json:"goods_price"`
	FullReduction  int64  `json:"full_reduction"`
	CouponDiscount int64  `json:"coupon_discount"`
	PayPrice       int64  `json:"pay_price"`
	CouponID       string `json:"coupon_id,omitempty"`
}

func (h *OrderHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req quoteRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	lines := make([]services.QuoteLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.QuoteLine{
			SKUID:    strings.TrimSpace(line.SKUID),
			Quantity: line.Quantity,
		})
	}

	quote, err := h.pricing.Quote(ctx, services.QuoteCommand{
		UserID:   identity.UID,
		Lines:    lines,
		CouponID: strings.TrimSpace(req.CouponID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, quoteResponse{
		GoodsPrice:     quote.GoodsPrice,
		FullReduction:  quote.FullReduction,
		CouponDiscount: quote.CouponDiscount,
		PayPrice:       quote.PayPrice,
		CouponID:       quote.CouponID,
	})
}

type createOrderRequest struct {
	Mode     string             `json:"mode"`
	Lines    []orderLineRequest `json:"lines"`
	Address  addressPayload     `json:"address"`
	CouponID string             `json:"coupon_id"`
	Note     string             `json:"note"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	mode := services.CreateModeCart
	switch strings.TrimSpace(req.Mode) {
	case "", string(services.CreateModeCart):
	case string(services.CreateModeBuyNow):
		mode = services.CreateModeBuyNow
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "mode must be cart or buy_now", http.StatusBadRequest))
		return
	}

	lines := make([]services.OrderLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.OrderLineInput{
			SKUID:    strings.TrimSpace(line.SKUID),
			Quantity: line.Quantity,
		})
	}

	order, err := h.orders.Create(ctx, services.CreateOrderCommand{
		UserID:   identity.UID,
		Username: strings.TrimSpace(identity.Email),
		Mode:     mode,
		Lines:    lines,
		Address:  req.Address.toDomain(),
		CouponID: strings.TrimSpace(req.CouponID),
		Note:     req.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	statuses, err := parseStatusValues(query["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a known order status code", http.StatusBadRequest))
		return
	}

	pageSize, err := parsePageSize(query.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListQuery{
		UserID:   identity.UID,
		Statuses: statuses,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

type orderCountsResponse struct {
	PendingPayment  int `json:"pending_payment"`
	PendingShipment int `json:"pending_shipment"`
	Shipped         int `json:"shipped"`
	PendingReview   int `json:"pending_review"`
	Returning       int `json:"returning"`
}

func (h *OrderHandlers) countOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	counts, err := h.orders.CountOrders(ctx, identity.UID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderCountsResponse{
		PendingPayment:  counts.PendingPayment,
		PendingShipment: counts.PendingShipment,
		Shipped:         counts.Shipped,
		PendingReview:   counts.PendingReview,
		Returning:       counts.Returning,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, identity.UID, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) removeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	if err := h.orders.Remove(ctx, services.RemoveOrderCommand{UserID: identity.UID, OrderID: orderID}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type payOrderRequest struct {
	PayType     string `json:"pay_type"`
	PayPassword string `json:"pay_password"`
}

type payOrderResponse struct {
	Paid    bool                   `json:"paid"`
	Order   *orderPayload          `json:"order,omitempty"`
	Handoff *paymentHandoffPayload `json:"handoff,omitempty"`
}

type paymentHandoffPayload struct {
	Provider     string `json:"provider"`
	SessionID    string `json:"session_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

func (h *OrderHandlers) payOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	if h.payLimiter != nil && !h.payLimiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many payment attempts, slow down", http.StatusTooManyRequests))
		return
	}

	var req payOrderRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.payments.Pay(ctx, services.PayOrderCommand{
		UserID:      identity.UID,
		OrderID:     orderID,
		PayType:     domain.PayType(strings.TrimSpace(req.PayType)),
		PayPassword: req.PayPassword,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := payOrderResponse{Paid: result.Paid}
	if result.Paid {
		payload := buildOrderPayload(result.Order)
		response.Order = &payload
	}
	if result.Handoff != nil {
		response.Handoff = &paymentHandoffPayload{
			Provider:     result.Handoff.Provider,
			SessionID:    result.Handoff.SessionID,
			ClientSecret: result.Handoff.ClientSecret,
			RedirectURL:  result.Handoff.RedirectURL,
			ExpiresAt:    formatTime(result.Handoff.ExpiresAt),
		}
	}
	writeJSONResponse(w, http.StatusOK, response)
}

type payStatusResponse struct {
	Paid   bool `json:"paid"`
	Status int  `json:"status"`
}

func (h *OrderHandlers) payStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	result, err := h.payments.QueryPayStatus(ctx, services.QueryPayStatusCommand{
		UserID:  identity.UID,
		OrderID: orderID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, payStatusResponse{
		Paid:   result.Paid,
		Status: int(result.Status),
	})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{UserID: identity.UID, OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) confirmReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.ConfirmReceipt(ctx, services.ConfirmReceiptCommand{UserID: identity.UID, OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type rateOrderRequest struct {
	Stars   int    `json:"stars"`
	Content string `json:"content"`
}

func (h *OrderHandlers) rateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	var req rateOrderRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.Rate(ctx, services.RateOrderCommand{
		UserID:  identity.UID,
		OrderID: orderID,
		Stars:   req.Stars,
		Content: req.Content,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type requestReturnRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	var req requestReturnRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.RequestReturn(ctx, services.RequestReturnCommand{
		UserID:  identity.UID,
		OrderID: orderID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type returnShipmentRequest struct {
	ShipperCode    string `json:"shipper_code"`
	TrackingNumber string `json:"tracking_number"`
}

func (h *OrderHandlers) submitReturnShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	var req returnShipmentRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.SubmitReturnShipment(ctx, services.ReturnShipmentCommand{
		UserID:         identity.UID,
		OrderID:        orderID,
		ShipperCode:    strings.TrimSpace(req.ShipperCode),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requestRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.RequestRefund(ctx, services.RequestRefundCommand{UserID: identity.UID, OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) trackLogistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	info, err := h.logistics.Track(ctx, services.TrackCommand{
		UserID:  identity.UID,
		OrderID: orderID,
		Phone:   strings.TrimSpace(r.URL.Query().Get("phone")),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildLogisticsResponse(info))
}
