package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/mixmall/api/internal/domain"
	"github.com/mixmall/api/internal/platform/httpx"
	"github.com/mixmall/api/internal/services"
)

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID             string             `json:"id"`
	OrderNumber    string             `json:"order_number"`
	Status         int                `json:"status"`
	StatusLabel    string             `json:"status_label"`
	StatusTip      string             `json:"status_tip,omitempty"`
	Lines          []orderLinePayload `json:"lines"`
	PayPrice       int64              `json:"pay_price"`
	ShipperCode    string             `json:"shipper_code,omitempty"`
	TrackingNumber string             `json:"tracking_number,omitempty"`
	CreatedAt      string             `json:"created_at"`
}

type orderPayload struct {
	ID             string               `json:"id"`
	OrderNumber    string               `json:"order_number"`
	Status         int                  `json:"status"`
	StatusLabel    string               `json:"status_label"`
	StatusTip      string               `json:"status_tip,omitempty"`
	Lines          []orderLinePayload   `json:"lines"`
	Price          pricePayload         `json:"price"`
	Address        addressPayload       `json:"address"`
	PayType        string               `json:"pay_type,omitempty"`
	PayStatus      int                  `json:"pay_status"`
	Rating         *ratingPayload       `json:"rating,omitempty"`
	Return         *returnInfoPayload   `json:"return,omitempty"`
	ShipperCode    string               `json:"shipper_code,omitempty"`
	TrackingNumber string               `json:"tracking_number,omitempty"`
	Timeline       []timelineEntryBlock `json:"timeline,omitempty"`
	Note           string               `json:"note,omitempty"`
	CreatedAt      string               `json:"created_at"`
	PaidAt         string               `json:"paid_at,omitempty"`
	ShippedAt      string               `json:"shipped_at,omitempty"`
	CompletedAt    string               `json:"completed_at,omitempty"`
}

type orderLinePayload struct {
	ProductID string `json:"product_id"`
	SKUID     string `json:"sku_id"`
	Title     string `json:"title"`
	Image     string `json:"image,omitempty"`
	SpecText  string `json:"spec_text,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

type pricePayload struct {
	GoodsPrice     int64  `json:"goods_price"`
	FullReduction  int64  `json:"full_reduction"`
	CouponDiscount int64  `json:"coupon_discount"`
	PayPrice       int64  `json:"pay_price"`
	CouponID       string `json:"coupon_id,omitempty"`
}

type addressPayload struct {
	Name     string `json:"name"`
	Mobile   string `json:"mobile"`
	Province string `json:"province"`
	City     string `json:"city"`
	District string `json:"district"`
	Detail   string `json:"detail"`
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		Name:     strings.TrimSpace(p.Name),
		Mobile:   strings.TrimSpace(p.Mobile),
		Province: strings.TrimSpace(p.Province),
		City:     strings.TrimSpace(p.City),
		District: strings.TrimSpace(p.District),
		Detail:   strings.TrimSpace(p.Detail),
	}
}

type ratingPayload struct {
	Stars   int    `json:"stars"`
	Content string `json:"content,omitempty"`
	RatedAt string `json:"rated_at"`
}

type returnInfoPayload struct {
	Reason         string                `json:"reason,omitempty"`
	Address        *returnAddressPayload `json:"address,omitempty"`
	ShipperCode    string                `json:"shipper_code,omitempty"`
	TrackingNumber string                `json:"tracking_number,omitempty"`
	RefundNumber   string                `json:"refund_number,omitempty"`
}

type returnAddressPayload struct {
	Name    string `json:"name"`
	Mobile  string `json:"mobile"`
	Address string `json:"address"`
}

type timelineEntryBlock struct {
	Time  string `json:"time"`
	Title string `json:"title"`
	Tip   string `json:"tip,omitempty"`
	Type  string `json:"type,omitempty"`
}

type logisticsResponse struct {
	Company logisticsCompanyPayload `json:"company"`
	State   string                  `json:"state,omitempty"`
	Traces  []logisticsTracePayload `json:"traces"`
}

type logisticsCompanyPayload struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Logo  string `json:"logo,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type logisticsTracePayload struct {
	Time    string `json:"time"`
	Context string `json:"context"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         int(order.Status),
		StatusLabel:    order.Status.Label(),
		StatusTip:      order.StatusTip,
		Lines:          buildOrderLines(order.Lines),
		Price:          buildPricePayload(order.Price),
		Address:        buildAddressPayload(order.Address),
		PayType:        string(order.PayType),
		PayStatus:      order.PayStatus,
		ShipperCode:    order.ShipperCode,
		TrackingNumber: order.TrackingNumber,
		Note:           order.Note,
		CreatedAt:      formatTime(order.CreatedAt),
		PaidAt:         formatTimePtr(order.PaidAt),
		ShippedAt:      formatTimePtr(order.ShippedAt),
		CompletedAt:    formatTimePtr(order.CompletedAt),
	}

	if order.Rating != nil {
		payload.Rating = &ratingPayload{
			Stars:   order.Rating.Stars,
			Content: order.Rating.Content,
			RatedAt: formatTime(order.Rating.RatedAt),
		}
	}

	if order.Return != nil {
		info := &returnInfoPayload{
			Reason:         order.Return.Reason,
			ShipperCode:    order.Return.ShipperCode,
			TrackingNumber: order.Return.TrackingNumber,
			RefundNumber:   order.Return.RefundNumber,
		}
		if order.Return.Address != nil {
			info.Address = &returnAddressPayload{
				Name:    order.Return.Address.Name,
				Mobile:  order.Return.Address.Mobile,
				Address: order.Return.Address.Address,
			}
		}
		payload.Return = info
	}

	if len(order.Timeline) > 0 {
		timeline := make([]timelineEntryBlock, 0, len(order.Timeline))
		for _, entry := range order.Timeline {
			timeline = append(timeline, timelineEntryBlock{
				Time:  formatTime(entry.Time),
				Title: entry.Title,
				Tip:   entry.Tip,
				Type:  entry.Type,
			})
		}
		payload.Timeline = timeline
	}

	return payload
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         int(order.Status),
		StatusLabel:    order.Status.Label(),
		StatusTip:      order.StatusTip,
		Lines:          buildOrderLines(order.Lines),
		PayPrice:       order.Price.PayPrice,
		ShipperCode:    order.ShipperCode,
		TrackingNumber: order.TrackingNumber,
		CreatedAt:      formatTime(order.CreatedAt),
	}
}

func buildOrderLines(lines []domain.OrderLine) []orderLinePayload {
	out := make([]orderLinePayload, 0, len(lines))
	for _, line := range lines {
		out = append(out, orderLinePayload{
			ProductID: line.ProductID,
			SKUID:     line.SKUID,
			Title:     line.Title,
			Image:     line.Image,
			SpecText:  line.SpecText,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}
	return out
}

func buildPricePayload(price domain.PriceData) pricePayload {
	return pricePayload{
		GoodsPrice:     price.GoodsPrice,
		FullReduction:  price.FullReduction,
		CouponDiscount: price.CouponDiscount,
		PayPrice:       price.PayPrice,
		CouponID:       price.CouponID,
	}
}

func buildAddressPayload(address domain.Address) addressPayload {
	return addressPayload{
		Name:     address.Name,
		Mobile:   address.Mobile,
		Province: address.Province,
		City:     address.City,
		District: address.District,
		Detail:   address.Detail,
	}
}

func buildOrderListResponse(page domain.CursorPage[services.Order]) orderListResponse {
	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	return orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

func buildLogisticsResponse(info services.LogisticsInfo) logisticsResponse {
	traces := make([]logisticsTracePayload, 0, len(info.Traces))
	for _, trace := range info.Traces {
		traces = append(traces, logisticsTracePayload{
			Time:    formatTime(trace.Time),
			Context: trace.Context,
		})
	}
	return logisticsResponse{
		Company: logisticsCompanyPayload{
			Code:  info.Company.Code,
			Name:  info.Company.Name,
			Logo:  info.Company.Logo,
			Phone: info.Company.Phone,
		},
		State:  info.State,
		Traces: traces,
	}
}

var errUnknownStatus = errors.New("unknown order status")

// parseStatusValues parses repeated numeric status filters. Unknown codes are
// rejected so typos do not silently return an empty list.
func parseStatusValues(values []string) ([]domain.OrderStatus, error) {
	if len(values) == 0 {
		return nil, nil
	}
	statuses := make([]domain.OrderStatus, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			code, err := strconv.Atoi(part)
			if err != nil {
				return nil, errUnknownStatus
			}
			status := domain.OrderStatus(code)
			if status.Label() == "unknown" {
				return nil, errUnknownStatus
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func parsePageSize(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultOrderPageSize, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	switch {
	case size <= 0:
		return defaultOrderPageSize, nil
	case size > maxOrderPageSize:
		return maxOrderPageSize, nil
	}
	return size, nil
}

func requireOrderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}
