package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	domain "github.com/mixmall/api/internal/domain"
	"github.com/mixmall/api/internal/platform/auth"
	"github.com/mixmall/api/internal/platform/httpx"
	"github.com/mixmall/api/internal/platform/storage"
	"github.com/mixmall/api/internal/repositories"
	"github.com/mixmall/api/internal/services"
)

// AdminOrderHandlers exposes the back-office order endpoints. All routes
// require the staff or admin role.
type AdminOrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	exports   services.ExportService
	system    services.SystemService
	audit     services.AuditLogService
	logistics services.LogisticsService
}

// NewAdminOrderHandlers constructs a new AdminOrderHandlers instance.
func NewAdminOrderHandlers(
	authn *auth.Authenticator,
	orders services.OrderService,
	exports services.ExportService,
	system services.SystemService,
	audit services.AuditLogService,
	logistics services.LogisticsService,
) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:     authn,
		orders:    orders,
		exports:   exports,
		system:    system,
		audit:     audit,
		logistics: logistics,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
	r.Post("/orders/export", h.exportOrders)
	r.Post("/orders/ship-batch", h.shipBatch)
	r.Post("/orders/{orderID}/ship", h.shipOrder)
	r.Post("/orders/{orderID}/return/reject", h.rejectReturn)
	r.Post("/orders/{orderID}/return/approve", h.approveReturn)
	r.Post("/orders/{orderID}/refund/reject", h.rejectRefund)
	r.Post("/orders/{orderID}/refund/approve", h.approveRefund)
	r.Get("/express", h.listExpress)
	r.Get("/system/health", h.systemHealth)
	r.Get("/audit-logs", h.listAuditLogs)
}

func (h *AdminOrderHandlers) listExpress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	companies, err := h.logistics.ListCompanies(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]expressCompanyPayload, 0, len(companies))
	for _, company := range companies {
		items = append(items, expressCompanyPayload{
			ID:    company.ID,
			Code:  company.Code,
			Name:  company.Name,
			Logo:  company.Logo,
			Phone: company.Phone,
		})
	}
	writeJSONResponse(w, http.StatusOK, expressCompanyListResponse{Items: items})
}

func (h *AdminOrderHandlers) recordAudit(r *http.Request, identity *auth.Identity, action, targetRef string, metadata map[string]any) {
	if h.audit == nil || identity == nil {
		return
	}
	h.audit.Record(r.Context(), services.AuditLogRecord{
		Actor:      identity.UID,
		ActorType:  "staff",
		Action:     action,
		TargetRef:  targetRef,
		RequestID:  middleware.GetReqID(r.Context()),
		Metadata:   metadata,
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		OccurredAt: time.Now().UTC(),
	})
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	filter, err := parseAdminOrderFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListAdmin(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}

	writeJSONResponse(w, http.StatusOK, adminOrderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type adminOrderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type shipOrderRequest struct {
	ShipperCode    string `json:"shipper_code"`
	ShipperName    string `json:"shipper_name"`
	TrackingNumber string `json:"tracking_number"`
}

func (h *AdminOrderHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	var req shipOrderRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.Ship(ctx, services.ShipOrderCommand{
		OrderID:        orderID,
		ShipperCode:    strings.TrimSpace(req.ShipperCode),
		ShipperName:    strings.TrimSpace(req.ShipperName),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		ActorID:        identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	h.recordAudit(r, identity, "order.ship", order.ID, map[string]any{
		"shipperCode":    order.ShipperCode,
		"trackingNumber": order.TrackingNumber,
	})
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type shipBatchRequest struct {
	OrderNumber    string `json:"order_number"`
	ShipperCode    string `json:"shipper_code"`
	TrackingNumber string `json:"tracking_number"`
}

func (h *AdminOrderHandlers) shipBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req shipBatchRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.BatchShip(ctx, services.BatchShipCommand{
		OrderNumber:    strings.TrimSpace(req.OrderNumber),
		ShipperCode:    strings.TrimSpace(req.ShipperCode),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		ActorID:        identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	h.recordAudit(r, identity, "order.ship_batch", order.ID, map[string]any{
		"orderNumber":    order.OrderNumber,
		"trackingNumber": order.TrackingNumber,
	})
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) rejectReturn(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "order.return.reject", h.orders.RejectReturn)
}

func (h *AdminOrderHandlers) approveReturn(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "order.return.approve", h.orders.ApproveReturn)
}

func (h *AdminOrderHandlers) rejectRefund(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "order.refund.reject", h.orders.RejectRefund)
}

func (h *AdminOrderHandlers) approveRefund(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "order.refund.approve", h.orders.ApproveRefund)
}

func (h *AdminOrderHandlers) decide(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	fn func(ctx context.Context, cmd services.ReturnDecisionCommand) (services.Order, error),
) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	order, err := fn(ctx, services.ReturnDecisionCommand{OrderID: orderID, ActorID: identity.UID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	h.recordAudit(r, identity, action, order.ID, map[string]any{
		"status": int(order.Status),
	})
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type exportOrdersRequest struct {
	OrderNumber   string `json:"order_number"`
	Username      string `json:"username"`
	ConsigneeName string `json:"consignee_name"`
	Status        *int   `json:"status"`
}

type exportOrdersResponse struct {
	ObjectName string `json:"object_name"`
	URL        string `json:"url"`
	ExpiresAt  string `json:"expires_at"`
	Rows       int    `json:"rows"`
}

func (h *AdminOrderHandlers) exportOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	// Exports hand out signed bucket URLs; gate them on role even when the
	// router was assembled without the auth middleware.
	if err := storage.AuthorizeDownload(identity, "", false); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "staff role required", http.StatusForbidden))
		return
	}

	var req exportOrdersRequest
	if err := decodeJSONBody(r, &req, true); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.ExportOrdersCommand{
		OrderNumber:   strings.TrimSpace(req.OrderNumber),
		Username:      strings.TrimSpace(req.Username),
		ConsigneeName: strings.TrimSpace(req.ConsigneeName),
		ActorID:       identity.UID,
	}
	if req.Status != nil {
		status := domain.OrderStatus(*req.Status)
		if status.Label() == "unknown" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a known order status code", http.StatusBadRequest))
			return
		}
		cmd.Status = &status
	}

	export, err := h.exports.ExportOrders(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	h.recordAudit(r, identity, "order.export", export.ObjectName, map[string]any{
		"rows": export.Rows,
	})
	writeJSONResponse(w, http.StatusOK, exportOrdersResponse{
		ObjectName: export.ObjectName,
		URL:        export.URL,
		ExpiresAt:  formatTime(export.ExpiresAt),
		Rows:       export.Rows,
	})
}

type systemHealthResponse struct {
	Status      string                        `json:"status"`
	Checks      map[string]healthCheckPayload `json:"checks"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commit_sha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	UptimeSec   int64                         `json:"uptime_sec"`
	GeneratedAt string                        `json:"generated_at"`
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	CheckedAt string `json:"checked_at"`
}

func (h *AdminOrderHandlers) systemHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	checks := make(map[string]healthCheckPayload, len(report.Checks))
	for name, check := range report.Checks {
		checks[name] = healthCheckPayload{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
			CheckedAt: formatTime(check.CheckedAt),
		}
	}

	writeJSONResponse(w, http.StatusOK, systemHealthResponse{
		Status:      report.Status,
		Checks:      checks,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		UptimeSec:   int64(report.Uptime.Seconds()),
		GeneratedAt: formatTime(report.GeneratedAt),
	})
}

type auditLogPayload struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	ActorType string         `json:"actor_type,omitempty"`
	Action    string         `json:"action"`
	TargetRef string         `json:"target_ref,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Diff      map[string]any `json:"diff,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	CreatedAt string         `json:"created_at"`
}

type auditLogListResponse struct {
	Items         []auditLogPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

func (h *AdminOrderHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.system.ListAuditLogs(ctx, services.AuditLogFilter{
		TargetRef: strings.TrimSpace(query.Get("target_ref")),
		Actor:     strings.TrimSpace(query.Get("actor")),
		Action:    strings.TrimSpace(query.Get("action")),
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]auditLogPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, auditLogPayload{
			ID:        entry.ID,
			Actor:     entry.Actor,
			ActorType: entry.ActorType,
			Action:    entry.Action,
			TargetRef: entry.TargetRef,
			Metadata:  entry.Metadata,
			Diff:      entry.Diff,
			Severity:  entry.Severity,
			RequestID: entry.RequestID,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}

	writeJSONResponse(w, http.StatusOK, auditLogListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func parseAdminOrderFilter(r *http.Request) (repositories.AdminOrderFilter, error) {
	query := r.URL.Query()

	pageSize, err := parsePageSize(query.Get("page_size"))
	if err != nil {
		return repositories.AdminOrderFilter{}, errors.New("page_size must be an integer")
	}

	filter := repositories.AdminOrderFilter{
		OrderNumber:   strings.TrimSpace(query.Get("order_number")),
		Username:      strings.TrimSpace(query.Get("username")),
		ConsigneeName: strings.TrimSpace(query.Get("consignee")),
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return repositories.AdminOrderFilter{}, errors.New("status must be a known order status code")
		}
		status := domain.OrderStatus(code)
		if status.Label() == "unknown" {
			return repositories.AdminOrderFilter{}, errors.New("status must be a known order status code")
		}
		filter.Status = &status
	}

	return filter, nil
}
