package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mixmall/api/internal/domain"
	"github.com/mixmall/api/internal/platform/auth"
	"github.com/mixmall/api/internal/repositories"
	"github.com/mixmall/api/internal/services"
)

type stubExportService struct {
	exportFn func(context.Context, services.ExportOrdersCommand) (services.OrderExport, error)
}

func (s *stubExportService) ExportOrders(ctx context.Context, cmd services.ExportOrdersCommand) (services.OrderExport, error) {
	if s.exportFn != nil {
		return s.exportFn(ctx, cmd)
	}
	return services.OrderExport{}, errors.New("not implemented")
}

type stubAdminSystemService struct {
	report services.SystemHealthReport
	logsFn func(context.Context, services.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

func (s *stubAdminSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, nil
}

func (s *stubAdminSystemService) ListAuditLogs(ctx context.Context, filter services.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if s.logsFn != nil {
		return s.logsFn(ctx, filter)
	}
	return domain.CursorPage[domain.AuditLogEntry]{}, nil
}

type recordingAuditService struct {
	records []services.AuditLogRecord
}

func (s *recordingAuditService) Record(_ context.Context, record services.AuditLogRecord) {
	s.records = append(s.records, record)
}

func (s *recordingAuditService) List(context.Context, services.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	return domain.CursorPage[domain.AuditLogEntry]{}, nil
}

func staffRequest(method, target string, body []byte, uid string) *http.Request {
	req := authedRequest(method, target, body, "")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleStaff}}))
	return req
}

func newAdminRouter(orders services.OrderService, exports services.ExportService, system services.SystemService, audit services.AuditLogService) chi.Router {
	handler := NewAdminOrderHandlers(nil, orders, exports, system, audit, &stubLogisticsService{})
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func TestAdminListOrdersParsesFilter(t *testing.T) {
	var captured repositories.AdminOrderFilter
	orders := &stubOrderService{
		listAdminFn: func(_ context.Context, filter repositories.AdminOrderFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{Items: []services.Order{handlerTestOrder()}}, nil
		},
	}

	router := newAdminRouter(orders, &stubExportService{}, &stubAdminSystemService{}, &recordingAuditService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/admin/orders?order_number=2025&consignee=Ayaka&status=1&page_size=10", nil, "staff-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderNumber != "2025" || captured.ConsigneeName != "Ayaka" {
		t.Fatalf("unexpected filter %+v", captured)
	}
	if captured.Status == nil || *captured.Status != domain.OrderStatusPendingShipment {
		t.Fatalf("expected pending shipment filter, got %+v", captured.Status)
	}
	if captured.Pagination.PageSize != 10 {
		t.Fatalf("expected page size 10, got %d", captured.Pagination.PageSize)
	}
}

func TestAdminListOrdersRejectsUnknownStatus(t *testing.T) {
	router := newAdminRouter(&stubOrderService{}, &stubExportService{}, &stubAdminSystemService{}, &recordingAuditService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/admin/orders?status=7", nil, "staff-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminShipOrderRecordsAudit(t *testing.T) {
	var captured services.ShipOrderCommand
	shipped := handlerTestOrder()
	shipped.Status = domain.OrderStatusShipped
	shipped.ShipperCode = "sf"
	shipped.TrackingNumber = "SF12345"

	orders := &stubOrderService{
		shipFn: func(_ context.Context, cmd services.ShipOrderCommand) (services.Order, error) {
			captured = cmd
			return shipped, nil
		},
	}
	audit := &recordingAuditService{}
	router := newAdminRouter(orders, &stubExportService{}, &stubAdminSystemService{}, audit)

	body := []byte(`{"shipper_code":"sf","shipper_name":"SF Express","tracking_number":"SF12345"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/admin/orders/order-1/ship", body, "staff-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "order-1" || captured.ShipperCode != "sf" || captured.ShipperName != "SF Express" || captured.ActorID != "staff-1" {
		t.Fatalf("unexpected ship command %+v", captured)
	}
	if len(audit.records) != 1 || audit.records[0].Action != "order.ship" || audit.records[0].TargetRef != "order-1" {
		t.Fatalf("expected a ship audit record, got %+v", audit.records)
	}
}

func TestAdminShipBatch(t *testing.T) {
	var captured services.BatchShipCommand
	orders := &stubOrderService{
		batchShipFn: func(_ context.Context, cmd services.BatchShipCommand) (services.Order, error) {
			captured = cmd
			shipped := handlerTestOrder()
			shipped.Status = domain.OrderStatusShipped
			return shipped, nil
		},
	}

	router := newAdminRouter(orders, &stubExportService{}, &stubAdminSystemService{}, &recordingAuditService{})

	body := []byte(`{"order_number":"20250312000001","shipper_code":"sf","tracking_number":"SF777"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/admin/orders/ship-batch", body, "staff-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderNumber != "20250312000001" || captured.TrackingNumber != "SF777" {
		t.Fatalf("unexpected batch ship command %+v", captured)
	}
}

func TestAdminReturnDecisions(t *testing.T) {
	cases := []struct {
		path   string
		action string
	}{
		{"/admin/orders/order-1/return/reject", "reject_return"},
		{"/admin/orders/order-1/return/approve", "approve_return"},
		{"/admin/orders/order-1/refund/reject", "reject_refund"},
		{"/admin/orders/order-1/refund/approve", "approve_refund"},
	}

	for _, tc := range cases {
		t.Run(tc.action, func(t *testing.T) {
			var gotAction string
			var gotCmd services.ReturnDecisionCommand
			orders := &stubOrderService{
				decisionFn: func(action string, cmd services.ReturnDecisionCommand) (services.Order, error) {
					gotAction = action
					gotCmd = cmd
					return handlerTestOrder(), nil
				},
			}
			router := newAdminRouter(orders, &stubExportService{}, &stubAdminSystemService{}, &recordingAuditService{})

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, authedRequest(http.MethodPost, tc.path, nil, "staff-1"))

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if gotAction != tc.action {
				t.Fatalf("expected %s to be called, got %s", tc.action, gotAction)
			}
			if gotCmd.OrderID != "order-1" || gotCmd.ActorID != "staff-1" {
				t.Fatalf("unexpected decision command %+v", gotCmd)
			}
		})
	}
}

func TestAdminDecisionMapsStateConflict(t *testing.T) {
	orders := &stubOrderService{
		decisionFn: func(string, services.ReturnDecisionCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderStateConflict
		},
	}
	router := newAdminRouter(orders, &stubExportService{}, &stubAdminSystemService{}, &recordingAuditService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/admin/orders/order-1/return/approve", nil, "staff-1"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminExportOrders(t *testing.T) {
	var captured services.ExportOrdersCommand
	exports := &stubExportService{
		exportFn: func(_ context.Context, cmd services.ExportOrdersCommand) (services.OrderExport, error) {
			captured = cmd
			return services.OrderExport{
				ObjectName: "exports/orders/exp-1/orders-20250312-093000.csv",
				URL:        "https://storage.example.com/signed",
				ExpiresAt:  handlerTestTime.Add(15 * time.Minute),
				Rows:       3,
			}, nil
		},
	}

	router := newAdminRouter(&stubOrderService{}, exports, &stubAdminSystemService{}, &recordingAuditService{})

	body := []byte(`{"order_number":"2025","status":2}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPost, "/admin/orders/export", body, "staff-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderNumber != "2025" || captured.ActorID != "staff-1" {
		t.Fatalf("unexpected export command %+v", captured)
	}
	if captured.Status == nil || *captured.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped status filter, got %+v", captured.Status)
	}

	var got exportOrdersResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if got.Rows != 3 || got.URL != "https://storage.example.com/signed" {
		t.Fatalf("unexpected export payload %+v", got)
	}
}

func TestAdminExportRequiresStaffRole(t *testing.T) {
	exports := &stubExportService{
		exportFn: func(context.Context, services.ExportOrdersCommand) (services.OrderExport, error) {
			t.Fatal("export should not run for non-staff callers")
			return services.OrderExport{}, nil
		},
	}
	router := newAdminRouter(&stubOrderService{}, exports, &stubAdminSystemService{}, &recordingAuditService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/admin/orders/export", []byte(`{}`), "member-1"))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestAdminExportRejectsUnknownStatus(t *testing.T) {
	router := newAdminRouter(&stubOrderService{}, &stubExportService{}, &stubAdminSystemService{}, &recordingAuditService{})

	body := []byte(`{"status":42}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPost, "/admin/orders/export", body, "staff-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminExportMapsTooLarge(t *testing.T) {
	exports := &stubExportService{
		exportFn: func(context.Context, services.ExportOrdersCommand) (services.OrderExport, error) {
			return services.OrderExport{}, services.ErrExportTooLarge
		},
	}
	router := newAdminRouter(&stubOrderService{}, exports, &stubAdminSystemService{}, &recordingAuditService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPost, "/admin/orders/export", []byte(`{}`), "staff-1"))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestAdminListExpress(t *testing.T) {
	logistics := &stubLogisticsService{
		companiesFn: func(context.Context) ([]services.ExpressCompany, error) {
			return []services.ExpressCompany{
				{ID: "exp-1", Code: "shunfeng", Name: "SF Express", Phone: "95338"},
			}, nil
		},
	}
	handler := NewAdminOrderHandlers(nil, &stubOrderService{}, &stubExportService{}, &stubAdminSystemService{}, &recordingAuditService{}, logistics)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/admin/express", nil, "staff-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var got expressCompanyListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Code != "shunfeng" {
		t.Fatalf("unexpected express payload %+v", got)
	}
}

func TestAdminSystemHealth(t *testing.T) {
	system := &stubAdminSystemService{
		report: services.SystemHealthReport{
			Status: domain.HealthStatusOK,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: handlerTestTime},
			},
			Version:     "1.2.0",
			Uptime:      90 * time.Second,
			GeneratedAt: handlerTestTime,
		},
	}
	router := newAdminRouter(&stubOrderService{}, &stubExportService{}, system, &recordingAuditService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/admin/system/health", nil, "staff-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var got systemHealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if got.Status != domain.HealthStatusOK || got.UptimeSec != 90 || got.Checks["firestore"].LatencyMS != 12 {
		t.Fatalf("unexpected health payload %+v", got)
	}
}

func TestAdminListAuditLogs(t *testing.T) {
	var captured services.AuditLogFilter
	system := &stubAdminSystemService{
		logsFn: func(_ context.Context, filter services.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
			captured = filter
			return domain.CursorPage[domain.AuditLogEntry]{
				Items: []domain.AuditLogEntry{
					{ID: "log-1", Actor: "staff-1", Action: "order.ship", TargetRef: "order-1", CreatedAt: handlerTestTime},
				},
			}, nil
		},
	}
	router := newAdminRouter(&stubOrderService{}, &stubExportService{}, system, &recordingAuditService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/admin/audit-logs?target_ref=order-1&action=order.ship", nil, "staff-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.TargetRef != "order-1" || captured.Action != "order.ship" {
		t.Fatalf("unexpected audit filter %+v", captured)
	}
	var got auditLogListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Action != "order.ship" {
		t.Fatalf("unexpected audit payload %+v", got)
	}
}

var (
	_ services.ExportService   = (*stubExportService)(nil)
	_ services.SystemService   = (*stubAdminSystemService)(nil)
	_ services.AuditLogService = (*recordingAuditService)(nil)
)
