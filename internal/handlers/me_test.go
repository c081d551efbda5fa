package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/mixmall/api/internal/domain"
	"github.com/mixmall/api/internal/services"
)

func TestListMoneyLogs(t *testing.T) {
	var gotUser string
	var gotPager services.Pagination
	payments := &stubPaymentService{
		moneyLogsFn: func(_ context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.MoneyLog], error) {
			gotUser = userID
			gotPager = pager
			return domain.CursorPage[services.MoneyLog]{
				Items: []services.MoneyLog{
					{ID: "ml-1", Title: "pay order 20250312000001", Type: domain.MoneyLogPayOrder, Amount: -2000, CreatedAt: handlerTestTime},
				},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	handler := NewMeHandlers(nil, payments)
	router := chi.NewRouter()
	router.Route("/me", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/me/money-logs?page_size=10&page_token=tok", nil, "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotUser != "user-1" || gotPager.PageSize != 10 || gotPager.PageToken != "tok" {
		t.Fatalf("unexpected money log query user=%s pager=%+v", gotUser, gotPager)
	}

	var got moneyLogListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Amount != -2000 || got.Items[0].Type != string(domain.MoneyLogPayOrder) {
		t.Fatalf("unexpected money log payload %+v", got)
	}
	if got.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token, got %q", got.NextPageToken)
	}
}

func TestListMoneyLogsRequiresAuthentication(t *testing.T) {
	handler := NewMeHandlers(nil, &stubPaymentService{})
	router := chi.NewRouter()
	router.Route("/me", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/me/money-logs", nil, ""))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
