package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mixmall/api/internal/services"
)

func TestListExpressCompanies(t *testing.T) {
	logistics := &stubLogisticsService{
		companiesFn: func(context.Context) ([]services.ExpressCompany, error) {
			return []services.ExpressCompany{
				{ID: "ex-1", Code: "sf", Name: "SF Express", Phone: "95338"},
				{ID: "ex-2", Code: "yto", Name: "YTO Express"},
			}, nil
		},
	}

	handler := NewPublicHandlers(logistics)
	router := chi.NewRouter()
	router.Route("/public", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/public/express", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var got expressCompanyListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(got.Items) != 2 || got.Items[0].Code != "sf" || got.Items[1].Name != "YTO Express" {
		t.Fatalf("unexpected express payload %+v", got)
	}
}
