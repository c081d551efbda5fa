package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mixmall/api/internal/services"
)

// PublicHandlers exposes endpoints that require no authentication.
type PublicHandlers struct {
	logistics services.LogisticsService
}

// NewPublicHandlers constructs a new PublicHandlers instance.
func NewPublicHandlers(logistics services.LogisticsService) *PublicHandlers {
	return &PublicHandlers{logistics: logistics}
}

// Routes registers the /public endpoints.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/express", h.listExpressCompanies)
}

type expressCompanyPayload struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Logo  string `json:"logo,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type expressCompanyListResponse struct {
	Items []expressCompanyPayload `json:"items"`
}

func (h *PublicHandlers) listExpressCompanies(w http.ResponseWriter, r *http.Request) {
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
