package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mixmall/api/internal/platform/auth"
	"github.com/mixmall/api/internal/platform/httpx"
	"github.com/mixmall/api/internal/services"
)

// MeHandlers exposes account-scoped endpoints for the authenticated user.
type MeHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
}

// NewMeHandlers constructs a new MeHandlers instance.
func NewMeHandlers(authn *auth.Authenticator, payments services.PaymentService) *MeHandlers {
	return &MeHandlers{
		authn:    authn,
		payments: payments,
	}
}

// Routes registers the /me endpoints.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/money-logs", h.listMoneyLogs)
}

type moneyLogPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	Amount    int64  `json:"amount"`
	CreatedAt string `json:"created_at"`
}

type moneyLogListResponse struct {
	Items         []moneyLogPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

func (h *MeHandlers) listMoneyLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.payments.ListMoneyLogs(ctx, identity.UID, services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]moneyLogPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, moneyLogPayload{
			ID:        entry.ID,
			Title:     entry.Title,
			Type:      string(entry.Type),
			Amount:    entry.Amount,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}

	writeJSONResponse(w, http.StatusOK, moneyLogListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}
