package accounts

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler exposes the chart of accounts as JSON.
type Handler struct {
	service   *Directory
	logger    *slog.Logger
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Directory) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers account routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.List)
	r.Put("/accounts/{id}", h.Save)
}

type accountRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Type     string `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	IsActive *bool  `json:"is_active"`
}

type accountResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	NormalSide string `json:"normal_side"`
	IsActive   bool   `json:"is_active"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.List(r.Context(), shared.TenantFromContext(r.Context()))
	if err != nil {
		h.logger.Error("list accounts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toResponse(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	account := Account{
		ID:       chi.URLParam(r, "id"),
		TenantID: shared.TenantFromContext(r.Context()),
		Name:     req.Name,
		Type:     AccountType(req.Type),
		IsActive: req.IsActive == nil || *req.IsActive,
	}
	if err := h.service.Save(r.Context(), account); err != nil {
		h.logger.Warn("save account", slog.String("account_id", account.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(account))
}

func toResponse(a Account) accountResponse {
	return accountResponse{
		ID:         a.ID,
		Name:       a.Name,
		Type:       string(a.Type),
		NormalSide: string(a.NormalSide()),
		IsActive:   a.IsActive,
	}
}
