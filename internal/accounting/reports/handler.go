package reports

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	common "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler serves the financial statements as JSON.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// MountRoutes registers report routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/trial-balance/grouped", h.trialBalance)
	r.Get("/reports/profit-and-loss", h.profitAndLoss)
	r.Get("/reports/balance-sheet", h.balanceSheet)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	q, err := queryFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	vm, err := h.service.TrialBalance(r.Context(), q)
	h.respond(w, "grouped trial balance", vm, err)
}

func (h *Handler) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	q, err := queryFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	vm, err := h.service.ProfitAndLoss(r.Context(), q)
	h.respond(w, "profit and loss", vm, err)
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	q, err := queryFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	vm, err := h.service.BalanceSheet(r.Context(), q)
	h.respond(w, "balance sheet", vm, err)
}

func (h *Handler) respond(w http.ResponseWriter, op string, body any, err error) {
	if err != nil {
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, body)
}

func queryFrom(r *http.Request) (balances.Query, error) {
	values := r.URL.Query()
	q := balances.Query{TenantID: common.TenantFromContext(r.Context()), PostedOnly: true}
	for key, dest := range map[string]*time.Time{"from": &q.Start, "to": &q.End} {
		raw := values.Get(key)
		if raw == "" {
			continue
		}
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return balances.Query{}, fmt.Errorf("%w: %s: %v", shared.ErrValidation, key, err)
		}
		*dest = d
	}
	if raw := values.Get("posted_only"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return balances.Query{}, fmt.Errorf("%w: posted_only: %v", shared.ErrValidation, err)
		}
		q.PostedOnly = v
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return balances.Query{}, fmt.Errorf("%w: end date before start date", shared.ErrValidation)
	}
	return q, nil
}
