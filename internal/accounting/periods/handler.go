package periods

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler exposes fiscal period administration.
type Handler struct {
	gate      *Gate
	logger    *slog.Logger
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, gate *Gate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{gate: gate, logger: logger, validator: validator.New()}
}

// MountRoutes registers period routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/periods", h.list)
	r.Post("/periods", h.create)
	r.Get("/periods/{id}", h.get)
	r.Post("/periods/{id}/open", h.setFlag(true))
	r.Post("/periods/{id}/close", h.setFlag(false))
}

type createRequest struct {
	FiscalYear int    `json:"fiscal_year" validate:"required,min=1900,max=9999"`
	PeriodNo   int    `json:"period_no" validate:"required,min=1,max=99"`
	StartDate  string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate    string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Closed     bool   `json:"closed"`
}

type flagRequest struct {
	Type string `json:"type" validate:"required,oneof=MANUAL_GL BANK RECEIVABLE PAYABLE"`
}

type periodResponse struct {
	ID         int64  `json:"id"`
	FiscalYear int    `json:"fiscal_year"`
	PeriodNo   int    `json:"period_no"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	IsOpenGL   bool   `json:"is_open_gl"`
	IsOpenBNK  bool   `json:"is_open_bnk"`
	IsOpenRM   bool   `json:"is_open_rm"`
	IsOpenPM   bool   `json:"is_open_pm"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	year := 0
	if raw := r.URL.Query().Get("fiscal_year"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: fiscal_year", httpx.ErrBadRequest))
			return
		}
		year = v
	}
	list, err := h.gate.List(r.Context(), year)
	if err != nil {
		h.logger.Error("list periods", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]periodResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := periodID(w, r)
	if !ok {
		return
	}
	p, err := h.gate.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, mapMissing(err))
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	start, _ := time.Parse(time.DateOnly, req.StartDate)
	end, _ := time.Parse(time.DateOnly, req.EndDate)
	p, err := h.gate.CreatePeriod(r.Context(), CreatePeriodInput{
		FiscalYear: req.FiscalYear,
		PeriodNo:   req.PeriodNo,
		StartDate:  start,
		EndDate:    end,
		Closed:     req.Closed,
	})
	if err != nil {
		h.logger.Warn("create period", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(p))
}

func (h *Handler) setFlag(open bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := periodID(w, r)
		if !ok {
			return
		}
		var req flagRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := h.validator.Struct(req); err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
			return
		}
		t := shared.TransactionType(req.Type)
		var p FiscalPeriod
		var err error
		if open {
			p, err = h.gate.OpenPeriod(r.Context(), id, t)
		} else {
			p, err = h.gate.ClosePeriod(r.Context(), id, t)
		}
		if err != nil {
			httpx.RespondError(w, mapMissing(err))
			return
		}
		httpx.JSON(w, http.StatusOK, toResponse(p))
	}
}

func periodID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: period id", httpx.ErrBadRequest))
		return 0, false
	}
	return id, true
}

func mapMissing(err error) error {
	if errors.Is(err, ErrPeriodMissing) {
		return fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
	}
	return err
}

func toResponse(p FiscalPeriod) periodResponse {
	return periodResponse{
		ID:         p.ID,
		FiscalYear: p.FiscalYear,
		PeriodNo:   p.PeriodNo,
		StartDate:  p.StartDate.Format(time.DateOnly),
		EndDate:    p.EndDate.Format(time.DateOnly),
		IsOpenGL:   p.IsOpenGL,
		IsOpenBNK:  p.IsOpenBNK,
		IsOpenRM:   p.IsOpenRM,
		IsOpenPM:   p.IsOpenPM,
	}
}
