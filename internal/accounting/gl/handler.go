package gl

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	common "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler exposes the engine over JSON.
type Handler struct {
	engine    *Engine
	logger    *slog.Logger
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, logger: logger, validator: validator.New()}
}

// MountRoutes registers ledger routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/post", h.post)
		r.Post("/{id}/reverse", h.reverse)
	})
	r.Get("/accounts/{id}/balance", h.accountBalance)
	r.Get("/trial-balance", h.trialBalance)
}

type lineRequest struct {
	AccountID   string        `json:"account_id" validate:"required,max=64"`
	Description string        `json:"description" validate:"max=500"`
	Debit       money.Decimal `json:"debit"`
	Credit      money.Decimal `json:"credit"`
}

type transactionRequest struct {
	Type           string        `json:"type" validate:"omitempty,oneof=MANUAL_GL BANK RECEIVABLE PAYABLE"`
	FiscalDate     string        `json:"fiscal_date" validate:"required,datetime=2006-01-02"`
	Description    string        `json:"description" validate:"max=500"`
	IdempotencyKey string        `json:"idempotency_key" validate:"max=128"`
	Lines          []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type reverseRequest struct {
	Reason     string `json:"reason" validate:"required,max=500"`
	FiscalDate string `json:"fiscal_date" validate:"omitempty,datetime=2006-01-02"`
}

type lineResponse struct {
	ID          string        `json:"id"`
	LineNo      int           `json:"line_no"`
	AccountID   string        `json:"account_id"`
	Description string        `json:"description,omitempty"`
	Debit       money.Decimal `json:"debit"`
	Credit      money.Decimal `json:"credit"`
}

type headerResponse struct {
	ID          string     `json:"id"`
	FiscalDate  string     `json:"fiscal_date"`
	FiscalYear  int        `json:"fiscal_year"`
	Sequence    int64      `json:"sequence"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	IsBalanced  bool       `json:"is_balanced"`
	ReversalOf  *string    `json:"reversal_of,omitempty"`
	ReversedBy  *string    `json:"reversed_by,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
}

type transactionResponse struct {
	headerResponse
	TotalDebit  money.Decimal  `json:"total_debit"`
	TotalCredit money.Decimal  `json:"total_credit"`
	Lines       []lineResponse `json:"lines"`
}

type listResponse struct {
	Data       []headerResponse  `json:"data"`
	Pagination common.Pagination `json:"pagination"`
}

type balanceResponse struct {
	AccountID  string        `json:"account_id"`
	Balance    money.Decimal `json:"balance"`
	PostedOnly bool          `json:"posted_only"`
}

type trialBalanceResponse struct {
	Rows  []balances.Row `json:"rows"`
	Total money.Decimal  `json:"total"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeTransaction(w, r)
	if !ok {
		return
	}
	if in.Type == "" {
		in.Type = shared.TransactionTypeManualGL
	}
	txn, err := h.engine.CreateTransaction(r.Context(), in)
	if err != nil {
		h.fail(w, "create transaction", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransactionResponse(txn))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeTransaction(w, r)
	if !ok {
		return
	}
	txn, err := h.engine.UpdateDraft(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, "update draft", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteDraft(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete draft", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	txn, err := h.engine.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ListFilter{}
	if raw := query.Get("status"); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Status = status
	}
	if raw := query.Get("type"); raw != "" {
		t, err := shared.ParseTransactionType(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Type = t
	}
	from, to, err := parseRange(query.Get("from"), query.Get("to"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !from.IsZero() {
		filter.From = &from
	}
	if !to.IsZero() {
		filter.To = &to
	}
	filter.Page, _ = strconv.Atoi(query.Get("page"))
	filter.PerPage, _ = strconv.Atoi(query.Get("per_page"))

	headers, page, err := h.engine.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, "list transactions", err)
		return
	}
	out := listResponse{Data: make([]headerResponse, 0, len(headers)), Pagination: page}
	for _, hdr := range headers {
		out.Data = append(out.Data, toHeaderResponse(hdr))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	txn, err := h.engine.PostTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "post transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	opts := ReverseOptions{Reason: req.Reason, Actor: common.ActorFromContext(r.Context())}
	if req.FiscalDate != "" {
		d, err := time.Parse(time.DateOnly, req.FiscalDate)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: fiscal_date: %v", shared.ErrValidation, err))
			return
		}
		opts.Date = &d
	}
	txn, err := h.engine.ReverseTransactionWith(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		h.fail(w, "reverse transaction", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransactionResponse(txn))
}

func (h *Handler) accountBalance(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	start, end, err := parseRange(query.Get("from"), query.Get("to"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	postedOnly := parsePostedOnly(query.Get("posted_only"))
	accountID := chi.URLParam(r, "id")
	balance, err := h.engine.GetAccountBalance(r.Context(), accountID, start, end, postedOnly)
	if err != nil {
		h.fail(w, "account balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{AccountID: accountID, Balance: balance, PostedOnly: postedOnly})
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	start, end, err := parseRange(query.Get("from"), query.Get("to"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.engine.GetTrialBalance(r.Context(), start, end, parsePostedOnly(query.Get("posted_only")))
	if err != nil {
		h.fail(w, "trial balance", err)
		return
	}
	if rows == nil {
		rows = []balances.Row{}
	}
	httpx.JSON(w, http.StatusOK, trialBalanceResponse{Rows: rows, Total: balances.Total(rows, h.engine.Scale())})
}

func (h *Handler) decodeTransaction(w http.ResponseWriter, r *http.Request) (CreateInput, bool) {
	var req transactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return CreateInput{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return CreateInput{}, false
	}
	date, err := time.Parse(time.DateOnly, req.FiscalDate)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: fiscal_date: %v", shared.ErrValidation, err))
		return CreateInput{}, false
	}
	in := CreateInput{
		TenantID:       common.TenantFromContext(r.Context()),
		FiscalDate:     date,
		Type:           shared.TransactionType(req.Type),
		Description:    req.Description,
		CreatedBy:      common.ActorFromContext(r.Context()),
		IdempotencyKey: firstNonEmpty(req.IdempotencyKey, r.Header.Get("Idempotency-Key")),
		Lines:          make([]LineInput, 0, len(req.Lines)),
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, LineInput{
			AccountID:   l.AccountID,
			Description: l.Description,
			Debit:       l.Debit,
			Credit:      l.Credit,
		})
	}
	return in, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status, _ := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	} else {
		h.logger.Debug(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// parseRange reads optional inclusive YYYY-MM-DD bounds.
func parseRange(from, to string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if from != "" {
		if start, err = time.Parse(time.DateOnly, from); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: from: %v", shared.ErrValidation, err)
		}
	}
	if to != "" {
		if end, err = time.Parse(time.DateOnly, to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: to: %v", shared.ErrValidation, err)
		}
	}
	return start, end, nil
}

// parsePostedOnly defaults to true; only an explicit false includes drafts.
func parsePostedOnly(raw string) bool {
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err != nil || v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func toHeaderResponse(h Header) headerResponse {
	return headerResponse{
		ID:          h.ID,
		FiscalDate:  h.FiscalDate.Format(time.DateOnly),
		FiscalYear:  h.FiscalYear,
		Sequence:    h.Sequence,
		Type:        string(h.Type),
		Description: h.Description,
		Status:      string(h.Status),
		IsBalanced:  h.IsBalanced,
		ReversalOf:  h.ReversalOf,
		ReversedBy:  h.ReversedBy,
		CreatedBy:   h.CreatedBy,
		CreatedAt:   h.CreatedAt,
		PostedAt:    h.PostedAt,
	}
}

func toTransactionResponse(t Transaction) transactionResponse {
	out := transactionResponse{
		headerResponse: toHeaderResponse(t.Header),
		TotalDebit:     t.TotalDebit(),
		TotalCredit:    t.TotalCredit(),
		Lines:          make([]lineResponse, 0, len(t.Lines)),
	}
	for _, l := range t.Lines {
		out.Lines = append(out.Lines, lineResponse{
			ID:          l.ID.String(),
			LineNo:      l.LineNo,
			AccountID:   l.AccountID,
			Description: l.Description,
			Debit:       l.Debit,
			Credit:      l.Credit,
		})
	}
	return out
}
