package gl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sequences"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	common "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	auditEntity       = "gl_transaction"
	idempotencyModule = "gl.create"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID, id string) (Transaction, error)
	List(ctx context.Context, filter ListFilter) ([]Header, int, error)
}

// SequenceAllocator hands out gapless numbers on the caller's transaction.
type SequenceAllocator interface {
	NextNumber(ctx context.Context, q db.Querier, key sequences.Key) (int64, error)
}

// PeriodGate authorises postings by fiscal date and transaction type.
type PeriodGate interface {
	IsOpen(ctx context.Context, q db.Querier, t shared.TransactionType, date time.Time) (bool, error)
	FiscalYearOf(ctx context.Context, q db.Querier, date time.Time) (int, error)
}

// AccountDirectory validates account identifiers.
type AccountDirectory interface {
	Validate(ctx context.Context, tenantID string, ids []string) (map[string]accounts.Account, error)
}

// BalanceReader answers balance queries.
type BalanceReader interface {
	AccountBalance(ctx context.Context, q balances.Query, accountID string) (money.Decimal, error)
	TrialBalance(ctx context.Context, q balances.Query) ([]balances.Row, error)
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, q db.Querier, log common.AuditLog) error
}

// IdempotencyPort rejects replayed create requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, q db.Querier, tenantID, module, key, ref string) error
}

// CacheInvalidator is told about every committed mutation.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// MetricsRecorder observes engine operations.
type MetricsRecorder interface {
	ObserveGL(operation, outcome string, started time.Time)
}

// Dependencies groups the collaborators of the engine.
type Dependencies struct {
	Repo        RepositoryPort
	Sequences   SequenceAllocator
	Periods     PeriodGate
	Accounts    AccountDirectory
	Balances    BalanceReader
	Audit       AuditPort
	Idempotency IdempotencyPort
	Cache       CacheInvalidator
	Metrics     MetricsRecorder
	Logger      *slog.Logger
	// Scale is the number of fractional digits every amount is stored at.
	// Zero is honoured; values outside 0..money.MaxScale fall back to
	// money.DefaultScale.
	Scale int32
	// ReversalDate picks the fiscal date of reversals when a call gives none.
	ReversalDate ReversalDate
}

// Engine creates, posts and reverses ledger transactions.
type Engine struct {
	deps   Dependencies
	scale  int32
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine constructs the engine.
func NewEngine(deps Dependencies) *Engine {
	scale := deps.Scale
	if scale < 0 || scale > money.MaxScale {
		scale = money.DefaultScale
	}
	if deps.ReversalDate == "" {
		deps.ReversalDate = ReversalDateOriginal
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{deps: deps, scale: scale, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Scale reports the ledger scale.
func (e *Engine) Scale() int32 { return e.scale }

// CreateTransaction validates and persists a new DRAFT transaction.
func (e *Engine) CreateTransaction(ctx context.Context, in CreateInput) (txn Transaction, err error) {
	defer e.observe("create", time.Now(), &err)
	tenant, err := e.tenant(ctx, in.TenantID)
	if err != nil {
		return Transaction{}, err
	}
	in.TenantID = tenant
	lines, err := e.validateInput(ctx, in)
	if err != nil {
		return Transaction{}, err
	}
	err = e.deps.Repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.IdempotencyKey != "" && e.deps.Idempotency != nil {
			if err := e.deps.Idempotency.CheckAndInsert(ctx, tx.Querier(), tenant, idempotencyModule, in.IdempotencyKey, ""); err != nil {
				if errors.Is(err, common.ErrIdempotencyConflict) {
					return fmt.Errorf("%w: %s", shared.ErrDuplicateRequest, in.IdempotencyKey)
				}
				return err
			}
		}
		created, err := e.createInTx(ctx, tx, in, lines, nil)
		if err != nil {
			return err
		}
		txn = created
		return e.audit(ctx, tx, "gl.create", txn.Header, map[string]any{
			"type":        string(txn.Header.Type),
			"is_balanced": txn.Header.IsBalanced,
			"lines":       len(txn.Lines),
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	e.committed(ctx, "transaction created", txn.Header)
	return txn, nil
}

// PostTransaction moves a balanced DRAFT inside an open period to POSTED.
func (e *Engine) PostTransaction(ctx context.Context, id string) (txn Transaction, err error) {
	defer e.observe("post", time.Now(), &err)
	tenant, err := e.tenant(ctx, "")
	if err != nil {
		return Transaction{}, err
	}
	err = e.deps.Repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetForUpdate(ctx, tenant, id)
		if err != nil {
			return err
		}
		posted, err := e.postInTx(ctx, tx, header)
		if err != nil {
			return err
		}
		txn = posted
		return e.audit(ctx, tx, "gl.post", txn.Header, map[string]any{
			"fiscal_date": txn.Header.FiscalDate.Format(time.DateOnly),
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	e.committed(ctx, "transaction posted", txn.Header)
	return txn, nil
}

// ReverseTransaction reverses a POSTED transaction using the configured date
// policy and returns the new, posted reversal.
func (e *Engine) ReverseTransaction(ctx context.Context, id, reason string) (Transaction, error) {
	return e.ReverseTransactionWith(ctx, id, ReverseOptions{Reason: reason})
}

// ReverseTransactionWith is ReverseTransaction with per-call options.
func (e *Engine) ReverseTransactionWith(ctx context.Context, id string, opts ReverseOptions) (reversal Transaction, err error) {
	defer e.observe("reverse", time.Now(), &err)
	tenant, err := e.tenant(ctx, "")
	if err != nil {
		return Transaction{}, err
	}
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		return Transaction{}, fmt.Errorf("%w: reversal reason required", shared.ErrValidation)
	}
	actor := opts.Actor
	if actor == "" {
		actor = common.ActorFromContext(ctx)
	}
	var original Header
	err = e.deps.Repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		original, err = tx.GetForUpdate(ctx, tenant, id)
		if err != nil {
			return err
		}
		switch {
		case original.Status == StatusDraft:
			return fmt.Errorf("%w: %s", shared.ErrNotPosted, id)
		case original.Status == StatusReversed, original.ReversedBy != nil:
			return fmt.Errorf("%w: %s", shared.ErrAlreadyReversed, id)
		}
		lines, err := tx.Lines(ctx, tenant, original.ID)
		if err != nil {
			return err
		}
		in := CreateInput{
			TenantID:    tenant,
			FiscalDate:  e.reversalDate(original, opts),
			Type:        original.Type,
			Description: reversalDescription(original.Description, reason),
			CreatedBy:   actor,
			Lines:       swapSides(lines),
		}
		created, err := e.createInTx(ctx, tx, in, in.Lines, &original.ID)
		if err != nil {
			return err
		}
		posted, err := e.postInTx(ctx, tx, created.Header)
		if err != nil {
			return err
		}
		if err := tx.MarkReversed(ctx, tenant, original.ID, posted.Header.ID, e.now()); err != nil {
			return err
		}
		reversal = posted
		return e.audit(ctx, tx, "gl.reverse", original, map[string]any{
			"reversal_id": reversal.Header.ID,
			"reason":      reason,
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	e.committed(ctx, "transaction reversed", reversal.Header, slog.String("reversal_of", original.ID))
	return reversal, nil
}

// UpdateDraft replaces the description, date and lines of a DRAFT. The
// identifier is kept, so the type and fiscal year cannot change.
func (e *Engine) UpdateDraft(ctx context.Context, id string, in CreateInput) (txn Transaction, err error) {
	defer e.observe("update", time.Now(), &err)
	tenant, err := e.tenant(ctx, in.TenantID)
	if err != nil {
		return Transaction{}, err
	}
	in.TenantID = tenant
	err = e.deps.Repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetForUpdate(ctx, tenant, id)
		if err != nil {
			return err
		}
		if !header.Mutable() {
			return fmt.Errorf("%w: %s is %s", shared.ErrImmutable, id, header.Status)
		}
		if in.Type == "" {
			in.Type = header.Type
		}
		if in.Type != header.Type {
			return fmt.Errorf("%w: transaction type cannot change on %s", shared.ErrValidation, id)
		}
		lines, err := e.validateInput(ctx, in)
		if err != nil {
			return err
		}
		year, err := e.deps.Periods.FiscalYearOf(ctx, tx.Querier(), in.FiscalDate)
		if err != nil {
			return err
		}
		if year != header.FiscalYear {
			return fmt.Errorf("%w: fiscal date moves %s out of fiscal year %d", shared.ErrValidation, id, header.FiscalYear)
		}
		debit, credit := sumLines(lines, e.scale)
		header.FiscalDate = dateOnly(in.FiscalDate)
		header.Description = strings.TrimSpace(in.Description)
		header.IsBalanced = debit.Equal(credit)
		header.UpdatedAt = e.now()
		if err := tx.UpdateDraft(ctx, header); err != nil {
			return err
		}
		persisted := buildLines(header.ID, lines)
		if err := tx.ReplaceLines(ctx, tenant, header.ID, persisted); err != nil {
			return err
		}
		txn = Transaction{Header: header, Lines: persisted}
		return e.audit(ctx, tx, "gl.update", header, map[string]any{"lines": len(persisted)})
	})
	if err != nil {
		return Transaction{}, err
	}
	e.committed(ctx, "draft updated", txn.Header)
	return txn, nil
}

// DeleteDraft removes a DRAFT with its lines.
func (e *Engine) DeleteDraft(ctx context.Context, id string) (err error) {
	defer e.observe("delete", time.Now(), &err)
	tenant, err := e.tenant(ctx, "")
	if err != nil {
		return err
	}
	var header Header
	err = e.deps.Repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		header, err = tx.GetForUpdate(ctx, tenant, id)
		if err != nil {
			return err
		}
		if !header.Mutable() {
			return fmt.Errorf("%w: %s is %s", shared.ErrImmutable, id, header.Status)
		}
		if err := tx.DeleteDraft(ctx, tenant, id); err != nil {
			return err
		}
		return e.audit(ctx, tx, "gl.delete", header, nil)
	})
	if err != nil {
		return err
	}
	e.committed(ctx, "draft deleted", header)
	return nil
}

// GetTransaction loads one transaction with its lines.
func (e *Engine) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	tenant, err := e.tenant(ctx, "")
	if err != nil {
		return Transaction{}, err
	}
	return e.deps.Repo.Get(ctx, tenant, id)
}

// ListTransactions returns a page of headers.
func (e *Engine) ListTransactions(ctx context.Context, filter ListFilter) ([]Header, common.Pagination, error) {
	tenant, err := e.tenant(ctx, filter.TenantID)
	if err != nil {
		return nil, common.Pagination{}, err
	}
	filter.TenantID = tenant
	filter.Page, filter.PerPage = common.NormalizePage(filter.Page, filter.PerPage)
	headers, total, err := e.deps.Repo.List(ctx, filter)
	if err != nil {
		return nil, common.Pagination{}, err
	}
	return headers, common.NewPagination(filter.Page, filter.PerPage, total), nil
}

// GetAccountBalance sums an account over [start, end], signed by its normal side.
func (e *Engine) GetAccountBalance(ctx context.Context, accountID string, start, end time.Time, postedOnly bool) (money.Decimal, error) {
	tenant, err := e.tenant(ctx, "")
	if err != nil {
		return money.Decimal{}, err
	}
	if err := checkRange(start, end); err != nil {
		return money.Decimal{}, err
	}
	return e.deps.Balances.AccountBalance(ctx, balances.Query{TenantID: tenant, Start: start, End: end, PostedOnly: postedOnly}, accountID)
}

// GetTrialBalance returns the net balance of every account touched in [start, end].
func (e *Engine) GetTrialBalance(ctx context.Context, start, end time.Time, postedOnly bool) ([]balances.Row, error) {
	tenant, err := e.tenant(ctx, "")
	if err != nil {
		return nil, err
	}
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	return e.deps.Balances.TrialBalance(ctx, balances.Query{TenantID: tenant, Start: start, End: end, PostedOnly: postedOnly})
}

func (e *Engine) validateInput(ctx context.Context, in CreateInput) ([]LineInput, error) {
	lines, err := in.validate(e.scale)
	if err != nil {
		return nil, err
	}
	if e.deps.Accounts != nil {
		if _, err := e.deps.Accounts.Validate(ctx, in.TenantID, accountIDs(lines)); err != nil {
			return nil, err
		}
	}
	return lines, nil
}

// createInTx allocates the identifier and persists a DRAFT and its lines.
func (e *Engine) createInTx(ctx context.Context, tx TxRepository, in CreateInput, lines []LineInput, reversalOf *string) (Transaction, error) {
	fiscalDate := dateOnly(in.FiscalDate)
	year, err := e.deps.Periods.FiscalYearOf(ctx, tx.Querier(), fiscalDate)
	if err != nil {
		return Transaction{}, err
	}
	number, err := e.deps.Sequences.NextNumber(ctx, tx.Querier(), sequences.Key{TenantID: in.TenantID, Type: in.Type, FiscalYear: year})
	if err != nil {
		return Transaction{}, err
	}
	createdBy := in.CreatedBy
	if createdBy == "" {
		createdBy = common.ActorFromContext(ctx)
	}
	debit, credit := sumLines(lines, e.scale)
	now := e.now()
	header := Header{
		ID:          sequences.FormatID(year, in.Type, number),
		TenantID:    in.TenantID,
		FiscalDate:  fiscalDate,
		FiscalYear:  year,
		Sequence:    number,
		Type:        in.Type,
		Description: strings.TrimSpace(in.Description),
		Status:      StatusDraft,
		IsBalanced:  debit.Equal(credit),
		ReversalOf:  reversalOf,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertHeader(ctx, header); err != nil {
		return Transaction{}, err
	}
	persisted := buildLines(header.ID, lines)
	if err := tx.InsertLines(ctx, header.TenantID, persisted); err != nil {
		return Transaction{}, err
	}
	return Transaction{Header: header, Lines: persisted}, nil
}

// postInTx applies the posting rules to a locked header.
func (e *Engine) postInTx(ctx context.Context, tx TxRepository, header Header) (Transaction, error) {
	if header.Status != StatusDraft {
		return Transaction{}, fmt.Errorf("%w: %s is %s", shared.ErrAlreadyPosted, header.ID, header.Status)
	}
	lines, err := tx.Lines(ctx, header.TenantID, header.ID)
	if err != nil {
		return Transaction{}, err
	}
	txn := Transaction{Header: header, Lines: lines}
	if !header.IsBalanced || !txn.Balanced() {
		return Transaction{}, fmt.Errorf("%w: %s debit %s credit %s", shared.ErrUnbalanced, header.ID, txn.TotalDebit(), txn.TotalCredit())
	}
	open, err := e.deps.Periods.IsOpen(ctx, tx.Querier(), header.Type, header.FiscalDate)
	if err != nil {
		return Transaction{}, err
	}
	if !open {
		return Transaction{}, fmt.Errorf("%w: %s on %s", shared.ErrPeriodClosed, header.Type, header.FiscalDate.Format(time.DateOnly))
	}
	now := e.now()
	if err := tx.MarkPosted(ctx, header.TenantID, header.ID, now); err != nil {
		return Transaction{}, err
	}
	txn.Header.Status = StatusPosted
	txn.Header.PostedAt = &now
	txn.Header.UpdatedAt = now
	return txn, nil
}

func (e *Engine) reversalDate(original Header, opts ReverseOptions) time.Time {
	if opts.Date != nil {
		return dateOnly(*opts.Date)
	}
	if e.deps.ReversalDate == ReversalDateToday {
		return dateOnly(e.now())
	}
	return original.FiscalDate
}

func (e *Engine) tenant(ctx context.Context, explicit string) (string, error) {
	tenant := strings.TrimSpace(explicit)
	if tenant == "" {
		tenant = common.TenantFromContext(ctx)
	}
	if tenant == "" {
		return "", fmt.Errorf("%w: %w", shared.ErrValidation, shared.ErrTenantRequired)
	}
	return tenant, nil
}

func (e *Engine) audit(ctx context.Context, tx TxRepository, action string, h Header, meta map[string]any) error {
	if e.deps.Audit == nil {
		return nil
	}
	return e.deps.Audit.Record(ctx, tx.Querier(), common.AuditLog{
		TenantID: h.TenantID,
		Actor:    common.ActorFromContext(ctx),
		Action:   action,
		Entity:   auditEntity,
		EntityID: h.ID,
		Meta:     meta,
		At:       e.now(),
	})
}

// committed runs the post-commit side effects of a mutation. Cache failures
// are logged and never undo the commit.
func (e *Engine) committed(ctx context.Context, msg string, h Header, attrs ...any) {
	if e.deps.Cache != nil {
		if err := e.deps.Cache.Invalidate(ctx, h.TenantID); err != nil {
			e.logger.Warn("balance cache invalidation failed", slog.String("tenant", h.TenantID), slog.Any("error", err))
		}
	}
	attrs = append([]any{
		slog.String("tenant", h.TenantID),
		slog.String("id", h.ID),
		slog.String("status", string(h.Status)),
	}, attrs...)
	e.logger.Info(msg, attrs...)
}

func (e *Engine) observe(op string, started time.Time, errp *error) {
	if e.deps.Metrics == nil {
		return
	}
	e.deps.Metrics.ObserveGL(op, Outcome(*errp), started)
}

// Outcome classifies an engine error into a short metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, shared.ErrTenantRequired):
		return "tenant_required"
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrUnbalanced):
		return "unbalanced"
	case errors.Is(err, shared.ErrPeriodClosed):
		return "period_closed"
	case errors.Is(err, shared.ErrPeriodNotFound):
		return "period_not_found"
	case errors.Is(err, shared.ErrAlreadyPosted):
		return "already_posted"
	case errors.Is(err, shared.ErrAlreadyReversed):
		return "already_reversed"
	case errors.Is(err, shared.ErrNotPosted):
		return "not_posted"
	case errors.Is(err, shared.ErrImmutable):
		return "immutable"
	case errors.Is(err, shared.ErrDuplicateRequest):
		return "duplicate"
	case db.IsSerializationFailure(err):
		return "serialization_failure"
	default:
		return "error"
	}
}

func buildLines(txnID string, lines []LineInput) []Line {
	out := make([]Line, 0, len(lines))
	for i, l := range lines {
		out = append(out, Line{
			ID:            uuid.New(),
			TransactionID: txnID,
			LineNo:        i + 1,
			AccountID:     l.AccountID,
			Description:   l.Description,
			Debit:         l.Debit,
			Credit:        l.Credit,
		})
	}
	return out
}

func checkRange(start, end time.Time) error {
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("%w: end date before start date", shared.ErrValidation)
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
