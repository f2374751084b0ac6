package gl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

const headerColumns = `id, tenant_id, fiscal_date, fiscal_year, sequence, transaction_type, description, status, is_balanced, reversal_of, reversed_by, created_by, created_at, posted_at, updated_at`

// TxRepository exposes the operations available inside a unit of work.
// Identifiers are unique per tenant only, so every lookup takes the tenant.
type TxRepository interface {
	// Querier is the underlying transaction, shared with the sequence
	// allocator, period gate, idempotency and audit writers.
	Querier() db.Querier
	InsertHeader(ctx context.Context, h Header) error
	InsertLines(ctx context.Context, tenantID string, lines []Line) error
	GetForUpdate(ctx context.Context, tenantID, id string) (Header, error)
	Lines(ctx context.Context, tenantID, id string) ([]Line, error)
	UpdateDraft(ctx context.Context, h Header) error
	ReplaceLines(ctx context.Context, tenantID, id string, lines []Line) error
	MarkPosted(ctx context.Context, tenantID, id string, at time.Time) error
	MarkReversed(ctx context.Context, tenantID, id, reversedBy string, at time.Time) error
	DeleteDraft(ctx context.Context, tenantID, id string) error
}

// Repository persists ledger transactions in gl_headers and gl_lines.
type Repository struct {
	pool  db.Pool
	scale int32
}

// NewRepository constructs Repository. Amounts read back are normalised to scale.
func NewRepository(pool db.Pool, scale int32) *Repository {
	return &Repository{pool: pool, scale: scale}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("gl repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.WriteTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, scale: r.scale})
	})
}

// Get loads a transaction with its lines from a consistent snapshot.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (Transaction, error) {
	var out Transaction
	err := db.WithTx(ctx, r.pool, db.ReadTxOptions, func(tx pgx.Tx) error {
		h, err := scanHeader(tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM gl_headers WHERE tenant_id=$1 AND id=$2`, tenantID, id))
		if err != nil {
			return notFound(err, id)
		}
		lines, err := queryLines(ctx, tx, tenantID, id, r.scale)
		if err != nil {
			return err
		}
		out = Transaction{Header: h, Lines: lines}
		return nil
	})
	return out, err
}

// List returns a page of headers and the total number matching the filter.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Header, int, error) {
	where, args := listWhere(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM gl_headers WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("gl: count: %w", err)
	}
	limit, offset := filter.PerPage, (filter.Page-1)*filter.PerPage
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM gl_headers WHERE %s ORDER BY fiscal_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		headerColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("gl: list: %w", err)
	}
	defer rows.Close()
	var headers []Header
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("gl: scan header: %w", err)
		}
		headers = append(headers, h)
	}
	return headers, total, rows.Err()
}

func listWhere(f ListFilter) (string, []any) {
	clauses := []string{"tenant_id=$1"}
	args := []any{f.TenantID}
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	if f.Type != "" {
		add("transaction_type=$%d", string(f.Type))
	}
	if f.From != nil {
		add("fiscal_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("fiscal_date <= $%d", *f.To)
	}
	return strings.Join(clauses, " AND "), args
}

type txRepository struct {
	tx    pgx.Tx
	scale int32
}

func (r *txRepository) Querier() db.Querier { return r.tx }

func (r *txRepository) InsertHeader(ctx context.Context, h Header) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO gl_headers (id, tenant_id, fiscal_date, fiscal_year, sequence, transaction_type, description, status, is_balanced, reversal_of, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)`,
		h.ID, h.TenantID, h.FiscalDate, h.FiscalYear, h.Sequence, string(h.Type), h.Description, string(h.Status), h.IsBalanced, h.ReversalOf, h.CreatedBy, h.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_gl_headers_reversal_of") {
			return shared.ErrAlreadyReversed
		}
		return fmt.Errorf("gl: insert header: %w", err)
	}
	return nil
}

func (r *txRepository) InsertLines(ctx context.Context, tenantID string, lines []Line) error {
	for _, l := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO gl_lines (id, tenant_id, transaction_id, line_no, account_id, description, debit_amount, credit_amount)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, l.ID, tenantID, l.TransactionID, l.LineNo, l.AccountID, l.Description, l.Debit, l.Credit); err != nil {
			return fmt.Errorf("gl: insert line %d: %w", l.LineNo, err)
		}
	}
	return nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, tenantID, id string) (Header, error) {
	h, err := scanHeader(r.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM gl_headers WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
	if err != nil {
		return Header{}, notFound(err, id)
	}
	return h, nil
}

func (r *txRepository) Lines(ctx context.Context, tenantID, id string) ([]Line, error) {
	return queryLines(ctx, r.tx, tenantID, id, r.scale)
}

func (r *txRepository) UpdateDraft(ctx context.Context, h Header) error {
	tag, err := r.tx.Exec(ctx, `UPDATE gl_headers SET fiscal_date=$3, description=$4, is_balanced=$5, updated_at=$6 WHERE tenant_id=$1 AND id=$2 AND status='DRAFT'`,
		h.TenantID, h.ID, h.FiscalDate, h.Description, h.IsBalanced, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("gl: update draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrImmutable
	}
	return nil
}

func (r *txRepository) ReplaceLines(ctx context.Context, tenantID, id string, lines []Line) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM gl_lines WHERE tenant_id=$1 AND transaction_id=$2`, tenantID, id); err != nil {
		return fmt.Errorf("gl: delete lines: %w", err)
	}
	return r.InsertLines(ctx, tenantID, lines)
}

func (r *txRepository) MarkPosted(ctx context.Context, tenantID, id string, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE gl_headers SET status='POSTED', posted_at=$3, updated_at=$3 WHERE tenant_id=$1 AND id=$2 AND status='DRAFT'`, tenantID, id, at)
	if err != nil {
		return fmt.Errorf("gl: mark posted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAlreadyPosted
	}
	return nil
}

func (r *txRepository) MarkReversed(ctx context.Context, tenantID, id, reversedBy string, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE gl_headers SET status='REVERSED', reversed_by=$3, updated_at=$4 WHERE tenant_id=$1 AND id=$2 AND status='POSTED' AND reversed_by IS NULL`,
		tenantID, id, reversedBy, at)
	if err != nil {
		return fmt.Errorf("gl: mark reversed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAlreadyReversed
	}
	return nil
}

func (r *txRepository) DeleteDraft(ctx context.Context, tenantID, id string) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM gl_headers WHERE tenant_id=$1 AND id=$2 AND status='DRAFT'`, tenantID, id)
	if err != nil {
		return fmt.Errorf("gl: delete draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrImmutable
	}
	return nil
}

func queryLines(ctx context.Context, q db.Querier, tenantID, id string, scale int32) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, transaction_id, line_no, account_id, description, debit_amount, credit_amount FROM gl_lines WHERE tenant_id=$1 AND transaction_id=$2 ORDER BY line_no`,
		tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("gl: query lines: %w", err)
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		var debit, credit money.Decimal
		if err := rows.Scan(&l.ID, &l.TransactionID, &l.LineNo, &l.AccountID, &l.Description, &debit, &credit); err != nil {
			return nil, fmt.Errorf("gl: scan line: %w", err)
		}
		l.Debit = debit.WithScale(scale)
		l.Credit = credit.WithScale(scale)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanHeader(row pgx.Row) (Header, error) {
	var h Header
	var typ, status string
	err := row.Scan(&h.ID, &h.TenantID, &h.FiscalDate, &h.FiscalYear, &h.Sequence, &typ, &h.Description, &status, &h.IsBalanced,
		&h.ReversalOf, &h.ReversedBy, &h.CreatedBy, &h.CreatedAt, &h.PostedAt, &h.UpdatedAt)
	h.Type = shared.TransactionType(typ)
	h.Status = Status(status)
	return h, err
}

func notFound(err error, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", shared.ErrTransactionNotFound, id)
	}
	return fmt.Errorf("gl: load header: %w", err)
}
