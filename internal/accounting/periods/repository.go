package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

const periodColumns = `id, fiscal_year, period_no, start_date, end_date, is_open_gl, is_open_bnk, is_open_rm, is_open_pm, created_at, updated_at`

// Repository reads and maintains fiscal_periods. Lookups take an explicit
// Querier so the gate can run on the caller's transaction.
type Repository struct {
	pool db.Querier
}

// NewRepository constructs Repository.
func NewRepository(pool db.Querier) *Repository {
	return &Repository{pool: pool}
}

// FindByDate returns the period containing date. The row is share-locked so a
// concurrent close waits for the posting transaction.
func (r *Repository) FindByDate(ctx context.Context, q db.Querier, date time.Time, lock bool) (FiscalPeriod, error) {
	if q == nil {
		q = r.pool
	}
	sql := `SELECT ` + periodColumns + ` FROM fiscal_periods WHERE start_date <= $1 AND end_date > $1 ORDER BY start_date LIMIT 1`
	if lock {
		sql += ` FOR SHARE`
	}
	p, err := scanPeriod(q.QueryRow(ctx, sql, truncateDate(date)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalPeriod{}, fmt.Errorf("%w: %s", shared.ErrPeriodNotFound, date.Format(time.DateOnly))
		}
		return FiscalPeriod{}, fmt.Errorf("periods: find by date: %w", err)
	}
	return p, nil
}

// Get loads a period by id.
func (r *Repository) Get(ctx context.Context, id int64) (FiscalPeriod, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalPeriod{}, ErrPeriodMissing
		}
		return FiscalPeriod{}, fmt.Errorf("periods: get: %w", err)
	}
	return p, nil
}

// List returns the periods of a fiscal year, or all periods when year is 0.
func (r *Repository) List(ctx context.Context, fiscalYear int) ([]FiscalPeriod, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE ($1 = 0 OR fiscal_year = $1) ORDER BY start_date`, fiscalYear)
	if err != nil {
		return nil, fmt.Errorf("periods: list: %w", err)
	}
	defer rows.Close()
	var out []FiscalPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("periods: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RangeConflict reports whether [start,end) intersects an existing period.
func (r *Repository) RangeConflict(ctx context.Context, start, end time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fiscal_periods WHERE start_date < $2 AND end_date > $1)`,
		truncateDate(start), truncateDate(end)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("periods: range conflict: %w", err)
	}
	return exists, nil
}

// Insert stores a new period with every module flag set to !in.Closed.
func (r *Repository) Insert(ctx context.Context, in CreatePeriodInput) (FiscalPeriod, error) {
	open := !in.Closed
	p, err := scanPeriod(r.pool.QueryRow(ctx, `INSERT INTO fiscal_periods (fiscal_year, period_no, start_date, end_date, is_open_gl, is_open_bnk, is_open_rm, is_open_pm)
VALUES ($1,$2,$3,$4,$5,$5,$5,$5) RETURNING `+periodColumns, in.FiscalYear, in.PeriodNo, truncateDate(in.StartDate), truncateDate(in.EndDate), open))
	if err != nil {
		if db.IsUniqueViolation(err, "uq_fiscal_periods_no") {
			return FiscalPeriod{}, shared.ErrPeriodOverlap
		}
		return FiscalPeriod{}, fmt.Errorf("periods: insert: %w", err)
	}
	return p, nil
}

// SetOpen toggles the module flag designated by t.
func (r *Repository) SetOpen(ctx context.Context, id int64, t shared.TransactionType, open bool) (FiscalPeriod, error) {
	column := t.PeriodFlag()
	if column == "" {
		return FiscalPeriod{}, fmt.Errorf("%w: unknown transaction type %q", shared.ErrValidation, t)
	}
	// column comes from the closed TransactionType table, never from input.
	p, err := scanPeriod(r.pool.QueryRow(ctx, `UPDATE fiscal_periods SET `+column+`=$2, updated_at=NOW() WHERE id=$1 RETURNING `+periodColumns, id, open))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalPeriod{}, ErrPeriodMissing
		}
		return FiscalPeriod{}, fmt.Errorf("periods: set open: %w", err)
	}
	return p, nil
}

func scanPeriod(row pgx.Row) (FiscalPeriod, error) {
	var p FiscalPeriod
	err := row.Scan(&p.ID, &p.FiscalYear, &p.PeriodNo, &p.StartDate, &p.EndDate, &p.IsOpenGL, &p.IsOpenBNK, &p.IsOpenRM, &p.IsOpenPM, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
