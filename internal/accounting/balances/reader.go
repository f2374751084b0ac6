// Package balances answers account balance and trial balance queries over
// ledger lines. It only reads.
package balances

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

var (
	minDate = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxDate = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
)

// Movement is the summed debit and credit of one account.
type Movement struct {
	AccountID string
	Debit     money.Decimal
	Credit    money.Decimal
}

// Net returns debit minus credit.
func (m Movement) Net() money.Decimal {
	return m.Debit.Sub(m.Credit)
}

// Row is one line of a trial balance. Balance is debit minus credit, so rows
// over the full posted history sum to zero.
type Row struct {
	AccountID   string        `json:"account_id"`
	Description string        `json:"description"`
	Debit       money.Decimal `json:"debit"`
	Credit      money.Decimal `json:"credit"`
	Balance     money.Decimal `json:"balance"`
}

// Query scopes a balance read. Zero dates are unbounded; both ends are inclusive.
type Query struct {
	TenantID   string
	Start      time.Time
	End        time.Time
	PostedOnly bool
}

func (q Query) bounds() (time.Time, time.Time) {
	start, end := q.Start, q.End
	if start.IsZero() {
		start = minDate
	}
	if end.IsZero() {
		end = maxDate
	}
	return start, end
}

// AccountLookup supplies account names and normal sides.
type AccountLookup interface {
	Lookup(ctx context.Context, tenantID string, ids []string) (map[string]accounts.Account, error)
}

// Reader aggregates gl_lines inside read-only snapshot transactions.
type Reader struct {
	pool     db.Pool
	accounts AccountLookup
	scale    int32
}

// NewReader constructs the reader.
func NewReader(pool db.Pool, lookup AccountLookup, scale int32) *Reader {
	return &Reader{pool: pool, accounts: lookup, scale: scale}
}

const movementSQL = `SELECT l.account_id, COALESCE(SUM(l.debit_amount), 0), COALESCE(SUM(l.credit_amount), 0)
FROM gl_lines l
JOIN gl_headers h ON h.tenant_id = l.tenant_id AND h.id = l.transaction_id
WHERE h.tenant_id = $1
  AND h.fiscal_date BETWEEN $2 AND $3
  AND ($4 = FALSE OR h.status IN ('POSTED', 'REVERSED'))`

// Movements sums lines per account, optionally restricted to accountID.
func (r *Reader) Movements(ctx context.Context, q Query, accountID string) ([]Movement, error) {
	if q.TenantID == "" {
		return nil, shared.ErrTenantRequired
	}
	start, end := q.bounds()
	sql := movementSQL
	args := []any{q.TenantID, start, end, q.PostedOnly}
	if accountID != "" {
		sql += ` AND l.account_id = $5`
		args = append(args, accountID)
	}
	sql += ` GROUP BY l.account_id ORDER BY l.account_id`

	var out []Movement
	err := db.WithTx(ctx, r.pool, db.ReadTxOptions, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("balances: query movements: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var m Movement
			var debit, credit money.Decimal
			if err := rows.Scan(&m.AccountID, &debit, &credit); err != nil {
				return fmt.Errorf("balances: scan movement: %w", err)
			}
			m.Debit = debit.WithScale(r.scale)
			m.Credit = credit.WithScale(r.scale)
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// AccountBalance returns the net balance of one account, signed so that a
// balance on the account's normal side is positive.
func (r *Reader) AccountBalance(ctx context.Context, q Query, accountID string) (money.Decimal, error) {
	if accountID == "" {
		return money.Decimal{}, fmt.Errorf("%w: account required", shared.ErrValidation)
	}
	side := accounts.SideDebit
	if r.accounts != nil {
		found, err := r.accounts.Lookup(ctx, q.TenantID, []string{accountID})
		if err != nil {
			return money.Decimal{}, err
		}
		account, ok := found[accountID]
		if !ok {
			return money.Decimal{}, fmt.Errorf("%w: unknown account %q", shared.ErrValidation, accountID)
		}
		side = account.NormalSide()
	}
	movements, err := r.Movements(ctx, q, accountID)
	if err != nil {
		return money.Decimal{}, err
	}
	return SignedBalance(movements, side, r.scale), nil
}

// TrialBalance returns one row per account touched in the range.
func (r *Reader) TrialBalance(ctx context.Context, q Query) ([]Row, error) {
	movements, err := r.Movements(ctx, q, "")
	if err != nil {
		return nil, err
	}
	var names map[string]accounts.Account
	if r.accounts != nil && len(movements) > 0 {
		ids := make([]string, 0, len(movements))
		for _, m := range movements {
			ids = append(ids, m.AccountID)
		}
		if names, err = r.accounts.Lookup(ctx, q.TenantID, ids); err != nil {
			return nil, err
		}
	}
	return BuildTrialBalance(movements, names, r.scale), nil
}

// SignedBalance folds movements into a single balance on side.
func SignedBalance(movements []Movement, side accounts.Side, scale int32) money.Decimal {
	net := money.Zero(scale)
	for _, m := range movements {
		net = net.Add(m.Net())
	}
	if side == accounts.SideCredit {
		return net.Neg()
	}
	return net
}

// BuildTrialBalance shapes movements into ordered rows. Accounts missing from
// names are described by their id.
func BuildTrialBalance(movements []Movement, names map[string]accounts.Account, scale int32) []Row {
	rows := make([]Row, 0, len(movements))
	for _, m := range movements {
		desc := m.AccountID
		if a, ok := names[m.AccountID]; ok && a.Name != "" {
			desc = a.Name
		}
		rows = append(rows, Row{
			AccountID:   m.AccountID,
			Description: desc,
			Debit:       m.Debit.WithScale(scale),
			Credit:      m.Credit.WithScale(scale),
			Balance:     m.Net().WithScale(scale),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].AccountID < rows[j].AccountID })
	return rows
}

// Total sums the balance column.
func Total(rows []Row, scale int32) money.Decimal {
	total := money.Zero(scale)
	for _, r := range rows {
		total = total.Add(r.Balance)
	}
	return total
}
