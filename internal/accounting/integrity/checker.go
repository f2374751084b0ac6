package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Check names used in reports and metrics labels.
const (
	CheckOrphans        = "orphans"
	CheckUnbalanced     = "unbalanced"
	CheckSequenceDrift  = "sequence_drift"
	CheckReversalLink   = "reversal_link"
	maxReportedSubjects = 50
)

// Violation is one failed invariant.
type Violation struct {
	Check   string `json:"check"`
	Subject string `json:"subject"`
	Count   int    `json:"count"`
	Detail  string `json:"detail,omitempty"`
}

// Report is the outcome of one run.
type Report struct {
	RunID      uuid.UUID   `json:"run_id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Violations []Violation `json:"violations"`
}

// Clean reports whether no violation was found.
func (r Report) Clean() bool { return len(r.Violations) == 0 }

// Counts sums violations per check.
func (r Report) Counts() map[string]int {
	out := map[string]int{}
	for _, v := range r.Violations {
		out[v.Check] += v.Count
	}
	return out
}

// Checker runs the integrity queries inside one read-only snapshot.
type Checker struct {
	pool   db.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewChecker constructs the checker.
func NewChecker(pool db.Pool, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{pool: pool, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock for testing.
func (c *Checker) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Run executes every check. Nested runs on the same context are rejected.
func (c *Checker) Run(ctx context.Context) (Report, error) {
	if err := GuardFrom(ctx); err != nil {
		return Report{}, err
	}
	ctx = WithGuard(ctx)

	report := Report{RunID: uuid.New(), StartedAt: c.now()}
	err := db.WithTx(ctx, c.pool, db.ReadTxOptions, func(tx pgx.Tx) error {
		for _, rel := range Relations {
			var n int
			if err := tx.QueryRow(ctx, rel.orphanSQL()).Scan(&n); err != nil {
				return fmt.Errorf("integrity: %s: %w", rel.Name, err)
			}
			if n > 0 {
				report.Violations = append(report.Violations, Violation{
					Check:   CheckOrphans,
					Subject: rel.Name,
					Count:   n,
					Detail:  fmt.Sprintf("%s.%s without %s.%s", rel.Child, rel.ChildColumn, rel.Parent, rel.ParentColumn),
				})
			}
		}
		unbalanced, err := c.unbalanced(ctx, tx)
		if err != nil {
			return err
		}
		drift, err := c.sequenceDrift(ctx, tx)
		if err != nil {
			return err
		}
		links, err := c.reversalLinks(ctx, tx)
		if err != nil {
			return err
		}
		report.Violations = append(report.Violations, unbalanced...)
		report.Violations = append(report.Violations, drift...)
		report.Violations = append(report.Violations, links...)
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	report.FinishedAt = c.now()

	if report.Clean() {
		c.logger.Info("ledger integrity clean", slog.String("run_id", report.RunID.String()))
	} else {
		c.logger.Warn("ledger integrity violations",
			slog.String("run_id", report.RunID.String()),
			slog.Int("violations", len(report.Violations)))
	}
	return report, nil
}

const unbalancedSQL = `SELECT h.tenant_id, h.id, COALESCE(SUM(l.debit_amount), 0), COALESCE(SUM(l.credit_amount), 0)
FROM gl_headers h
LEFT JOIN gl_lines l ON l.tenant_id = h.tenant_id AND l.transaction_id = h.id
WHERE h.status IN ('POSTED', 'REVERSED')
GROUP BY h.tenant_id, h.id
HAVING COUNT(l.id) = 0 OR COALESCE(SUM(l.debit_amount), 0) <> COALESCE(SUM(l.credit_amount), 0)
ORDER BY h.tenant_id, h.id
LIMIT $1`

func (c *Checker) unbalanced(ctx context.Context, q db.Querier) ([]Violation, error) {
	rows, err := q.Query(ctx, unbalancedSQL, maxReportedSubjects)
	if err != nil {
		return nil, fmt.Errorf("integrity: unbalanced: %w", err)
	}
	defer rows.Close()
	var out []Violation
	for rows.Next() {
		var tenant, id string
		var debit, credit money.Decimal
		if err := rows.Scan(&tenant, &id, &debit, &credit); err != nil {
			return nil, fmt.Errorf("integrity: scan unbalanced: %w", err)
		}
		out = append(out, Violation{
			Check:   CheckUnbalanced,
			Subject: tenant + "/" + id,
			Count:   1,
			Detail:  fmt.Sprintf("debit %s credit %s", debit, credit),
		})
	}
	return out, rows.Err()
}

// A deleted draft may leave last_number above the highest header, so only a
// header beyond the counter is drift.
const sequenceDriftSQL = `SELECT s.tenant_id, s.transaction_type, s.fiscal_year, s.last_number, COALESCE(MAX(h.sequence), 0)
FROM gl_sequences s
LEFT JOIN gl_headers h ON h.tenant_id = s.tenant_id AND h.transaction_type = s.transaction_type AND h.fiscal_year = s.fiscal_year
GROUP BY s.tenant_id, s.transaction_type, s.fiscal_year, s.last_number
HAVING COALESCE(MAX(h.sequence), 0) > s.last_number
ORDER BY s.tenant_id, s.transaction_type, s.fiscal_year
LIMIT $1`

func (c *Checker) sequenceDrift(ctx context.Context, q db.Querier) ([]Violation, error) {
	rows, err := q.Query(ctx, sequenceDriftSQL, maxReportedSubjects)
	if err != nil {
		return nil, fmt.Errorf("integrity: sequence drift: %w", err)
	}
	defer rows.Close()
	var out []Violation
	for rows.Next() {
		var tenant, txType string
		var year int
		var last, highest int64
		if err := rows.Scan(&tenant, &txType, &year, &last, &highest); err != nil {
			return nil, fmt.Errorf("integrity: scan sequence drift: %w", err)
		}
		out = append(out, Violation{
			Check:   CheckSequenceDrift,
			Subject: fmt.Sprintf("%s/%s/%d", tenant, txType, year),
			Count:   int(highest - last),
			Detail:  fmt.Sprintf("counter %d behind header %d", last, highest),
		})
	}
	return out, rows.Err()
}

const reversalLinkSQL = `SELECT h.tenant_id, h.id FROM gl_headers h
WHERE (h.status = 'REVERSED' AND h.reversed_by IS NULL)
   OR (h.reversed_by IS NOT NULL AND NOT EXISTS (
       SELECT 1 FROM gl_headers r WHERE r.tenant_id = h.tenant_id AND r.id = h.reversed_by AND r.reversal_of = h.id))
ORDER BY h.tenant_id, h.id
LIMIT $1`

func (c *Checker) reversalLinks(ctx context.Context, q db.Querier) ([]Violation, error) {
	rows, err := q.Query(ctx, reversalLinkSQL, maxReportedSubjects)
	if err != nil {
		return nil, fmt.Errorf("integrity: reversal links: %w", err)
	}
	defer rows.Close()
	var out []Violation
	for rows.Next() {
		var tenant, id string
		if err := rows.Scan(&tenant, &id); err != nil {
			return nil, fmt.Errorf("integrity: scan reversal link: %w", err)
		}
		out = append(out, Violation{Check: CheckReversalLink, Subject: tenant + "/" + id, Count: 1})
	}
	return out, rows.Err()
}
