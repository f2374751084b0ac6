package integrity

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

func expectOrphanCounts(mock pgxmock.PgxPoolIface, counts ...int) {
	for i, rel := range Relations {
		n := 0
		if i < len(counts) {
			n = counts[i]
		}
		mock.ExpectQuery(regexp.QuoteMeta(rel.orphanSQL())).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(n))
	}
}

func TestRunCleanLedger(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(db.ReadTxOptions)
	expectOrphanCounts(mock)
	mock.ExpectQuery(`FROM gl_headers h\s+LEFT JOIN gl_lines l`).WithArgs(maxReportedSubjects).
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id", "id", "debit", "credit"}))
	mock.ExpectQuery(`FROM gl_sequences s`).WithArgs(maxReportedSubjects).
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id", "transaction_type", "fiscal_year", "last_number", "max"}))
	mock.ExpectQuery(`h.reversed_by IS NULL`).WithArgs(maxReportedSubjects).
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id", "id"}))
	mock.ExpectCommit()

	checker := NewChecker(mock, nil)
	fixed := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	checker.WithNow(func() time.Time { return fixed })
	report, err := checker.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, fixed, report.StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunReportsViolations(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(db.ReadTxOptions)
	expectOrphanCounts(mock, 2)
	mock.ExpectQuery(`FROM gl_headers h\s+LEFT JOIN gl_lines l`).WithArgs(maxReportedSubjects).
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id", "id", "debit", "credit"}).AddRow("globex", "2025-01-000004", "10.000000", "9.000000"))
	mock.ExpectQuery(`FROM gl_sequences s`).WithArgs(maxReportedSubjects).
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id", "transaction_type", "fiscal_year", "last_number", "max"}).
			AddRow("acme", "BANK", 2025, int64(3), int64(5)))
	mock.ExpectQuery(`h.reversed_by IS NULL`).WithArgs(maxReportedSubjects).
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id", "id"}).AddRow("acme", "2025-01-000001"))
	mock.ExpectCommit()

	report, err := NewChecker(mock, nil).Run(context.Background())
	require.NoError(t, err)
	require.False(t, report.Clean())
	counts := report.Counts()
	assert.Equal(t, 2, counts[CheckOrphans])
	assert.Equal(t, 1, counts[CheckUnbalanced])
	assert.Equal(t, 2, counts[CheckSequenceDrift])
	assert.Equal(t, 1, counts[CheckReversalLink])
	assert.Equal(t, "line_header", report.Violations[0].Subject)
	assert.Equal(t, "globex/2025-01-000004", report.Violations[1].Subject)
	assert.Equal(t, "acme/BANK/2025", report.Violations[2].Subject)
	assert.Equal(t, "acme/2025-01-000001", report.Violations[3].Subject)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrphanSQLMatchesTenantForHeaderReferences(t *testing.T) {
	for _, rel := range Relations {
		sql := rel.orphanSQL()
		if rel.Parent == "gl_headers" {
			assert.Contains(t, sql, "p.tenant_id = c.tenant_id AND p.id = c.", rel.Name)
			continue
		}
		assert.NotContains(t, sql, "tenant_id", rel.Name)
	}
}

func TestRunRejectsNestedCheck(t *testing.T) {
	checker := NewChecker(nil, nil)
	_, err := checker.Run(WithGuard(context.Background()))
	require.ErrorIs(t, err, ErrCheckInProgress)
	require.NoError(t, GuardFrom(context.Background()))
}

func TestReconcileTransactionTypes(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	columns := []string{"code", "name", "period_flag"}
	mock.ExpectQuery(`SELECT code, name, period_flag FROM gl_transaction_types`).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("01", "MANUAL_GL", "is_open_gl").
			AddRow("02", "BANK", "is_open_bnk").
			AddRow("03", "RECEIVABLE", "is_open_rm").
			AddRow("04", "PAYABLE", "is_open_pm"))
	require.NoError(t, ReconcileTransactionTypes(context.Background(), mock))

	mock.ExpectQuery(`SELECT code, name, period_flag FROM gl_transaction_types`).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("01", "MANUAL_GL", "is_open_gl").
			AddRow("02", "BANK", "is_open_gl").
			AddRow("04", "PAYABLE", "is_open_pm").
			AddRow("05", "PAYMENT", "is_open_pm"))
	err = ReconcileTransactionTypes(context.Background(), mock)
	require.True(t, errors.Is(err, ErrTypeMismatch))
	assert.Contains(t, err.Error(), "missing 03 (RECEIVABLE)")
	assert.Contains(t, err.Error(), "unexpected 05 (PAYMENT)")
	assert.Contains(t, err.Error(), "code 02 is BANK/is_open_gl")
	assert.NoError(t, mock.ExpectationsWereMet())
}
