package integrity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// ErrTypeMismatch reports drift between the transaction type enum and its table.
var ErrTypeMismatch = errors.New("integrity: transaction types out of sync")

// ReconcileTransactionTypes compares gl_transaction_types with the closed set
// compiled into the binary.
func ReconcileTransactionTypes(ctx context.Context, q db.Querier) error {
	rows, err := q.Query(ctx, `SELECT code, name, period_flag FROM gl_transaction_types ORDER BY code`)
	if err != nil {
		return fmt.Errorf("integrity: load transaction types: %w", err)
	}
	defer rows.Close()

	stored := map[string][2]string{}
	for rows.Next() {
		var code, name, flag string
		if err := rows.Scan(&code, &name, &flag); err != nil {
			return fmt.Errorf("integrity: scan transaction type: %w", err)
		}
		stored[code] = [2]string{name, flag}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("integrity: load transaction types: %w", err)
	}

	var problems []string
	for _, info := range shared.TransactionTypes() {
		row, ok := stored[info.Code]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("missing %s (%s)", info.Code, info.Type))
		case row[0] != string(info.Type) || row[1] != info.PeriodFlag:
			problems = append(problems, fmt.Sprintf("code %s is %s/%s, want %s/%s", info.Code, row[0], row[1], info.Type, info.PeriodFlag))
		}
		delete(stored, info.Code)
	}
	for code, row := range stored {
		problems = append(problems, fmt.Sprintf("unexpected %s (%s)", code, row[0]))
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrTypeMismatch, strings.Join(problems, "; "))
}
