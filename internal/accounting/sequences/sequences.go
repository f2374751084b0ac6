// Package sequences allocates gapless per-tenant transaction numbers.
package sequences

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Width is the zero padding of the sequence part of an identifier.
const Width = 6

// Key scopes a counter.
type Key struct {
	TenantID   string
	Type       shared.TransactionType
	FiscalYear int
}

// Validate checks that every part of the key is set.
func (k Key) Validate() error {
	if strings.TrimSpace(k.TenantID) == "" {
		return shared.ErrTenantRequired
	}
	if !k.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", shared.ErrValidation, k.Type)
	}
	if k.FiscalYear <= 0 {
		return fmt.Errorf("%w: fiscal year required", shared.ErrValidation)
	}
	return nil
}

// Allocator hands out numbers from gl_sequences. It holds no state; the caller's
// transaction carries the row lock until commit or rollback.
type Allocator struct{}

// NewAllocator constructs the allocator.
func NewAllocator() *Allocator {
	return &Allocator{}
}

const nextNumberSQL = `INSERT INTO gl_sequences (tenant_id, transaction_type, fiscal_year, last_number)
VALUES ($1, $2, $3, 1)
ON CONFLICT (tenant_id, transaction_type, fiscal_year)
DO UPDATE SET last_number = gl_sequences.last_number + 1, updated_at = NOW()
RETURNING last_number`

// NextNumber increments and returns the counter for key. It must run on the same
// transaction as the header insert it serves.
func (a *Allocator) NextNumber(ctx context.Context, q db.Querier, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	var next int64
	if err := q.QueryRow(ctx, nextNumberSQL, key.TenantID, string(key.Type), key.FiscalYear).Scan(&next); err != nil {
		return 0, fmt.Errorf("sequences: next number: %w", err)
	}
	return next, nil
}

// Current returns the last allocated number, 0 when the counter does not exist.
func (a *Allocator) Current(ctx context.Context, q db.Querier, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	var last int64
	err := q.QueryRow(ctx, `SELECT last_number FROM gl_sequences WHERE tenant_id=$1 AND transaction_type=$2 AND fiscal_year=$3`,
		key.TenantID, string(key.Type), key.FiscalYear).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("sequences: current: %w", err)
	}
	return last, nil
}

// FormatID renders {fiscal_year}-{type_code}-{sequence}, e.g. 2025-01-000001.
func FormatID(fiscalYear int, t shared.TransactionType, number int64) string {
	return fmt.Sprintf("%04d-%s-%0*d", fiscalYear, t.Code(), Width, number)
}

// ParseID splits an identifier into its parts.
func ParseID(id string) (int, shared.TransactionType, int64, error) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		return 0, "", 0, fmt.Errorf("%w: malformed transaction id %q", shared.ErrValidation, id)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || year <= 0 {
		return 0, "", 0, fmt.Errorf("%w: malformed fiscal year in %q", shared.ErrValidation, id)
	}
	t, ok := shared.TransactionTypeByCode(parts[1])
	if !ok {
		return 0, "", 0, fmt.Errorf("%w: unknown type code in %q", shared.ErrValidation, id)
	}
	number, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || number <= 0 {
		return 0, "", 0, fmt.Errorf("%w: malformed sequence in %q", shared.ErrValidation, id)
	}
	return year, t, number, nil
}
