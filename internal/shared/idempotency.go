package shared

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	pool db.Querier
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool db.Querier) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// CheckAndInsert ensures key uniqueness per tenant and module. q is the
// caller's transaction so a rolled back request frees its key.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, q db.Querier, tenantID, module, key, ref string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	if q == nil {
		q = s.pool
	}
	_, err := q.Exec(ctx, `INSERT INTO idempotency_keys (tenant_id, module, key, ref, created_at) VALUES ($1, $2, $3, $4, $5)`, tenantID, module, key, ref, time.Now())
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Lookup returns the reference stored against a key.
func (s *IdempotencyStore) Lookup(ctx context.Context, tenantID, module, key string) (string, error) {
	if s == nil {
		return "", errors.New("idempotency store not initialised")
	}
	var ref string
	err := s.pool.QueryRow(ctx, `SELECT ref FROM idempotency_keys WHERE tenant_id=$1 AND module=$2 AND key=$3`, tenantID, module, key).Scan(&ref)
	return ref, err
}

// Cleanup removes entries older than olderThan and returns how many were deleted.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
