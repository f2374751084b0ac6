package accounts

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

const accountColumns = `tenant_id, id, name, type, is_active, created_at, updated_at`

// Repository exposes the accounts table.
type Repository interface {
	List(ctx context.Context, tenantID string) ([]Account, error)
	FindByIDs(ctx context.Context, tenantID string, ids []string) ([]Account, error)
	Upsert(ctx context.Context, account Account) error
}

type repository struct {
	db db.Querier
}

// NewRepository constructs the pgx backed repository.
func NewRepository(q db.Querier) Repository {
	return &repository{db: q}
}

func (r *repository) List(ctx context.Context, tenantID string) ([]Account, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 ORDER BY id`, tenantID)
}

func (r *repository) FindByIDs(ctx context.Context, tenantID string, ids []string) ([]Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND id = ANY($2) ORDER BY id`, tenantID, ids)
}

func (r *repository) Upsert(ctx context.Context, a Account) error {
	_, err := r.db.Exec(ctx, `INSERT INTO accounts (tenant_id, id, name, type, is_active)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (tenant_id, id) DO UPDATE SET name=EXCLUDED.name, type=EXCLUDED.type, is_active=EXCLUDED.is_active, updated_at=NOW()`,
		a.TenantID, a.ID, a.Name, string(a.Type), a.IsActive)
	if err != nil {
		return fmt.Errorf("accounts: upsert: %w", err)
	}
	return nil
}

func (r *repository) query(ctx context.Context, sql string, args ...any) ([]Account, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("accounts: query: %w", err)
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		var typ string
		if err := rows.Scan(&a.TenantID, &a.ID, &a.Name, &typ, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("accounts: scan: %w", err)
		}
		a.Type = AccountType(typ)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
