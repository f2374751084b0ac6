package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Directory validates account identifiers and supplies their metadata.
type Directory struct {
	repo Repository
}

// NewDirectory constructs the directory.
func NewDirectory(repo Repository) *Directory {
	return &Directory{repo: repo}
}

// List returns the tenant's chart of accounts ordered by id.
func (d *Directory) List(ctx context.Context, tenantID string) ([]Account, error) {
	if tenantID == "" {
		return nil, shared.ErrTenantRequired
	}
	return d.repo.List(ctx, tenantID)
}

// Lookup resolves ids to accounts. Missing ids are absent from the result.
func (d *Directory) Lookup(ctx context.Context, tenantID string, ids []string) (map[string]Account, error) {
	if tenantID == "" {
		return nil, shared.ErrTenantRequired
	}
	found, err := d.repo.FindByIDs(ctx, tenantID, dedupe(ids))
	if err != nil {
		return nil, err
	}
	out := make(map[string]Account, len(found))
	for _, a := range found {
		out[a.ID] = a
	}
	return out, nil
}

// Validate reports the first id that is unknown or inactive for the tenant.
func (d *Directory) Validate(ctx context.Context, tenantID string, ids []string) (map[string]Account, error) {
	found, err := d.Lookup(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		a, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown account %q", shared.ErrValidation, id)
		}
		if !a.IsActive {
			return nil, fmt.Errorf("%w: account %q is inactive", shared.ErrValidation, id)
		}
	}
	return found, nil
}

// Save registers or updates an account.
func (d *Directory) Save(ctx context.Context, a Account) error {
	a.ID = strings.TrimSpace(a.ID)
	if a.TenantID == "" {
		return shared.ErrTenantRequired
	}
	if a.ID == "" || strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: account id and name required", shared.ErrValidation)
	}
	if !a.Type.Valid() {
		return fmt.Errorf("%w: unknown account type %q", shared.ErrValidation, a.Type)
	}
	return d.repo.Upsert(ctx, a)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
