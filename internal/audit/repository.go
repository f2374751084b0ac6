package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository membaca audit_logs yang ditulis oleh shared.AuditLogger.
type Repository struct {
	pool db.Querier
}

// NewRepository membuat repository audit baru.
func NewRepository(pool db.Querier) *Repository {
	return &Repository{pool: pool}
}

const timelineSelect = `SELECT id, occurred_at, actor, action, entity, entity_id, meta
FROM audit_logs
WHERE tenant_id = $1
  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
  AND ($3::timestamptz IS NULL OR occurred_at < $3)
  AND ($4::text IS NULL OR actor = $4)
  AND ($5::text IS NULL OR entity = $5)
  AND ($6::text IS NULL OR entity_id = $6)
  AND ($7::text IS NULL OR action = $7)
ORDER BY occurred_at DESC, id DESC`

// Window returns one page of entries, newest first.
func (r *Repository) Window(ctx context.Context, f TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	args := append(filterArgs(f), limit, offset)
	return r.query(ctx, timelineSelect+" LIMIT $8 OFFSET $9", args...)
}

// All returns every matching entry.
func (r *Repository) All(ctx context.Context, f TimelineFilters) ([]TimelineRow, error) {
	return r.query(ctx, timelineSelect, filterArgs(f)...)
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline: %w", err)
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var (
			row  TimelineRow
			meta []byte
		)
		if err := rows.Scan(&row.ID, &row.At, &row.Actor, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &row.Meta); err != nil {
				return nil, fmt.Errorf("audit: decode meta of %d: %w", row.ID, err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// To is inclusive by date, so the bound passed to SQL is the following midnight.
func filterArgs(f TimelineFilters) []any {
	to := pgtype.Timestamptz{}
	if !f.To.IsZero() {
		to = toPgTime(f.To.AddDate(0, 0, 1))
	}
	return []any{
		f.TenantID,
		toPgTime(f.From),
		to,
		optionalText(f.Actor),
		optionalText(f.Entity),
		optionalText(f.EntityID),
		optionalText(f.Action),
	}
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
