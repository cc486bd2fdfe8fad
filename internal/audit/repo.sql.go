package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the audit_logs table written by shared.AuditLogger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TimelineWindow returns up to limit entries matching the filters,
// newest first.
func (r *Repository) TimelineWindow(ctx context.Context, tenantID int64, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE tenant_id = $1`)
	args := []any{tenantID}

	appendFilter := func(clause, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		args = append(args, strings.TrimSpace(value))
		fmt.Fprintf(&sb, " AND %s = $%d", clause, len(args))
	}
	appendFilter("entity", filters.Entity)
	appendFilter("entity_id", filters.EntityID)
	appendFilter("action", filters.Action)
	if !filters.From.IsZero() {
		args = append(args, filters.From)
		fmt.Fprintf(&sb, " AND occurred_at >= $%d", len(args))
	}
	if !filters.To.IsZero() {
		args = append(args, filters.To)
		fmt.Fprintf(&sb, " AND occurred_at < $%d", len(args))
	}
	args = append(args, limit, offset)
	fmt.Fprintf(&sb, " ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline query: %w", err)
	}
	defer rows.Close()

	var result []TimelineRow
	for rows.Next() {
		var row TimelineRow
		var meta []byte
		if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, fmt.Errorf("audit: scan timeline: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &row.Meta)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
