package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewPgxTxRepository(tx))
	})
}

// PgxTxRepository implements TxRepository over an open pgx transaction.
// Document modules construct one over their own transaction so ledger
// writes share the document's atomic unit of work.
type PgxTxRepository struct {
	tx pgx.Tx
}

// NewPgxTxRepository binds the ledger repository to an open transaction.
func NewPgxTxRepository(tx pgx.Tx) *PgxTxRepository {
	return &PgxTxRepository{tx: tx}
}

func (r *PgxTxRepository) GetStockItemForUpdate(ctx context.Context, tenantID, stockItemID int64) (StockItem, error) {
	var item StockItem
	err := r.tx.QueryRow(ctx, `SELECT id, tenant_id, sku, name, unit, vat_rate_bps, vat_exempt, track_inventory,
	on_hand, reserved, reorder_level, cost_price_cents, average_cost_cents, updated_at
FROM stock_items WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, stockItemID).
		Scan(&item.ID, &item.TenantID, &item.SKU, &item.Name, &item.Unit, &item.VATRateBps, &item.VATExempt,
			&item.TrackInventory, &item.OnHand, &item.Reserved, &item.ReorderLevel,
			&item.CostPriceCents, &item.AverageCostCents, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, fmt.Errorf("%w: stock item %d", shared.ErrNotFound, stockItemID)
		}
		return StockItem{}, err
	}
	return item, nil
}

func (r *PgxTxRepository) UpdateStockLevels(ctx context.Context, item StockItem) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_items
SET on_hand=$3, average_cost_cents=$4, cost_price_cents=$5, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, item.TenantID, item.ID, item.OnHand, item.AverageCostCents, item.CostPriceCents)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: stock item %d", shared.ErrNotFound, item.ID)
	}
	return nil
}

func (r *PgxTxRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movements
(tenant_id, stock_item_id, source_type, source_id, movement_type, quantity, unit_cost_cents,
 quantity_before, quantity_after, cost_before_cents, cost_after_cents, reverses_id, needs_review, note, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16) RETURNING id`,
		m.TenantID, m.StockItemID, string(m.SourceType), m.SourceID, string(m.MovementType), m.Quantity, m.UnitCostCents,
		m.QuantityBefore, m.QuantityAfter, m.CostBefore, m.CostAfter, m.ReversesID, m.NeedsReview, m.Note, nullInt(m.ActorID), m.CreatedAt).Scan(&id)
	return id, err
}

func (r *PgxTxRepository) GetMovement(ctx context.Context, tenantID, movementID int64) (Movement, error) {
	return scanMovement(r.tx.QueryRow(ctx, movementSelect+` WHERE tenant_id=$1 AND id=$2`, tenantID, movementID), movementID)
}

func (r *PgxTxRepository) HasOutboundSince(ctx context.Context, tenantID, stockItemID, movementID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM inventory_movements
	WHERE tenant_id=$1 AND stock_item_id=$2 AND id > $3 AND movement_type='OUT' AND reverses_id IS NULL
)`, tenantID, stockItemID, movementID).Scan(&exists)
	return exists, err
}

const movementSelect = `SELECT id, tenant_id, stock_item_id, source_type, source_id, movement_type, quantity, unit_cost_cents,
 quantity_before, quantity_after, cost_before_cents, cost_after_cents, reverses_id, needs_review, note, COALESCE(actor_id, 0), created_at
FROM inventory_movements`

func scanMovement(row pgx.Row, movementID int64) (Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.TenantID, &m.StockItemID, &m.SourceType, &m.SourceID, &m.MovementType, &m.Quantity,
		&m.UnitCostCents, &m.QuantityBefore, &m.QuantityAfter, &m.CostBefore, &m.CostAfter, &m.ReversesID,
		&m.NeedsReview, &m.Note, &m.ActorID, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, fmt.Errorf("%w: movement %d", shared.ErrNotFound, movementID)
		}
		return Movement{}, err
	}
	return m, nil
}

// GetStockItem loads an item without locking.
func (r *Repository) GetStockItem(ctx context.Context, tenantID, stockItemID int64) (StockItem, error) {
	var item StockItem
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, sku, name, unit, vat_rate_bps, vat_exempt, track_inventory,
	on_hand, reserved, reorder_level, cost_price_cents, average_cost_cents, updated_at
FROM stock_items WHERE tenant_id=$1 AND id=$2`, tenantID, stockItemID).
		Scan(&item.ID, &item.TenantID, &item.SKU, &item.Name, &item.Unit, &item.VATRateBps, &item.VATExempt,
			&item.TrackInventory, &item.OnHand, &item.Reserved, &item.ReorderLevel,
			&item.CostPriceCents, &item.AverageCostCents, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, fmt.Errorf("%w: stock item %d", shared.ErrNotFound, stockItemID)
		}
		return StockItem{}, err
	}
	return item, nil
}

// ListMovements returns the item's ledger rows oldest first.
func (r *Repository) ListMovements(ctx context.Context, tenantID int64, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, movementSelect+`
WHERE tenant_id=$1 AND stock_item_id=$2
  AND created_at BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY id ASC
LIMIT $5`, tenantID, filter.StockItemID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

// ListNeedsReview returns movements flagged for manual review.
func (r *Repository) ListNeedsReview(ctx context.Context, tenantID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, movementSelect+`
WHERE tenant_id=$1 AND needs_review
ORDER BY id ASC
LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.TenantID, &m.StockItemID, &m.SourceType, &m.SourceID, &m.MovementType,
			&m.Quantity, &m.UnitCostCents, &m.QuantityBefore, &m.QuantityAfter, &m.CostBefore, &m.CostAfter,
			&m.ReversesID, &m.NeedsReview, &m.Note, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
