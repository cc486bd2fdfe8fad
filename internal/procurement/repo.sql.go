package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists vouchers and bills in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Repository backed by pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgxTxRepository{tx: tx})
	})
}

// GetGRV loads a voucher header with its lines.
func (r *Repository) GetGRV(ctx context.Context, tenantID, grvID int64) (GRV, error) {
	return getGRV(ctx, r.pool, tenantID, grvID, "")
}

// GetBill loads a bill header with its lines.
func (r *Repository) GetBill(ctx context.Context, tenantID, billID int64) (SupplierBill, error) {
	return getBill(ctx, r.pool, tenantID, billID, "")
}

// ListUnbilledGRVs lists posted vouchers of a supplier not yet referenced
// by a bill, header only.
func (r *Repository) ListUnbilledGRVs(ctx context.Context, tenantID, supplierID int64) ([]GRV, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, number, supplier_id, status, vat_mode, reference,
			subtotal_cents, vat_total_cents, total_cents, bill_id,
			posted_at, posted_by, note, created_at, updated_at
		FROM grvs
		WHERE tenant_id = $1 AND supplier_id = $2 AND status = $3 AND bill_id IS NULL
		ORDER BY id`, tenantID, supplierID, GRVStatusPosted)
	if err != nil {
		return nil, fmt.Errorf("procurement: list unbilled grvs: %w", err)
	}
	defer rows.Close()

	var grvs []GRV
	for rows.Next() {
		grv, err := scanGRVRow(rows)
		if err != nil {
			return nil, err
		}
		grvs = append(grvs, grv)
	}
	return grvs, rows.Err()
}

type pgxTxRepository struct {
	tx pgx.Tx
}

func (r *pgxTxRepository) Inventory() inventory.TxRepository {
	return inventory.NewPgxTxRepository(r.tx)
}

func (r *pgxTxRepository) Counters() sequence.CounterStore {
	return sequence.NewPgxStore(r.tx)
}

func (r *pgxTxRepository) InsertGRV(ctx context.Context, grv GRV) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO grvs (tenant_id, number, supplier_id, status, vat_mode, reference,
			subtotal_cents, vat_total_cents, total_cents, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		grv.TenantID, grv.Number, grv.SupplierID, grv.Status, grv.VATMode, grv.Reference,
		grv.Totals.SubTotalCents, grv.Totals.VATTotalCents, grv.Totals.TotalCents, grv.Note).
		Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: grv number %s", shared.ErrDuplicateNumber, grv.Number)
		}
		return 0, fmt.Errorf("procurement: insert grv: %w", err)
	}
	return id, nil
}

func (r *pgxTxRepository) InsertGRVLines(ctx context.Context, grvID int64, lines []GRVLine) error {
	for i := range lines {
		err := r.tx.QueryRow(ctx, `
			INSERT INTO grv_lines (grv_id, stock_item_id, sku, name, unit, vat_rate_bps, taxable,
				received_qty, unit_cost_cents, discount_type, discount_value, discount_cents,
				subtotal_cents, vat_amount_cents, total_cents, line_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id`,
			grvID, lines[i].StockItemID, lines[i].SKU, lines[i].Name, lines[i].Unit,
			lines[i].VATRateBps, lines[i].Taxable, lines[i].ReceivedQty, lines[i].UnitCostCents,
			lines[i].DiscountType, lines[i].DiscountValue, lines[i].DiscountCents,
			lines[i].SubTotalCents, lines[i].VATAmountCents, lines[i].TotalCents, lines[i].LineOrder).
			Scan(&lines[i].ID)
		if err != nil {
			return fmt.Errorf("procurement: insert grv line: %w", err)
		}
	}
	return nil
}

func (r *pgxTxRepository) DeleteGRVLines(ctx context.Context, grvID int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM grv_lines WHERE grv_id = $1`, grvID); err != nil {
		return fmt.Errorf("procurement: delete grv lines: %w", err)
	}
	return nil
}

func (r *pgxTxRepository) GetGRVForUpdate(ctx context.Context, tenantID, grvID int64) (GRV, error) {
	return getGRV(ctx, r.tx, tenantID, grvID, " FOR UPDATE")
}

func (r *pgxTxRepository) UpdateGRV(ctx context.Context, grv GRV) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE grvs
		SET status = $1, subtotal_cents = $2, vat_total_cents = $3, total_cents = $4,
			bill_id = $5, posted_at = $6, posted_by = $7, updated_at = NOW()
		WHERE id = $8 AND tenant_id = $9`,
		grv.Status, grv.Totals.SubTotalCents, grv.Totals.VATTotalCents, grv.Totals.TotalCents,
		grv.BillID, grv.PostedAt, grv.PostedBy, grv.ID, grv.TenantID)
	if err != nil {
		return fmt.Errorf("procurement: update grv: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: grv %d", shared.ErrNotFound, grv.ID)
	}
	return nil
}

func (r *pgxTxRepository) SetGRVLineMovement(ctx context.Context, lineID, movementID int64) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE grv_lines SET receive_movement_id = $1 WHERE id = $2`,
		movementID, lineID)
	if err != nil {
		return fmt.Errorf("procurement: set line movement: %w", err)
	}
	return nil
}

func (r *pgxTxRepository) InsertBill(ctx context.Context, bill SupplierBill) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO supplier_bills (tenant_id, number, supplier_id, status, vat_mode,
			subtotal_cents, vat_total_cents, total_cents, paid_cents, balance_due_cents,
			due_date, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		bill.TenantID, bill.Number, bill.SupplierID, bill.Status, bill.VATMode,
		bill.Totals.SubTotalCents, bill.Totals.VATTotalCents, bill.Totals.TotalCents,
		bill.PaidCents, bill.BalanceDueCents, bill.DueDate, bill.Note).
		Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: bill number %s", shared.ErrDuplicateNumber, bill.Number)
		}
		return 0, fmt.Errorf("procurement: insert bill: %w", err)
	}
	return id, nil
}

func (r *pgxTxRepository) InsertBillLines(ctx context.Context, billID int64, lines []BillLine) error {
	for i := range lines {
		err := r.tx.QueryRow(ctx, `
			INSERT INTO supplier_bill_lines (bill_id, grv_id, stock_item_id, sku, name, unit,
				vat_rate_bps, taxable, quantity, unit_cost_cents,
				subtotal_cents, vat_amount_cents, total_cents, line_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id`,
			billID, lines[i].GRVID, lines[i].StockItemID, lines[i].SKU, lines[i].Name, lines[i].Unit,
			lines[i].VATRateBps, lines[i].Taxable, lines[i].Quantity, lines[i].UnitCostCents,
			lines[i].SubTotalCents, lines[i].VATAmountCents, lines[i].TotalCents, lines[i].LineOrder).
			Scan(&lines[i].ID)
		if err != nil {
			return fmt.Errorf("procurement: insert bill line: %w", err)
		}
	}
	return nil
}

func (r *pgxTxRepository) GetBillForUpdate(ctx context.Context, tenantID, billID int64) (SupplierBill, error) {
	return getBill(ctx, r.tx, tenantID, billID, " FOR UPDATE")
}

func (r *pgxTxRepository) UpdateBill(ctx context.Context, bill SupplierBill) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE supplier_bills
		SET status = $1, paid_cents = $2, balance_due_cents = $3, posted_at = $4,
			void_warning = $5, updated_at = NOW()
		WHERE id = $6 AND tenant_id = $7`,
		bill.Status, bill.PaidCents, bill.BalanceDueCents, bill.PostedAt,
		bill.VoidWarning, bill.ID, bill.TenantID)
	if err != nil {
		return fmt.Errorf("procurement: update bill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: bill %d", shared.ErrNotFound, bill.ID)
	}
	return nil
}

func (r *pgxTxRepository) GetStockItem(ctx context.Context, tenantID, stockItemID int64) (inventory.StockItem, error) {
	var item inventory.StockItem
	err := r.tx.QueryRow(ctx, `
		SELECT id, tenant_id, sku, name, unit, vat_rate_bps, vat_exempt, track_inventory,
			on_hand, reserved, reorder_level, cost_price_cents, average_cost_cents, updated_at
		FROM stock_items
		WHERE tenant_id = $1 AND id = $2`, tenantID, stockItemID).
		Scan(&item.ID, &item.TenantID, &item.SKU, &item.Name, &item.Unit, &item.VATRateBps,
			&item.VATExempt, &item.TrackInventory, &item.OnHand, &item.Reserved, &item.ReorderLevel,
			&item.CostPriceCents, &item.AverageCostCents, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.StockItem{}, fmt.Errorf("%w: stock item %d", shared.ErrNotFound, stockItemID)
	}
	if err != nil {
		return inventory.StockItem{}, fmt.Errorf("procurement: get stock item: %w", err)
	}
	return item, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getGRV(ctx context.Context, q querier, tenantID, grvID int64, locking string) (GRV, error) {
	row := q.QueryRow(ctx, `
		SELECT id, tenant_id, number, supplier_id, status, vat_mode, reference,
			subtotal_cents, vat_total_cents, total_cents, bill_id,
			posted_at, posted_by, note, created_at, updated_at
		FROM grvs
		WHERE tenant_id = $1 AND id = $2`+locking, tenantID, grvID)
	grv, err := scanGRVRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return GRV{}, fmt.Errorf("%w: grv %d", shared.ErrNotFound, grvID)
	}
	if err != nil {
		return GRV{}, fmt.Errorf("procurement: get grv: %w", err)
	}
	grv.Lines, err = scanGRVLines(ctx, q, grvID)
	if err != nil {
		return GRV{}, err
	}
	return grv, nil
}

func scanGRVRow(row pgx.Row) (GRV, error) {
	var grv GRV
	err := row.Scan(&grv.ID, &grv.TenantID, &grv.Number, &grv.SupplierID, &grv.Status, &grv.VATMode,
		&grv.Reference, &grv.Totals.SubTotalCents, &grv.Totals.VATTotalCents, &grv.Totals.TotalCents,
		&grv.BillID, &grv.PostedAt, &grv.PostedBy, &grv.Note, &grv.CreatedAt, &grv.UpdatedAt)
	return grv, err
}

func scanGRVLines(ctx context.Context, q querier, grvID int64) ([]GRVLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, stock_item_id, sku, name, unit, vat_rate_bps, taxable,
			received_qty, unit_cost_cents, discount_type, discount_value, discount_cents,
			subtotal_cents, vat_amount_cents, total_cents, receive_movement_id, line_order
		FROM grv_lines
		WHERE grv_id = $1
		ORDER BY line_order`, grvID)
	if err != nil {
		return nil, fmt.Errorf("procurement: list grv lines: %w", err)
	}
	defer rows.Close()

	var lines []GRVLine
	for rows.Next() {
		var line GRVLine
		if err := rows.Scan(&line.ID, &line.StockItemID, &line.SKU, &line.Name, &line.Unit,
			&line.VATRateBps, &line.Taxable, &line.ReceivedQty, &line.UnitCostCents,
			&line.DiscountType, &line.DiscountValue, &line.DiscountCents,
			&line.SubTotalCents, &line.VATAmountCents, &line.TotalCents,
			&line.ReceiveMovementID, &line.LineOrder); err != nil {
			return nil, fmt.Errorf("procurement: scan grv line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func getBill(ctx context.Context, q querier, tenantID, billID int64, locking string) (SupplierBill, error) {
	var bill SupplierBill
	err := q.QueryRow(ctx, `
		SELECT id, tenant_id, number, supplier_id, status, vat_mode,
			subtotal_cents, vat_total_cents, total_cents, paid_cents, balance_due_cents,
			due_date, posted_at, COALESCE(void_warning, ''), note, created_at, updated_at
		FROM supplier_bills
		WHERE tenant_id = $1 AND id = $2`+locking, tenantID, billID).
		Scan(&bill.ID, &bill.TenantID, &bill.Number, &bill.SupplierID, &bill.Status, &bill.VATMode,
			&bill.Totals.SubTotalCents, &bill.Totals.VATTotalCents, &bill.Totals.TotalCents,
			&bill.PaidCents, &bill.BalanceDueCents, &bill.DueDate, &bill.PostedAt,
			&bill.VoidWarning, &bill.Note, &bill.CreatedAt, &bill.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SupplierBill{}, fmt.Errorf("%w: bill %d", shared.ErrNotFound, billID)
	}
	if err != nil {
		return SupplierBill{}, fmt.Errorf("procurement: get bill: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, grv_id, stock_item_id, sku, name, unit, vat_rate_bps, taxable,
			quantity, unit_cost_cents, subtotal_cents, vat_amount_cents, total_cents, line_order
		FROM supplier_bill_lines
		WHERE bill_id = $1
		ORDER BY line_order`, billID)
	if err != nil {
		return SupplierBill{}, fmt.Errorf("procurement: list bill lines: %w", err)
	}
	defer rows.Close()

	grvSeen := map[int64]bool{}
	for rows.Next() {
		var line BillLine
		if err := rows.Scan(&line.ID, &line.GRVID, &line.StockItemID, &line.SKU, &line.Name,
			&line.Unit, &line.VATRateBps, &line.Taxable, &line.Quantity, &line.UnitCostCents,
			&line.SubTotalCents, &line.VATAmountCents, &line.TotalCents, &line.LineOrder); err != nil {
			return SupplierBill{}, fmt.Errorf("procurement: scan bill line: %w", err)
		}
		bill.Lines = append(bill.Lines, line)
		if !grvSeen[line.GRVID] {
			grvSeen[line.GRVID] = true
			bill.GRVIDs = append(bill.GRVIDs, line.GRVID)
		}
	}
	return bill, rows.Err()
}
