package sales

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

// Repository persists quotes and invoices in PostgreSQL.
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

// GetQuote loads a quote header with its lines.
func (r *Repository) GetQuote(ctx context.Context, tenantID, quoteID int64) (Quote, error) {
	return getQuote(ctx, r.pool, tenantID, quoteID, "")
}

// GetInvoice loads an invoice header with its lines.
func (r *Repository) GetInvoice(ctx context.Context, tenantID, invoiceID int64) (Invoice, error) {
	return getInvoice(ctx, r.pool, tenantID, invoiceID, "")
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

func (r *pgxTxRepository) InsertQuote(ctx context.Context, quote Quote) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO sales_quotes (tenant_id, number, client_id, status, vat_mode, quote_date, valid_until,
			subtotal_cents, vat_total_cents, total_cents, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		quote.TenantID, quote.Number, quote.ClientID, quote.Status, quote.VATMode,
		quote.QuoteDate, nullIfZeroTime(quote.ValidUntil),
		quote.Totals.SubTotalCents, quote.Totals.VATTotalCents, quote.Totals.TotalCents, quote.Note).
		Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: quote number %s", shared.ErrDuplicateNumber, quote.Number)
		}
		return 0, fmt.Errorf("sales: insert quote: %w", err)
	}
	return id, nil
}

func (r *pgxTxRepository) InsertQuoteLines(ctx context.Context, quoteID int64, lines []Line) error {
	for i := range lines {
		err := r.tx.QueryRow(ctx, `
			INSERT INTO sales_quote_lines (quote_id, stock_item_id, sku, name, unit, vat_rate_bps, taxable,
				quantity, unit_price_cents, discount_cents, total_cents, line_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id`,
			quoteID, lines[i].StockItemID, lines[i].SKU, lines[i].Name, lines[i].Unit,
			lines[i].VATRateBps, lines[i].Taxable, lines[i].Quantity, lines[i].UnitPriceCents,
			lines[i].DiscountCents, lines[i].TotalCents, lines[i].LineOrder).
			Scan(&lines[i].ID)
		if err != nil {
			return fmt.Errorf("sales: insert quote line: %w", err)
		}
	}
	return nil
}

func (r *pgxTxRepository) GetQuoteForUpdate(ctx context.Context, tenantID, quoteID int64) (Quote, error) {
	return getQuote(ctx, r.tx, tenantID, quoteID, " FOR UPDATE")
}

func (r *pgxTxRepository) UpdateQuote(ctx context.Context, quote Quote) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE sales_quotes
		SET status = $1, related_invoice_id = $2, updated_at = NOW()
		WHERE id = $3 AND tenant_id = $4`,
		quote.Status, quote.RelatedInvoiceID, quote.ID, quote.TenantID)
	if err != nil {
		return fmt.Errorf("sales: update quote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: quote %d", shared.ErrNotFound, quote.ID)
	}
	return nil
}

func (r *pgxTxRepository) InsertInvoice(ctx context.Context, invoice Invoice) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO sales_invoices (tenant_id, number, client_id, status, vat_mode, source_quote_id,
			issued_at, due_date, subtotal_cents, vat_total_cents, total_cents,
			amount_paid_cents, balance_due_cents, note)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		invoice.TenantID, invoice.Number, invoice.ClientID, invoice.Status, invoice.VATMode,
		invoice.SourceQuoteID, invoice.IssuedAt, invoice.DueDate,
		invoice.Totals.SubTotalCents, invoice.Totals.VATTotalCents, invoice.Totals.TotalCents,
		invoice.AmountPaidCents, invoice.BalanceDueCents, invoice.Note).
		Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: invoice number %s", shared.ErrDuplicateNumber, invoice.Number)
		}
		return 0, fmt.Errorf("sales: insert invoice: %w", err)
	}
	return id, nil
}

func (r *pgxTxRepository) InsertInvoiceLines(ctx context.Context, invoiceID int64, lines []Line) error {
	for i := range lines {
		err := r.tx.QueryRow(ctx, `
			INSERT INTO sales_invoice_lines (invoice_id, stock_item_id, sku, name, unit, vat_rate_bps, taxable,
				quantity, unit_price_cents, discount_cents, total_cents, line_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id`,
			invoiceID, lines[i].StockItemID, lines[i].SKU, lines[i].Name, lines[i].Unit,
			lines[i].VATRateBps, lines[i].Taxable, lines[i].Quantity, lines[i].UnitPriceCents,
			lines[i].DiscountCents, lines[i].TotalCents, lines[i].LineOrder).
			Scan(&lines[i].ID)
		if err != nil {
			return fmt.Errorf("sales: insert invoice line: %w", err)
		}
	}
	return nil
}

func (r *pgxTxRepository) GetInvoiceForUpdate(ctx context.Context, tenantID, invoiceID int64) (Invoice, error) {
	return getInvoice(ctx, r.tx, tenantID, invoiceID, " FOR UPDATE")
}

func (r *pgxTxRepository) UpdateInvoice(ctx context.Context, invoice Invoice) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE sales_invoices
		SET number = NULLIF($1, ''), status = $2, issued_at = $3, due_date = $4,
			amount_paid_cents = $5, balance_due_cents = $6, updated_at = NOW()
		WHERE id = $7 AND tenant_id = $8`,
		invoice.Number, invoice.Status, invoice.IssuedAt, invoice.DueDate,
		invoice.AmountPaidCents, invoice.BalanceDueCents, invoice.ID, invoice.TenantID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: invoice number %s", shared.ErrDuplicateNumber, invoice.Number)
		}
		return fmt.Errorf("sales: update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %d", shared.ErrNotFound, invoice.ID)
	}
	return nil
}

func (r *pgxTxRepository) SetInvoiceLineMovement(ctx context.Context, lineID, movementID int64) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE sales_invoice_lines SET consume_movement_id = $1 WHERE id = $2`,
		movementID, lineID)
	if err != nil {
		return fmt.Errorf("sales: set line movement: %w", err)
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
		return inventory.StockItem{}, fmt.Errorf("sales: get stock item: %w", err)
	}
	return item, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getQuote(ctx context.Context, q querier, tenantID, quoteID int64, locking string) (Quote, error) {
	var quote Quote
	err := q.QueryRow(ctx, `
		SELECT id, tenant_id, number, client_id, status, vat_mode, quote_date,
			COALESCE(valid_until, 'epoch'::timestamptz), subtotal_cents, vat_total_cents, total_cents,
			related_invoice_id, note, created_at, updated_at
		FROM sales_quotes
		WHERE tenant_id = $1 AND id = $2`+locking, tenantID, quoteID).
		Scan(&quote.ID, &quote.TenantID, &quote.Number, &quote.ClientID, &quote.Status, &quote.VATMode,
			&quote.QuoteDate, &quote.ValidUntil, &quote.Totals.SubTotalCents, &quote.Totals.VATTotalCents,
			&quote.Totals.TotalCents, &quote.RelatedInvoiceID, &quote.Note, &quote.CreatedAt, &quote.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Quote{}, fmt.Errorf("%w: quote %d", shared.ErrNotFound, quoteID)
	}
	if err != nil {
		return Quote{}, fmt.Errorf("sales: get quote: %w", err)
	}
	quote.Lines, err = scanLines(ctx, q, "sales_quote_lines", "quote_id", quoteID)
	if err != nil {
		return Quote{}, err
	}
	return quote, nil
}

func getInvoice(ctx context.Context, q querier, tenantID, invoiceID int64, locking string) (Invoice, error) {
	var invoice Invoice
	err := q.QueryRow(ctx, `
		SELECT id, tenant_id, COALESCE(number, ''), client_id, status, vat_mode, source_quote_id,
			issued_at, due_date, subtotal_cents, vat_total_cents, total_cents,
			amount_paid_cents, balance_due_cents, note, created_at, updated_at
		FROM sales_invoices
		WHERE tenant_id = $1 AND id = $2`+locking, tenantID, invoiceID).
		Scan(&invoice.ID, &invoice.TenantID, &invoice.Number, &invoice.ClientID, &invoice.Status,
			&invoice.VATMode, &invoice.SourceQuoteID, &invoice.IssuedAt, &invoice.DueDate,
			&invoice.Totals.SubTotalCents, &invoice.Totals.VATTotalCents, &invoice.Totals.TotalCents,
			&invoice.AmountPaidCents, &invoice.BalanceDueCents, &invoice.Note,
			&invoice.CreatedAt, &invoice.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, fmt.Errorf("%w: invoice %d", shared.ErrNotFound, invoiceID)
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("sales: get invoice: %w", err)
	}
	invoice.Lines, err = scanLines(ctx, q, "sales_invoice_lines", "invoice_id", invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	return invoice, nil
}

func scanLines(ctx context.Context, q querier, table, fk string, docID int64) ([]Line, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT id, stock_item_id, sku, name, unit, vat_rate_bps, taxable,
			quantity, unit_price_cents, discount_cents, total_cents, consume_movement_id, line_order
		FROM %s
		WHERE %s = $1
		ORDER BY line_order`, table, fk), docID)
	if err != nil {
		return nil, fmt.Errorf("sales: list lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.StockItemID, &line.SKU, &line.Name, &line.Unit,
			&line.VATRateBps, &line.Taxable, &line.Quantity, &line.UnitPriceCents,
			&line.DiscountCents, &line.TotalCents, &line.ConsumeMovementID, &line.LineOrder); err != nil {
			return nil, fmt.Errorf("sales: scan line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func nullIfZeroTime(t interface{ IsZero() bool }) any {
	if t.IsZero() {
		return nil
	}
	return t
}
