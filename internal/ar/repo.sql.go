package ar

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists customer payments in PostgreSQL.
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

// GetPayment loads a payment with its allocations.
func (r *Repository) GetPayment(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	return getPayment(ctx, r.pool, tenantID, paymentID, "")
}

type pgxTxRepository struct {
	tx pgx.Tx
}

func (r *pgxTxRepository) Counters() sequence.CounterStore {
	return sequence.NewPgxStore(r.tx)
}

func (r *pgxTxRepository) InsertPayment(ctx context.Context, payment Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO customer_payments (tenant_id, number, client_id, status, amount_cents,
			allocated_cents, unallocated_cents, method, reference, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		payment.TenantID, payment.Number, payment.ClientID, payment.Status, payment.AmountCents,
		payment.AllocatedCents, payment.UnallocatedCents, payment.Method, payment.Reference,
		payment.ReceivedAt).
		Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: payment number %s", shared.ErrDuplicateNumber, payment.Number)
		}
		return 0, fmt.Errorf("ar: insert payment: %w", err)
	}
	return id, nil
}

func (r *pgxTxRepository) InsertAllocations(ctx context.Context, paymentID int64, allocations []Allocation) error {
	for i := range allocations {
		err := r.tx.QueryRow(ctx, `
			INSERT INTO customer_payment_allocations (payment_id, invoice_id, amount_cents)
			VALUES ($1, $2, $3)
			RETURNING id`,
			paymentID, allocations[i].InvoiceID, allocations[i].AmountCents).
			Scan(&allocations[i].ID)
		if err != nil {
			return fmt.Errorf("ar: insert allocation: %w", err)
		}
	}
	return nil
}

func (r *pgxTxRepository) GetPaymentForUpdate(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	return getPayment(ctx, r.tx, tenantID, paymentID, " FOR UPDATE")
}

func (r *pgxTxRepository) UpdatePayment(ctx context.Context, payment Payment) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE customer_payments
		SET status = $1, allocated_cents = $2, unallocated_cents = $3, updated_at = NOW()
		WHERE id = $4 AND tenant_id = $5`,
		payment.Status, payment.AllocatedCents, payment.UnallocatedCents, payment.ID, payment.TenantID)
	if err != nil {
		return fmt.Errorf("ar: update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %d", shared.ErrNotFound, payment.ID)
	}
	return nil
}

func (r *pgxTxRepository) GetInvoiceBalanceForUpdate(ctx context.Context, tenantID, invoiceID int64) (InvoiceBalance, error) {
	var balance InvoiceBalance
	err := r.tx.QueryRow(ctx, `
		SELECT id, client_id, status, amount_paid_cents, balance_due_cents
		FROM sales_invoices
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE`, tenantID, invoiceID).
		Scan(&balance.ID, &balance.ClientID, &balance.Status, &balance.AmountPaidCents, &balance.BalanceDueCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return InvoiceBalance{}, fmt.Errorf("%w: invoice %d", shared.ErrNotFound, invoiceID)
	}
	if err != nil {
		return InvoiceBalance{}, fmt.Errorf("ar: get invoice balance: %w", err)
	}
	return balance, nil
}

func (r *pgxTxRepository) UpdateInvoiceBalance(ctx context.Context, tenantID int64, balance InvoiceBalance) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE sales_invoices
		SET status = $1, amount_paid_cents = $2, balance_due_cents = $3, updated_at = NOW()
		WHERE id = $4 AND tenant_id = $5`,
		balance.Status, balance.AmountPaidCents, balance.BalanceDueCents, balance.ID, tenantID)
	if err != nil {
		return fmt.Errorf("ar: update invoice balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %d", shared.ErrNotFound, balance.ID)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getPayment(ctx context.Context, q querier, tenantID, paymentID int64, locking string) (Payment, error) {
	var payment Payment
	err := q.QueryRow(ctx, `
		SELECT id, tenant_id, number, client_id, status, amount_cents,
			allocated_cents, unallocated_cents, method, reference, received_at,
			created_at, updated_at
		FROM customer_payments
		WHERE tenant_id = $1 AND id = $2`+locking, tenantID, paymentID).
		Scan(&payment.ID, &payment.TenantID, &payment.Number, &payment.ClientID, &payment.Status,
			&payment.AmountCents, &payment.AllocatedCents, &payment.UnallocatedCents,
			&payment.Method, &payment.Reference, &payment.ReceivedAt,
			&payment.CreatedAt, &payment.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, fmt.Errorf("%w: payment %d", shared.ErrNotFound, paymentID)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("ar: get payment: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, payment_id, invoice_id, amount_cents, created_at
		FROM customer_payment_allocations
		WHERE payment_id = $1
		ORDER BY id`, paymentID)
	if err != nil {
		return Payment{}, fmt.Errorf("ar: list allocations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var alloc Allocation
		if err := rows.Scan(&alloc.ID, &alloc.PaymentID, &alloc.InvoiceID, &alloc.AmountCents, &alloc.CreatedAt); err != nil {
			return Payment{}, fmt.Errorf("ar: scan allocation: %w", err)
		}
		payment.Allocations = append(payment.Allocations, alloc)
	}
	return payment, rows.Err()
}
