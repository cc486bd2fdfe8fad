package ap

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

// Repository persists supplier payments in PostgreSQL.
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
		INSERT INTO supplier_payments (tenant_id, number, supplier_id, status, amount_cents,
			allocated_cents, unallocated_cents, method, reference, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		payment.TenantID, payment.Number, payment.SupplierID, payment.Status, payment.AmountCents,
		payment.AllocatedCents, payment.UnallocatedCents, payment.Method, payment.Reference,
		payment.PaidAt).
		Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: payment number %s", shared.ErrDuplicateNumber, payment.Number)
		}
		return 0, fmt.Errorf("ap: insert payment: %w", err)
	}
	return id, nil
}

func (r *pgxTxRepository) InsertAllocations(ctx context.Context, paymentID int64, allocations []Allocation) error {
	for i := range allocations {
		err := r.tx.QueryRow(ctx, `
			INSERT INTO supplier_payment_allocations (payment_id, bill_id, amount_cents)
			VALUES ($1, $2, $3)
			RETURNING id`,
			paymentID, allocations[i].BillID, allocations[i].AmountCents).
			Scan(&allocations[i].ID)
		if err != nil {
			return fmt.Errorf("ap: insert allocation: %w", err)
		}
	}
	return nil
}

func (r *pgxTxRepository) GetPaymentForUpdate(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	return getPayment(ctx, r.tx, tenantID, paymentID, " FOR UPDATE")
}

func (r *pgxTxRepository) UpdatePayment(ctx context.Context, payment Payment) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE supplier_payments
		SET status = $1, allocated_cents = $2, unallocated_cents = $3, updated_at = NOW()
		WHERE id = $4 AND tenant_id = $5`,
		payment.Status, payment.AllocatedCents, payment.UnallocatedCents, payment.ID, payment.TenantID)
	if err != nil {
		return fmt.Errorf("ap: update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %d", shared.ErrNotFound, payment.ID)
	}
	return nil
}

func (r *pgxTxRepository) GetBillBalanceForUpdate(ctx context.Context, tenantID, billID int64) (BillBalance, error) {
	var balance BillBalance
	err := r.tx.QueryRow(ctx, `
		SELECT id, supplier_id, status, paid_cents, balance_due_cents
		FROM supplier_bills
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE`, tenantID, billID).
		Scan(&balance.ID, &balance.SupplierID, &balance.Status, &balance.PaidCents, &balance.BalanceDueCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return BillBalance{}, fmt.Errorf("%w: bill %d", shared.ErrNotFound, billID)
	}
	if err != nil {
		return BillBalance{}, fmt.Errorf("ap: get bill balance: %w", err)
	}
	return balance, nil
}

func (r *pgxTxRepository) UpdateBillBalance(ctx context.Context, tenantID int64, balance BillBalance) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE supplier_bills
		SET status = $1, paid_cents = $2, balance_due_cents = $3, updated_at = NOW()
		WHERE id = $4 AND tenant_id = $5`,
		balance.Status, balance.PaidCents, balance.BalanceDueCents, balance.ID, tenantID)
	if err != nil {
		return fmt.Errorf("ap: update bill balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: bill %d", shared.ErrNotFound, balance.ID)
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
		SELECT id, tenant_id, number, supplier_id, status, amount_cents,
			allocated_cents, unallocated_cents, method, reference, paid_at,
			created_at, updated_at
		FROM supplier_payments
		WHERE tenant_id = $1 AND id = $2`+locking, tenantID, paymentID).
		Scan(&payment.ID, &payment.TenantID, &payment.Number, &payment.SupplierID, &payment.Status,
			&payment.AmountCents, &payment.AllocatedCents, &payment.UnallocatedCents,
			&payment.Method, &payment.Reference, &payment.PaidAt,
			&payment.CreatedAt, &payment.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, fmt.Errorf("%w: payment %d", shared.ErrNotFound, paymentID)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("ap: get payment: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, payment_id, bill_id, amount_cents, created_at
		FROM supplier_payment_allocations
		WHERE payment_id = $1
		ORDER BY id`, paymentID)
	if err != nil {
		return Payment{}, fmt.Errorf("ap: list allocations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var alloc Allocation
		if err := rows.Scan(&alloc.ID, &alloc.PaymentID, &alloc.BillID, &alloc.AmountCents, &alloc.CreatedAt); err != nil {
			return Payment{}, fmt.Errorf("ap: scan allocation: %w", err)
		}
		payment.Allocations = append(payment.Allocations, alloc)
	}
	return payment, rows.Err()
}
