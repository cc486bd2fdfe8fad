package ar

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryCounters struct {
	next map[string]int64
}

func (c *memoryCounters) Increment(ctx context.Context, tenantID int64, key string) (sequence.Counter, error) {
	if c.next == nil {
		c.next = map[string]int64{}
	}
	mapKey := fmt.Sprintf("%d/%s", tenantID, key)
	c.next[mapKey]++
	return sequence.Counter{TenantID: tenantID, Key: key, NextNumber: c.next[mapKey]}, nil
}

type memoryRepo struct {
	counters *memoryCounters
	payments map[int64]Payment
	invoices map[int64]InvoiceBalance
	nextID   int64
}

func newMemoryRepo(invoices ...InvoiceBalance) *memoryRepo {
	repo := &memoryRepo{
		counters: &memoryCounters{},
		payments: make(map[int64]Payment),
		invoices: make(map[int64]InvoiceBalance),
	}
	for _, inv := range invoices {
		repo.invoices[inv.ID] = inv
	}
	return repo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	paymentsSnap := make(map[int64]Payment, len(r.payments))
	for id, p := range r.payments {
		p.Allocations = append([]Allocation(nil), p.Allocations...)
		paymentsSnap[id] = p
	}
	invoicesSnap := make(map[int64]InvoiceBalance, len(r.invoices))
	for id, inv := range r.invoices {
		invoicesSnap[id] = inv
	}
	if err := fn(ctx, r); err != nil {
		r.payments = paymentsSnap
		r.invoices = invoicesSnap
		return err
	}
	return nil
}

func (r *memoryRepo) Counters() sequence.CounterStore { return r.counters }

func (r *memoryRepo) InsertPayment(ctx context.Context, payment Payment) (int64, error) {
	r.nextID++
	payment.ID = r.nextID
	r.payments[payment.ID] = payment
	return payment.ID, nil
}

func (r *memoryRepo) InsertAllocations(ctx context.Context, paymentID int64, allocations []Allocation) error {
	payment := r.payments[paymentID]
	for i := range allocations {
		r.nextID++
		allocations[i].ID = r.nextID
	}
	payment.Allocations = append(payment.Allocations, allocations...)
	r.payments[paymentID] = payment
	return nil
}

func (r *memoryRepo) GetPaymentForUpdate(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	payment, ok := r.payments[paymentID]
	if !ok || payment.TenantID != tenantID {
		return Payment{}, fmt.Errorf("%w: payment %d", shared.ErrNotFound, paymentID)
	}
	payment.Allocations = append([]Allocation(nil), payment.Allocations...)
	return payment, nil
}

func (r *memoryRepo) UpdatePayment(ctx context.Context, payment Payment) error {
	stored, ok := r.payments[payment.ID]
	if !ok {
		return fmt.Errorf("%w: payment %d", shared.ErrNotFound, payment.ID)
	}
	stored.Status = payment.Status
	stored.AllocatedCents = payment.AllocatedCents
	stored.UnallocatedCents = payment.UnallocatedCents
	r.payments[payment.ID] = stored
	return nil
}

func (r *memoryRepo) GetInvoiceBalanceForUpdate(ctx context.Context, tenantID, invoiceID int64) (InvoiceBalance, error) {
	balance, ok := r.invoices[invoiceID]
	if !ok {
		return InvoiceBalance{}, fmt.Errorf("%w: invoice %d", shared.ErrNotFound, invoiceID)
	}
	return balance, nil
}

func (r *memoryRepo) UpdateInvoiceBalance(ctx context.Context, tenantID int64, balance InvoiceBalance) error {
	if _, ok := r.invoices[balance.ID]; !ok {
		return fmt.Errorf("%w: invoice %d", shared.ErrNotFound, balance.ID)
	}
	r.invoices[balance.ID] = balance
	return nil
}

func (r *memoryRepo) GetPayment(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	return r.GetPaymentForUpdate(ctx, tenantID, paymentID)
}

func openInvoice(id, clientID, balance int64) InvoiceBalance {
	return InvoiceBalance{ID: id, ClientID: clientID, Status: sales.InvoiceStatusIssued, BalanceDueCents: balance}
}

func TestCreatePaymentPartialThenSettled(t *testing.T) {
	repo := newMemoryRepo(openInvoice(1, 7, 10000))
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	first, err := svc.CreatePayment(ctx, CreatePaymentInput{
		TenantID: 1, ClientID: 7, AmountCents: 4000,
		Allocations: []AllocationInput{{InvoiceID: 1, AmountCents: 4000}},
	})
	require.NoError(t, err)
	require.Equal(t, "RCPT-00001", first.Number)
	require.Equal(t, PaymentStatusPosted, first.Status)
	require.Equal(t, int64(4000), first.AllocatedCents)
	require.Equal(t, int64(0), first.UnallocatedCents)

	inv := repo.invoices[1]
	require.Equal(t, sales.InvoiceStatusPartiallyPaid, inv.Status)
	require.Equal(t, int64(4000), inv.AmountPaidCents)
	require.Equal(t, int64(6000), inv.BalanceDueCents)

	second, err := svc.CreatePayment(ctx, CreatePaymentInput{
		TenantID: 1, ClientID: 7, AmountCents: 6000,
		Allocations: []AllocationInput{{InvoiceID: 1, AmountCents: 6000}},
	})
	require.NoError(t, err)
	require.Equal(t, "RCPT-00002", second.Number)

	inv = repo.invoices[1]
	require.Equal(t, sales.InvoiceStatusPaid, inv.Status)
	require.Equal(t, int64(0), inv.BalanceDueCents)
}

func TestCreatePaymentUnallocatedRemainder(t *testing.T) {
	repo := newMemoryRepo(openInvoice(1, 7, 3000))
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	payment, err := svc.CreatePayment(ctx, CreatePaymentInput{
		TenantID: 1, ClientID: 7, AmountCents: 5000,
		Allocations: []AllocationInput{{InvoiceID: 1, AmountCents: 3000}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3000), payment.AllocatedCents)
	require.Equal(t, int64(2000), payment.UnallocatedCents)
	require.Equal(t, sales.InvoiceStatusPaid, repo.invoices[1].Status)
}

func TestOverAllocationRejectedAtomically(t *testing.T) {
	repo := newMemoryRepo(openInvoice(1, 7, 3000), openInvoice(2, 7, 5000))
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	// Second line exceeds its balance; the first must not stick.
	_, err := svc.CreatePayment(ctx, CreatePaymentInput{
		TenantID: 1, ClientID: 7, AmountCents: 10000,
		Allocations: []AllocationInput{
			{InvoiceID: 1, AmountCents: 2000},
			{InvoiceID: 2, AmountCents: 6000},
		},
	})
	require.ErrorIs(t, err, shared.ErrOverAllocation)
	require.Equal(t, int64(0), repo.invoices[1].AmountPaidCents)
	require.Equal(t, int64(0), repo.invoices[2].AmountPaidCents)
	require.Empty(t, repo.payments)
}

func TestAllocateFromRemainder(t *testing.T) {
	repo := newMemoryRepo(openInvoice(1, 7, 3000), openInvoice(2, 7, 5000))
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	payment, err := svc.CreatePayment(ctx, CreatePaymentInput{
		TenantID: 1, ClientID: 7, AmountCents: 8000,
		Allocations: []AllocationInput{{InvoiceID: 1, AmountCents: 3000}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(5000), payment.UnallocatedCents)

	updated, err := svc.AllocatePayment(ctx, 1, payment.ID, 9,
		[]AllocationInput{{InvoiceID: 2, AmountCents: 5000}})
	require.NoError(t, err)
	require.Equal(t, int64(8000), updated.AllocatedCents)
	require.Equal(t, int64(0), updated.UnallocatedCents)
	require.Equal(t, sales.InvoiceStatusPaid, repo.invoices[2].Status)

	// Nothing left to allocate from.
	_, err = svc.AllocatePayment(ctx, 1, payment.ID, 9,
		[]AllocationInput{{InvoiceID: 2, AmountCents: 1}})
	require.Error(t, err)
}

func TestReversePaymentRestoresBalances(t *testing.T) {
	repo := newMemoryRepo(openInvoice(1, 7, 3000), openInvoice(2, 7, 5000))
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	payment, err := svc.CreatePayment(ctx, CreatePaymentInput{
		TenantID: 1, ClientID: 7, AmountCents: 7000,
		Allocations: []AllocationInput{
			{InvoiceID: 1, AmountCents: 3000},
			{InvoiceID: 2, AmountCents: 4000},
		},
	})
	require.NoError(t, err)
	require.Equal(t, sales.InvoiceStatusPaid, repo.invoices[1].Status)
	require.Equal(t, sales.InvoiceStatusPartiallyPaid, repo.invoices[2].Status)

	reversed, err := svc.ReversePayment(ctx, 1, payment.ID, 9)
	require.NoError(t, err)
	require.Equal(t, PaymentStatusReversed, reversed.Status)
	require.Equal(t, int64(0), reversed.AllocatedCents)

	inv1 := repo.invoices[1]
	require.Equal(t, sales.InvoiceStatusIssued, inv1.Status)
	require.Equal(t, int64(3000), inv1.BalanceDueCents)
	require.Equal(t, int64(0), inv1.AmountPaidCents)
	inv2 := repo.invoices[2]
	require.Equal(t, sales.InvoiceStatusIssued, inv2.Status)
	require.Equal(t, int64(5000), inv2.BalanceDueCents)

	_, err = svc.ReversePayment(ctx, 1, payment.ID, 9)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestReversePaymentLeavesCancelledInvoiceCancelled(t *testing.T) {
	repo := newMemoryRepo(openInvoice(1, 7, 3000))
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	payment, err := svc.CreatePayment(ctx, CreatePaymentInput{
		TenantID: 1, ClientID: 7, AmountCents: 3000,
		Allocations: []AllocationInput{{InvoiceID: 1, AmountCents: 3000}},
	})
	require.NoError(t, err)

	// Invoice is cancelled after the payment posted.
	cancelled := repo.invoices[1]
	cancelled.Status = sales.InvoiceStatusCancelled
	cancelled.BalanceDueCents = 0
	repo.invoices[1] = cancelled

	reversed, err := svc.ReversePayment(ctx, 1, payment.ID, 9)
	require.NoError(t, err)
	require.Equal(t, PaymentStatusReversed, reversed.Status)

	inv := repo.invoices[1]
	require.Equal(t, sales.InvoiceStatusCancelled, inv.Status, "reversal must not reopen a cancelled invoice")
	require.Equal(t, int64(0), inv.AmountPaidCents)
	require.Equal(t, int64(0), inv.BalanceDueCents)
}

func TestPaymentRejectsClosedOrForeignInvoices(t *testing.T) {
	repo := newMemoryRepo(
		InvoiceBalance{ID: 1, ClientID: 7, Status: sales.InvoiceStatusDraft, BalanceDueCents: 1000},
		openInvoice(2, 8, 1000),
	)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.CreatePayment(ctx, CreatePaymentInput{
		TenantID: 1, ClientID: 7, AmountCents: 1000,
		Allocations: []AllocationInput{{InvoiceID: 1, AmountCents: 1000}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreatePayment(ctx, CreatePaymentInput{
		TenantID: 1, ClientID: 7, AmountCents: 1000,
		Allocations: []AllocationInput{{InvoiceID: 2, AmountCents: 1000}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}
