package ar

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/allocation"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// CounterReceipt is the counter key for customer payment numbers.
const CounterReceipt = "RCPT"

// TxRepository exposes transactional operations used by the service.
// Invoice balance updates run in the same transaction as the payment
// writes, so an allocation applies fully or not at all.
type TxRepository interface {
	Counters() sequence.CounterStore

	InsertPayment(ctx context.Context, payment Payment) (int64, error)
	InsertAllocations(ctx context.Context, paymentID int64, allocations []Allocation) error
	GetPaymentForUpdate(ctx context.Context, tenantID, paymentID int64) (Payment, error)
	UpdatePayment(ctx context.Context, payment Payment) error

	GetInvoiceBalanceForUpdate(ctx context.Context, tenantID, invoiceID int64) (InvoiceBalance, error)
	UpdateInvoiceBalance(ctx context.Context, tenantID int64, balance InvoiceBalance) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPayment(ctx context.Context, tenantID, paymentID int64) (Payment, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records payment activity.
type MetricsPort interface {
	TransitionApplied(doc, action string)
	AllocationApplied(side string, cents int64)
}

// Service owns the customer payment state machine and its allocation
// against sales invoices.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics}
}

// AllocationInput is one requested allocation line.
type AllocationInput struct {
	InvoiceID   int64
	AmountCents int64
}

// CreatePaymentInput describes a new customer payment.
type CreatePaymentInput struct {
	TenantID    int64
	ClientID    int64
	AmountCents int64
	Method      string
	Reference   string
	ReceivedAt  time.Time
	Allocations []AllocationInput
	ActorID     int64
}

// CreatePayment posts a customer payment, applying any requested
// allocations in the same transaction. Allocation is all-or-nothing; a
// payment may also post fully unallocated.
func (s *Service) CreatePayment(ctx context.Context, input CreatePaymentInput) (Payment, error) {
	if input.TenantID <= 0 || input.ClientID <= 0 {
		return Payment{}, fmt.Errorf("%w: tenant and client required", shared.ErrValidation)
	}
	if input.AmountCents <= 0 {
		return Payment{}, fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	}
	payment := Payment{
		TenantID:         input.TenantID,
		ClientID:         input.ClientID,
		Status:           PaymentStatusPosted,
		AmountCents:      input.AmountCents,
		UnallocatedCents: input.AmountCents,
		Method:           input.Method,
		Reference:        input.Reference,
		ReceivedAt:       defaultTime(input.ReceivedAt, time.Now().UTC()),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		issued, err := sequence.Next(ctx, tx.Counters(), input.TenantID, CounterReceipt)
		if err != nil {
			return err
		}
		payment.Number = issued.Formatted

		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = id

		if len(input.Allocations) == 0 {
			return nil
		}
		allocations, allocated, err := s.apply(ctx, tx, input.TenantID, input.ClientID, id,
			payment.UnallocatedCents, input.Allocations)
		if err != nil {
			return err
		}
		payment.Allocations = allocations
		payment.AllocatedCents = allocated
		payment.UnallocatedCents = payment.AmountCents - allocated
		return tx.UpdatePayment(ctx, payment)
	})
	if err != nil {
		return Payment{}, err
	}
	s.observe("payment", "create")
	if s.metrics != nil && payment.AllocatedCents > 0 {
		s.metrics.AllocationApplied("receivable", payment.AllocatedCents)
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "ar:payment_create", "customer_payment", payment.ID,
		map[string]any{"number": payment.Number, "amount_cents": payment.AmountCents})
	return payment, nil
}

// AllocatePayment applies further allocations from a posted payment's
// unallocated remainder.
func (s *Service) AllocatePayment(ctx context.Context, tenantID, paymentID, actorID int64, inputs []AllocationInput) (Payment, error) {
	if len(inputs) == 0 {
		return Payment{}, fmt.Errorf("%w: at least one allocation line required", shared.ErrValidation)
	}
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		payment, err = tx.GetPaymentForUpdate(ctx, tenantID, paymentID)
		if err != nil {
			return err
		}
		if payment.Status != PaymentStatusPosted {
			return shared.NewTransitionError("customer_payment", paymentID, string(payment.Status), "allocate")
		}
		allocations, allocated, err := s.apply(ctx, tx, tenantID, payment.ClientID, paymentID,
			payment.UnallocatedCents, inputs)
		if err != nil {
			return err
		}
		payment.Allocations = append(payment.Allocations, allocations...)
		payment.AllocatedCents += allocated
		payment.UnallocatedCents -= allocated
		return tx.UpdatePayment(ctx, payment)
	})
	if err != nil {
		return Payment{}, err
	}
	s.observe("payment", "allocate")
	if s.metrics != nil {
		s.metrics.AllocationApplied("receivable", payment.AllocatedCents)
	}
	s.recordAudit(ctx, tenantID, actorID, "ar:payment_allocate", "customer_payment", paymentID, nil)
	return payment, nil
}

// ReversePayment reverses a posted payment, undoing every allocation it
// made and restoring the target invoices' balances. Reversal cannot be
// partial.
func (s *Service) ReversePayment(ctx context.Context, tenantID, paymentID, actorID int64) (Payment, error) {
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		payment, err = tx.GetPaymentForUpdate(ctx, tenantID, paymentID)
		if err != nil {
			return err
		}
		if payment.Status != PaymentStatusPosted {
			return shared.NewTransitionError("customer_payment", paymentID, string(payment.Status), "reverse")
		}

		requests := make([]allocation.Request, len(payment.Allocations))
		targets := make(map[int64]allocation.Target, len(payment.Allocations))
		balances := make(map[int64]InvoiceBalance, len(payment.Allocations))
		for i, alloc := range payment.Allocations {
			requests[i] = allocation.Request{TargetID: alloc.InvoiceID, AmountCents: alloc.AmountCents}
			if _, seen := targets[alloc.InvoiceID]; seen {
				continue
			}
			balance, err := tx.GetInvoiceBalanceForUpdate(ctx, tenantID, alloc.InvoiceID)
			if err != nil {
				return err
			}
			balances[alloc.InvoiceID] = balance
			targets[alloc.InvoiceID] = allocation.Target{
				ID:              balance.ID,
				BalanceDueCents: balance.BalanceDueCents,
				AmountPaidCents: balance.AmountPaidCents,
			}
		}

		restored, err := allocation.Reverse(requests, targets)
		if err != nil {
			return err
		}
		for _, res := range restored {
			balance := balances[res.TargetID]
			if balance.Status == sales.InvoiceStatusCancelled {
				// An invoice cancelled after payment stays cancelled; only
				// the paid total is unwound so the reversal remains auditable.
				balance.AmountPaidCents = res.AmountPaidCents
				balances[res.TargetID] = balance
				continue
			}
			balance.AmountPaidCents = res.AmountPaidCents
			balance.BalanceDueCents = res.BalanceDueCents
			if balance.AmountPaidCents == 0 {
				balance.Status = sales.InvoiceStatusIssued
			} else {
				balance.Status = sales.StatusForBalance(balance.BalanceDueCents)
			}
			balances[res.TargetID] = balance
		}
		for _, balance := range balances {
			if err := tx.UpdateInvoiceBalance(ctx, tenantID, balance); err != nil {
				return err
			}
		}

		payment.Status = PaymentStatusReversed
		payment.AllocatedCents = 0
		payment.UnallocatedCents = 0
		return tx.UpdatePayment(ctx, payment)
	})
	if err != nil {
		return Payment{}, err
	}
	s.observe("payment", "reverse")
	s.recordAudit(ctx, tenantID, actorID, "ar:payment_reverse", "customer_payment", paymentID, nil)
	return payment, nil
}

// GetPayment loads a payment with its allocations.
func (s *Service) GetPayment(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	return s.repo.GetPayment(ctx, tenantID, paymentID)
}

func (s *Service) apply(ctx context.Context, tx TxRepository, tenantID, clientID, paymentID, availableCents int64, inputs []AllocationInput) ([]Allocation, int64, error) {
	requests := make([]allocation.Request, len(inputs))
	targets := make(map[int64]allocation.Target, len(inputs))
	balances := make(map[int64]InvoiceBalance, len(inputs))
	for i, input := range inputs {
		requests[i] = allocation.Request{TargetID: input.InvoiceID, AmountCents: input.AmountCents}
		if _, seen := targets[input.InvoiceID]; seen {
			continue
		}
		balance, err := tx.GetInvoiceBalanceForUpdate(ctx, tenantID, input.InvoiceID)
		if err != nil {
			return nil, 0, err
		}
		if balance.ClientID != clientID {
			return nil, 0, fmt.Errorf("%w: invoice %d belongs to client %d", shared.ErrValidation, input.InvoiceID, balance.ClientID)
		}
		if balance.Status != sales.InvoiceStatusIssued && balance.Status != sales.InvoiceStatusPartiallyPaid {
			return nil, 0, fmt.Errorf("%w: invoice %d is %s, not open for payment",
				shared.ErrValidation, input.InvoiceID, balance.Status)
		}
		balances[input.InvoiceID] = balance
		targets[input.InvoiceID] = allocation.Target{
			ID:              balance.ID,
			BalanceDueCents: balance.BalanceDueCents,
			AmountPaidCents: balance.AmountPaidCents,
		}
	}

	result, err := allocation.Apply(availableCents, requests, targets)
	if err != nil {
		return nil, 0, err
	}

	for _, applied := range result.Applied {
		balance := balances[applied.TargetID]
		balance.AmountPaidCents = applied.AmountPaidCents
		balance.BalanceDueCents = applied.BalanceDueCents
		balance.Status = sales.StatusForBalance(balance.BalanceDueCents)
		balances[applied.TargetID] = balance
	}
	for _, balance := range balances {
		if err := tx.UpdateInvoiceBalance(ctx, tenantID, balance); err != nil {
			return nil, 0, err
		}
	}

	allocations := make([]Allocation, len(result.Applied))
	for i, applied := range result.Applied {
		allocations[i] = Allocation{
			PaymentID:   paymentID,
			InvoiceID:   applied.TargetID,
			AmountCents: applied.AmountCents,
		}
	}
	if err := tx.InsertAllocations(ctx, paymentID, allocations); err != nil {
		return nil, 0, err
	}
	return allocations, result.AllocatedCents, nil
}

func (s *Service) observe(doc, action string) {
	if s.metrics != nil {
		s.metrics.TransitionApplied(doc, action)
	}
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}

func defaultTime(value, fallback time.Time) time.Time {
	if value.IsZero() {
		return fallback
	}
	return value
}
