package ap

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/allocation"
	"github.com/meridian-erp/meridian-erp/internal/procurement"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// CounterPayment is the counter key for supplier payment numbers.
const CounterPayment = "PMT"

// TxRepository exposes transactional operations used by the service.
// Bill balance updates run in the same transaction as the payment
// writes, so an allocation applies fully or not at all.
type TxRepository interface {
	Counters() sequence.CounterStore

	InsertPayment(ctx context.Context, payment Payment) (int64, error)
	InsertAllocations(ctx context.Context, paymentID int64, allocations []Allocation) error
	GetPaymentForUpdate(ctx context.Context, tenantID, paymentID int64) (Payment, error)
	UpdatePayment(ctx context.Context, payment Payment) error

	GetBillBalanceForUpdate(ctx context.Context, tenantID, billID int64) (BillBalance, error)
	UpdateBillBalance(ctx context.Context, tenantID int64, balance BillBalance) error
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

// Service owns the supplier payment state machine and its allocation
// against supplier bills.
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
	BillID      int64
	AmountCents int64
}

// CreatePaymentInput describes a new supplier payment.
type CreatePaymentInput struct {
	TenantID    int64
	SupplierID  int64
	AmountCents int64
	Method      string
	Reference   string
	PaidAt      time.Time
	Allocations []AllocationInput
	ActorID     int64
}

// CreatePayment posts a supplier payment, applying any requested
// allocations in the same transaction. Allocation is all-or-nothing; a
// payment may also post fully unallocated.
func (s *Service) CreatePayment(ctx context.Context, input CreatePaymentInput) (Payment, error) {
	if input.TenantID <= 0 || input.SupplierID <= 0 {
		return Payment{}, fmt.Errorf("%w: tenant and supplier required", shared.ErrValidation)
	}
	if input.AmountCents <= 0 {
		return Payment{}, fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	}
	payment := Payment{
		TenantID:         input.TenantID,
		SupplierID:       input.SupplierID,
		Status:           PaymentStatusPosted,
		AmountCents:      input.AmountCents,
		UnallocatedCents: input.AmountCents,
		Method:           input.Method,
		Reference:        input.Reference,
		PaidAt:           defaultTime(input.PaidAt, time.Now().UTC()),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		issued, err := sequence.Next(ctx, tx.Counters(), input.TenantID, CounterPayment)
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
		allocations, allocated, err := s.apply(ctx, tx, input.TenantID, input.SupplierID, id,
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
	s.observe("supplier_payment", "create")
	if s.metrics != nil && payment.AllocatedCents > 0 {
		s.metrics.AllocationApplied("payable", payment.AllocatedCents)
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "ap:payment_create", "supplier_payment", payment.ID,
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
			return shared.NewTransitionError("supplier_payment", paymentID, string(payment.Status), "allocate")
		}
		allocations, allocated, err := s.apply(ctx, tx, tenantID, payment.SupplierID, paymentID,
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
	s.observe("supplier_payment", "allocate")
	if s.metrics != nil {
		s.metrics.AllocationApplied("payable", payment.AllocatedCents)
	}
	s.recordAudit(ctx, tenantID, actorID, "ap:payment_allocate", "supplier_payment", paymentID, nil)
	return payment, nil
}

// ReversePayment reverses a posted payment, undoing every allocation it
// made and restoring the target bills' balances. Reversal cannot be
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
			return shared.NewTransitionError("supplier_payment", paymentID, string(payment.Status), "reverse")
		}

		requests := make([]allocation.Request, len(payment.Allocations))
		targets := make(map[int64]allocation.Target, len(payment.Allocations))
		balances := make(map[int64]BillBalance, len(payment.Allocations))
		for i, alloc := range payment.Allocations {
			requests[i] = allocation.Request{TargetID: alloc.BillID, AmountCents: alloc.AmountCents}
			if _, seen := targets[alloc.BillID]; seen {
				continue
			}
			balance, err := tx.GetBillBalanceForUpdate(ctx, tenantID, alloc.BillID)
			if err != nil {
				return err
			}
			balances[alloc.BillID] = balance
			targets[alloc.BillID] = allocation.Target{
				ID:              balance.ID,
				BalanceDueCents: balance.BalanceDueCents,
				AmountPaidCents: balance.PaidCents,
			}
		}

		restored, err := allocation.Reverse(requests, targets)
		if err != nil {
			return err
		}
		for _, res := range restored {
			balance := balances[res.TargetID]
			if balance.Status == procurement.BillStatusVoided {
				// A bill voided after payment stays voided; only the paid
				// total is unwound so the reversal remains auditable.
				balance.PaidCents = res.AmountPaidCents
				balances[res.TargetID] = balance
				continue
			}
			balance.PaidCents = res.AmountPaidCents
			balance.BalanceDueCents = res.BalanceDueCents
			if balance.PaidCents == 0 {
				balance.Status = procurement.BillStatusPosted
			} else {
				balance.Status = procurement.StatusForBalance(balance.BalanceDueCents)
			}
			balances[res.TargetID] = balance
		}
		for _, balance := range balances {
			if err := tx.UpdateBillBalance(ctx, tenantID, balance); err != nil {
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
	s.observe("supplier_payment", "reverse")
	s.recordAudit(ctx, tenantID, actorID, "ap:payment_reverse", "supplier_payment", paymentID, nil)
	return payment, nil
}

// GetPayment loads a payment with its allocations.
func (s *Service) GetPayment(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	return s.repo.GetPayment(ctx, tenantID, paymentID)
}

func (s *Service) apply(ctx context.Context, tx TxRepository, tenantID, supplierID, paymentID, availableCents int64, inputs []AllocationInput) ([]Allocation, int64, error) {
	requests := make([]allocation.Request, len(inputs))
	targets := make(map[int64]allocation.Target, len(inputs))
	balances := make(map[int64]BillBalance, len(inputs))
	for i, input := range inputs {
		requests[i] = allocation.Request{TargetID: input.BillID, AmountCents: input.AmountCents}
		if _, seen := targets[input.BillID]; seen {
			continue
		}
		balance, err := tx.GetBillBalanceForUpdate(ctx, tenantID, input.BillID)
		if err != nil {
			return nil, 0, err
		}
		if balance.SupplierID != supplierID {
			return nil, 0, fmt.Errorf("%w: bill %d belongs to supplier %d", shared.ErrValidation, input.BillID, balance.SupplierID)
		}
		if balance.Status != procurement.BillStatusPosted && balance.Status != procurement.BillStatusPartiallyPaid {
			return nil, 0, fmt.Errorf("%w: bill %d is %s, not open for payment",
				shared.ErrValidation, input.BillID, balance.Status)
		}
		balances[input.BillID] = balance
		targets[input.BillID] = allocation.Target{
			ID:              balance.ID,
			BalanceDueCents: balance.BalanceDueCents,
			AmountPaidCents: balance.PaidCents,
		}
	}

	result, err := allocation.Apply(availableCents, requests, targets)
	if err != nil {
		return nil, 0, err
	}

	for _, applied := range result.Applied {
		balance := balances[applied.TargetID]
		balance.PaidCents = applied.AmountPaidCents
		balance.BalanceDueCents = applied.BalanceDueCents
		balance.Status = procurement.StatusForBalance(balance.BalanceDueCents)
		balances[applied.TargetID] = balance
	}
	for _, balance := range balances {
		if err := tx.UpdateBillBalance(ctx, tenantID, balance); err != nil {
			return nil, 0, err
		}
	}

	allocations := make([]Allocation, len(result.Applied))
	for i, applied := range result.Applied {
		allocations[i] = Allocation{
			PaymentID:   paymentID,
			BillID:      applied.TargetID,
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
