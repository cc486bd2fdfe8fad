// Package allocation distributes a payment's amount across outstanding
// document balances. It is shared by customer payments (sales invoices)
// and supplier payments (supplier bills).
package allocation

import (
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Target is a document balance a payment can be applied to.
type Target struct {
	ID              int64
	BalanceDueCents int64
	AmountPaidCents int64
}

// Request is one caller-specified allocation line.
type Request struct {
	TargetID    int64
	AmountCents int64
}

// Applied describes the effect on one target after the batch applies.
type Applied struct {
	TargetID        int64
	AmountCents     int64
	AmountPaidCents int64
	BalanceDueCents int64
	Settled         bool
}

// Result is the outcome of applying a batch.
type Result struct {
	Applied          []Applied
	AllocatedCents   int64
	UnallocatedCents int64
}

// Apply validates and computes an all-or-nothing allocation batch. The
// order of requests is preserved exactly as the caller specified; there is
// no implicit oldest-first policy. Apply mutates nothing, the caller
// persists the returned state inside its own transaction.
func Apply(paymentAmountCents int64, requests []Request, targets map[int64]Target) (Result, error) {
	if paymentAmountCents <= 0 {
		return Result{}, fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	}
	if len(requests) == 0 {
		return Result{}, fmt.Errorf("%w: at least one allocation line required", shared.ErrValidation)
	}

	var total int64
	pending := make(map[int64]Target, len(targets))
	for id, target := range targets {
		pending[id] = target
	}

	result := Result{Applied: make([]Applied, 0, len(requests))}
	for _, req := range requests {
		if req.AmountCents <= 0 {
			return Result{}, fmt.Errorf("%w: allocation amount must be positive", shared.ErrValidation)
		}
		target, ok := pending[req.TargetID]
		if !ok {
			return Result{}, fmt.Errorf("%w: allocation target %d", shared.ErrNotFound, req.TargetID)
		}
		if req.AmountCents > target.BalanceDueCents {
			return Result{}, fmt.Errorf("%w: document %d balance due %d, requested %d",
				shared.ErrOverAllocation, req.TargetID, target.BalanceDueCents, req.AmountCents)
		}
		total += req.AmountCents
		if total > paymentAmountCents {
			return Result{}, fmt.Errorf("%w: allocations total %d exceed payment amount %d",
				shared.ErrOverAllocation, total, paymentAmountCents)
		}

		target.BalanceDueCents -= req.AmountCents
		target.AmountPaidCents += req.AmountCents
		pending[req.TargetID] = target

		result.Applied = append(result.Applied, Applied{
			TargetID:        req.TargetID,
			AmountCents:     req.AmountCents,
			AmountPaidCents: target.AmountPaidCents,
			BalanceDueCents: target.BalanceDueCents,
			Settled:         target.BalanceDueCents == 0,
		})
	}

	result.AllocatedCents = total
	result.UnallocatedCents = paymentAmountCents - total
	return result, nil
}

// Reverse computes the restored target state after undoing a set of
// previously applied allocations. Reversal is all-or-nothing: every
// allocation the payment made is undone.
func Reverse(allocations []Request, targets map[int64]Target) ([]Applied, error) {
	restored := make([]Applied, 0, len(allocations))
	pending := make(map[int64]Target, len(targets))
	for id, target := range targets {
		pending[id] = target
	}
	for _, alloc := range allocations {
		target, ok := pending[alloc.TargetID]
		if !ok {
			return nil, fmt.Errorf("%w: allocation target %d", shared.ErrNotFound, alloc.TargetID)
		}
		if alloc.AmountCents > target.AmountPaidCents {
			return nil, fmt.Errorf("%w: document %d has %d paid, cannot restore %d",
				shared.ErrValidation, alloc.TargetID, target.AmountPaidCents, alloc.AmountCents)
		}
		target.AmountPaidCents -= alloc.AmountCents
		target.BalanceDueCents += alloc.AmountCents
		pending[alloc.TargetID] = target
		restored = append(restored, Applied{
			TargetID:        alloc.TargetID,
			AmountCents:     alloc.AmountCents,
			AmountPaidCents: target.AmountPaidCents,
			BalanceDueCents: target.BalanceDueCents,
			Settled:         target.BalanceDueCents == 0,
		})
	}
	return restored, nil
}
