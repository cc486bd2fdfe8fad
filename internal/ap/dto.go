package ap

import "time"

// CreatePaymentRequest is the API payload for posting a supplier payment.
type CreatePaymentRequest struct {
	SupplierID  int64               `json:"supplier_id" validate:"required,gt=0"`
	AmountCents int64               `json:"amount_cents" validate:"required,gt=0"`
	Method      string              `json:"method,omitempty"`
	Reference   string              `json:"reference,omitempty"`
	PaidAt      time.Time           `json:"paid_at"`
	Allocations []AllocationRequest `json:"allocations" validate:"omitempty,dive"`
}

// AllocationRequest is one allocation line in an API payload.
type AllocationRequest struct {
	BillID      int64 `json:"bill_id" validate:"required,gt=0"`
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
}

// AllocatePaymentRequest applies further allocations from a posted
// payment's unallocated remainder.
type AllocatePaymentRequest struct {
	Allocations []AllocationRequest `json:"allocations" validate:"required,min=1,dive"`
}
