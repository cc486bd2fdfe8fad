package ar

import "time"

// CreatePaymentRequest is the API payload for posting a customer payment.
type CreatePaymentRequest struct {
	ClientID    int64               `json:"client_id" validate:"required,gt=0"`
	AmountCents int64               `json:"amount_cents" validate:"required,gt=0"`
	Method      string              `json:"method,omitempty"`
	Reference   string              `json:"reference,omitempty"`
	ReceivedAt  time.Time           `json:"received_at"`
	Allocations []AllocationRequest `json:"allocations" validate:"omitempty,dive"`
}

// AllocationRequest is one allocation line in an API payload.
type AllocationRequest struct {
	InvoiceID   int64 `json:"invoice_id" validate:"required,gt=0"`
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
}

// AllocatePaymentRequest applies further allocations from a posted
// payment's unallocated remainder.
type AllocatePaymentRequest struct {
	Allocations []AllocationRequest `json:"allocations" validate:"required,min=1,dive"`
}
