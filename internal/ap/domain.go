// Package ap posts supplier payments and allocates them across
// outstanding supplier bills.
package ap

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/procurement"
)

// PaymentStatus enumerates supplier payment statuses.
type PaymentStatus string

const (
	PaymentStatusPosted   PaymentStatus = "POSTED"
	PaymentStatusReversed PaymentStatus = "REVERSED"
)

// Allocation records cents applied from one payment to one bill.
type Allocation struct {
	ID          int64
	PaymentID   int64
	BillID      int64
	AmountCents int64
	CreatedAt   time.Time
}

// Payment is a supplier payment. It posts on creation and can only be
// reversed afterwards; reversal undoes every allocation it made.
type Payment struct {
	ID               int64
	TenantID         int64
	Number           string
	SupplierID       int64
	Status           PaymentStatus
	AmountCents      int64
	AllocatedCents   int64
	UnallocatedCents int64
	Method           string
	Reference        string
	PaidAt           time.Time
	Allocations      []Allocation
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BillBalance is the slice of a supplier bill this module reads and
// writes: its payment state.
type BillBalance struct {
	ID              int64
	SupplierID      int64
	Status          procurement.BillStatus
	PaidCents       int64
	BalanceDueCents int64
}
