// Package ar posts customer payments and allocates them across
// outstanding sales invoices.
package ar

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/sales"
)

// PaymentStatus enumerates customer payment statuses.
type PaymentStatus string

const (
	PaymentStatusPosted   PaymentStatus = "POSTED"
	PaymentStatusReversed PaymentStatus = "REVERSED"
)

// Allocation records cents applied from one payment to one invoice.
type Allocation struct {
	ID          int64
	PaymentID   int64
	InvoiceID   int64
	AmountCents int64
	CreatedAt   time.Time
}

// Payment is a customer payment. It posts on creation and can only be
// reversed afterwards; reversal undoes every allocation it made.
type Payment struct {
	ID               int64
	TenantID         int64
	Number           string
	ClientID         int64
	Status           PaymentStatus
	AmountCents      int64
	AllocatedCents   int64
	UnallocatedCents int64
	Method           string
	Reference        string
	ReceivedAt       time.Time
	Allocations      []Allocation
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// InvoiceBalance is the slice of a sales invoice this module reads and
// writes: its payment state.
type InvoiceBalance struct {
	ID              int64
	ClientID        int64
	Status          sales.InvoiceStatus
	AmountPaidCents int64
	BalanceDueCents int64
}
