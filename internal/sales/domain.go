package sales

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/money"
)

// QuoteStatus enumerates sales quote statuses.
type QuoteStatus string

const (
	QuoteStatusDraft    QuoteStatus = "DRAFT"
	QuoteStatusSent     QuoteStatus = "SENT"
	QuoteStatusAccepted QuoteStatus = "ACCEPTED"
	QuoteStatusRejected QuoteStatus = "REJECTED"
	QuoteStatusExpired  QuoteStatus = "EXPIRED"
)

// InvoiceStatus enumerates sales invoice statuses. Overdue is derived from
// stored facts and never persisted as an independent status.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusIssued        InvoiceStatus = "ISSUED"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusOverdue       InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled     InvoiceStatus = "CANCELLED"
)

// Line is an item snapshot embedded in a quote or invoice at creation
// time, decoupled from later changes to the live stock item.
type Line struct {
	ID                int64
	StockItemID       int64
	SKU               string
	Name              string
	Unit              string
	VATRateBps        int64
	Taxable           bool
	Quantity          int64
	UnitPriceCents    int64
	DiscountCents     int64
	TotalCents        int64
	ConsumeMovementID *int64
	LineOrder         int
}

// Quote models a sales quote header with its line snapshots.
type Quote struct {
	ID               int64
	TenantID         int64
	Number           string
	ClientID         int64
	Status           QuoteStatus
	VATMode          money.VATMode
	QuoteDate        time.Time
	ValidUntil       time.Time
	Totals           money.Totals
	RelatedInvoiceID *int64
	Note             string
	Lines            []Line
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Invoice models a sales invoice header with its line snapshots.
type Invoice struct {
	ID              int64
	TenantID        int64
	Number          string
	ClientID        int64
	Status          InvoiceStatus
	VATMode         money.VATMode
	SourceQuoteID   *int64
	IssuedAt        *time.Time
	DueDate         *time.Time
	Totals          money.Totals
	AmountPaidCents int64
	BalanceDueCents int64
	Note            string
	Lines           []Line
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EffectiveStatus derives the display status: an issued or partially paid
// invoice past its due date reads as overdue.
func (i Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if i.Status == InvoiceStatusIssued || i.Status == InvoiceStatusPartiallyPaid {
		if i.DueDate != nil && now.After(*i.DueDate) {
			return InvoiceStatusOverdue
		}
	}
	return i.Status
}

// StatusForBalance derives the payment-driven status from the remaining
// balance.
func StatusForBalance(balanceDueCents int64) InvoiceStatus {
	if balanceDueCents == 0 {
		return InvoiceStatusPaid
	}
	return InvoiceStatusPartiallyPaid
}
