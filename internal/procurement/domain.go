package procurement

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/money"
)

// GRVStatus enumerates goods received voucher statuses.
type GRVStatus string

const (
	GRVStatusDraft     GRVStatus = "DRAFT"
	GRVStatusPosted    GRVStatus = "POSTED"
	GRVStatusCancelled GRVStatus = "CANCELLED"
)

// BillStatus enumerates supplier bill statuses.
type BillStatus string

const (
	BillStatusDraft         BillStatus = "DRAFT"
	BillStatusPosted        BillStatus = "POSTED"
	BillStatusPartiallyPaid BillStatus = "PARTIALLY_PAID"
	BillStatusPaid          BillStatus = "PAID"
	BillStatusVoided        BillStatus = "VOIDED"
)

// GRVLine is an item snapshot taken at receipt time, decoupled from later
// changes to the live stock item. Lines are editable only while the
// voucher is in draft.
type GRVLine struct {
	ID                int64
	StockItemID       int64
	SKU               string
	Name              string
	Unit              string
	VATRateBps        int64
	Taxable           bool
	ReceivedQty       int64
	UnitCostCents     int64
	DiscountType      money.DiscountType
	DiscountValue     int64
	DiscountCents     int64
	SubTotalCents     int64
	VATAmountCents    int64
	TotalCents        int64
	ReceiveMovementID *int64
	LineOrder         int
}

// GRV models a goods received voucher header with its line snapshots.
type GRV struct {
	ID         int64
	TenantID   int64
	Number     string
	SupplierID int64
	Status     GRVStatus
	VATMode    money.VATMode
	Reference  string
	Totals     money.Totals
	BillID     *int64
	PostedAt   *time.Time
	PostedBy   *int64
	Note       string
	Lines      []GRVLine
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Billed reports whether the voucher is already referenced by a bill.
func (g GRV) Billed() bool {
	return g.BillID != nil
}

// BillLine is one billable line aggregated from a posted voucher. GRVID
// keeps the trace back to the source voucher.
type BillLine struct {
	ID             int64
	GRVID          int64
	StockItemID    int64
	SKU            string
	Name           string
	Unit           string
	VATRateBps     int64
	Taxable        bool
	Quantity       int64
	UnitCostCents  int64
	SubTotalCents  int64
	VATAmountCents int64
	TotalCents     int64
	LineOrder      int
}

// StatusForBalance derives the payment-driven bill status from the
// remaining balance.
func StatusForBalance(balanceDueCents int64) BillStatus {
	if balanceDueCents == 0 {
		return BillStatusPaid
	}
	return BillStatusPartiallyPaid
}

// SupplierBill aggregates one or more posted vouchers for one supplier.
type SupplierBill struct {
	ID              int64
	TenantID        int64
	Number          string
	SupplierID      int64
	Status          BillStatus
	VATMode         money.VATMode
	GRVIDs          []int64
	Totals          money.Totals
	PaidCents       int64
	BalanceDueCents int64
	DueDate         *time.Time
	PostedAt        *time.Time
	VoidWarning     string
	Note            string
	Lines           []BillLine
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
