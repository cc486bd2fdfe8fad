package inventory

import "time"

// SourceType names the business event behind a movement.
type SourceType string

const (
	SourceGRV        SourceType = "GRV"
	SourceSale       SourceType = "SALE"
	SourceAdjustment SourceType = "ADJUSTMENT"
	SourceTransfer   SourceType = "TRANSFER"
	SourceReturn     SourceType = "RETURN"
	SourceCancelGRV  SourceType = "CANCEL_GRV"
	SourceCancelSale SourceType = "CANCEL_SALE"
)

// MovementType is the direction of a movement.
type MovementType string

const (
	MovementIn  MovementType = "IN"
	MovementOut MovementType = "OUT"
)

// StockItem is the valuation ledger's view of an item. OnHand and
// AverageCostCents are owned by the ledger and updated nowhere else.
type StockItem struct {
	ID               int64
	TenantID         int64
	SKU              string
	Name             string
	Unit             string
	VATRateBps       int64
	VATExempt        bool
	TrackInventory   bool
	OnHand           int64
	Reserved         int64
	ReorderLevel     int64
	CostPriceCents   int64
	AverageCostCents int64
	UpdatedAt        time.Time
}

// Available is the quantity free to consume.
func (s StockItem) Available() int64 {
	return s.OnHand - s.Reserved
}

// Movement is one immutable, append-only ledger row. Corrections are new
// compensating movements; existing rows are never updated or deleted.
type Movement struct {
	ID             int64
	TenantID       int64
	StockItemID    int64
	SourceType     SourceType
	SourceID       string
	MovementType   MovementType
	Quantity       int64
	UnitCostCents  int64
	QuantityBefore int64
	QuantityAfter  int64
	CostBefore     int64
	CostAfter      int64
	ReversesID     *int64
	NeedsReview    bool
	Note           string
	ActorID        int64
	CreatedAt      time.Time
}

// MovementFilter filters ledger listings.
type MovementFilter struct {
	StockItemID int64
	From        time.Time
	To          time.Time
	Limit       int
}
