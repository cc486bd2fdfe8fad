package inventory

// PostAdjustmentRequest is the API payload for a manual stock adjustment.
// Positive quantities receive at unit_cost_cents; negative quantities
// consume at the item's current average cost.
type PostAdjustmentRequest struct {
	StockItemID   int64  `json:"stock_item_id" validate:"required,gt=0"`
	Quantity      int64  `json:"quantity" validate:"required"`
	UnitCostCents int64  `json:"unit_cost_cents" validate:"gte=0"`
	Note          string `json:"note,omitempty"`
}
