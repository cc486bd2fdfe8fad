package procurement

import "time"

// CreateGRVRequest is the API payload for creating a draft voucher.
type CreateGRVRequest struct {
	SupplierID int64                  `json:"supplier_id" validate:"required,gt=0"`
	VATMode    string                 `json:"vat_mode" validate:"omitempty,oneof=EXCLUSIVE INCLUSIVE NONE"`
	Reference  string                 `json:"reference,omitempty"`
	Note       string                 `json:"note,omitempty"`
	Lines      []CreateGRVLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// CreateGRVLineRequest is one voucher line in an API payload.
type CreateGRVLineRequest struct {
	StockItemID   int64  `json:"stock_item_id" validate:"required,gt=0"`
	ReceivedQty   int64  `json:"received_qty" validate:"required,gt=0"`
	UnitCostCents int64  `json:"unit_cost_cents" validate:"gte=0"`
	DiscountType  string `json:"discount_type" validate:"omitempty,oneof=NONE PERCENT AMOUNT"`
	DiscountValue int64  `json:"discount_value" validate:"gte=0"`
}

// UpdateGRVLinesRequest replaces the lines of a draft voucher.
type UpdateGRVLinesRequest struct {
	Lines []CreateGRVLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// CreateBillRequest is the API payload for aggregating posted vouchers
// into a draft supplier bill.
type CreateBillRequest struct {
	SupplierID int64     `json:"supplier_id" validate:"required,gt=0"`
	GRVIDs     []int64   `json:"grv_ids" validate:"required,min=1,dive,gt=0"`
	DueDate    time.Time `json:"due_date"`
	Note       string    `json:"note,omitempty"`
}
