package sales

import "time"

// CreateQuoteRequest is the API payload for creating a draft quote.
type CreateQuoteRequest struct {
	ClientID   int64               `json:"client_id" validate:"required,gt=0"`
	VATMode    string              `json:"vat_mode" validate:"omitempty,oneof=EXCLUSIVE INCLUSIVE NONE"`
	QuoteDate  time.Time           `json:"quote_date"`
	ValidUntil time.Time           `json:"valid_until"`
	Note       string              `json:"note,omitempty"`
	Lines      []CreateLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// CreateLineRequest is one quote or invoice line in an API payload.
type CreateLineRequest struct {
	StockItemID    int64  `json:"stock_item_id" validate:"required,gt=0"`
	Quantity       int64  `json:"quantity" validate:"required,gt=0"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"gte=0"`
	DiscountCents  int64  `json:"discount_cents" validate:"gte=0"`
	Note           string `json:"note,omitempty"`
}

// CreateInvoiceRequest is the API payload for creating a draft invoice.
type CreateInvoiceRequest struct {
	ClientID int64               `json:"client_id" validate:"required,gt=0"`
	VATMode  string              `json:"vat_mode" validate:"omitempty,oneof=EXCLUSIVE INCLUSIVE NONE"`
	Note     string              `json:"note,omitempty"`
	Lines    []CreateLineRequest `json:"lines" validate:"required,min=1,dive"`
}
