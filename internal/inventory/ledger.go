package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxRepository is the transactional surface the ledger operates over. The
// document state machines pass an implementation bound to their own open
// transaction so stock updates commit or roll back together with the
// document transition that caused them.
type TxRepository interface {
	GetStockItemForUpdate(ctx context.Context, tenantID, stockItemID int64) (StockItem, error)
	UpdateStockLevels(ctx context.Context, item StockItem) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
	GetMovement(ctx context.Context, tenantID, movementID int64) (Movement, error)
	HasOutboundSince(ctx context.Context, tenantID, stockItemID, movementID int64) (bool, error)
}

// ReceiveInput describes a stock receipt.
type ReceiveInput struct {
	TenantID      int64
	StockItemID   int64
	Quantity      int64
	UnitCostCents int64
	SourceType    SourceType
	SourceID      string
	Note          string
	ActorID       int64
}

// ConsumeInput describes a stock consumption.
type ConsumeInput struct {
	TenantID    int64
	StockItemID int64
	Quantity    int64
	SourceType  SourceType
	SourceID    string
	Note        string
	ActorID     int64
}

// ReverseInput identifies a prior movement to compensate.
type ReverseInput struct {
	TenantID   int64
	MovementID int64
	SourceType SourceType
	SourceID   string
	Note       string
	ActorID    int64
}

// Ledger maintains on-hand quantity and weighted-average cost per stock
// item. It is stateless; serialization comes from the row lock taken by
// GetStockItemForUpdate inside the caller's transaction.
type Ledger struct{}

// NewLedger constructs the valuation ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Receive books qty units at unitCost into an item and recomputes the
// weighted average: (onHand*avg + qty*cost) / (onHand + qty), rounded to
// the nearest cent.
func (l *Ledger) Receive(ctx context.Context, tx TxRepository, input ReceiveInput) (Movement, error) {
	if input.Quantity <= 0 {
		return Movement{}, fmt.Errorf("%w: receive quantity must be positive", shared.ErrValidation)
	}
	if input.UnitCostCents < 0 {
		return Movement{}, fmt.Errorf("%w: unit cost must be >= 0", shared.ErrValidation)
	}
	item, err := tx.GetStockItemForUpdate(ctx, input.TenantID, input.StockItemID)
	if err != nil {
		return Movement{}, err
	}

	movement := Movement{
		TenantID:       input.TenantID,
		StockItemID:    item.ID,
		SourceType:     input.SourceType,
		SourceID:       input.SourceID,
		MovementType:   MovementIn,
		Quantity:       input.Quantity,
		UnitCostCents:  input.UnitCostCents,
		QuantityBefore: item.OnHand,
		CostBefore:     item.AverageCostCents,
		Note:           input.Note,
		ActorID:        input.ActorID,
		CreatedAt:      time.Now().UTC(),
	}

	item.AverageCostCents = money.WeightedAverageCost(item.OnHand, item.AverageCostCents, input.Quantity, input.UnitCostCents)
	item.OnHand += input.Quantity
	item.CostPriceCents = input.UnitCostCents

	movement.QuantityAfter = item.OnHand
	movement.CostAfter = item.AverageCostCents

	return l.commit(ctx, tx, item, movement)
}

// Consume books qty units out of an item, valued at the current average
// cost rather than at sale price. Items with TrackInventory=false skip the
// availability check.
func (l *Ledger) Consume(ctx context.Context, tx TxRepository, input ConsumeInput) (Movement, error) {
	if input.Quantity <= 0 {
		return Movement{}, fmt.Errorf("%w: consume quantity must be positive", shared.ErrValidation)
	}
	item, err := tx.GetStockItemForUpdate(ctx, input.TenantID, input.StockItemID)
	if err != nil {
		return Movement{}, err
	}
	if item.TrackInventory && input.Quantity > item.Available() {
		return Movement{}, fmt.Errorf("%w: item %s has %d available, requested %d",
			shared.ErrInsufficientStock, item.SKU, item.Available(), input.Quantity)
	}

	movement := Movement{
		TenantID:       input.TenantID,
		StockItemID:    item.ID,
		SourceType:     input.SourceType,
		SourceID:       input.SourceID,
		MovementType:   MovementOut,
		Quantity:       input.Quantity,
		UnitCostCents:  item.AverageCostCents,
		QuantityBefore: item.OnHand,
		CostBefore:     item.AverageCostCents,
		Note:           input.Note,
		ActorID:        input.ActorID,
		CreatedAt:      time.Now().UTC(),
	}

	item.OnHand -= input.Quantity
	if item.OnHand <= 0 {
		item.AverageCostCents = 0
	}

	movement.QuantityAfter = item.OnHand
	movement.CostAfter = item.AverageCostCents

	return l.commit(ctx, tx, item, movement)
}

// ReverseReceipt compensates a prior IN movement (GRV cancellation). The
// average cost is recomputed as if the receipt had not occurred. When that
// is ill-defined, because stock was consumed at the now-reversed cost in
// between or the remaining value would go negative, the compensating
// movement keeps the current average and is flagged for manual review.
func (l *Ledger) ReverseReceipt(ctx context.Context, tx TxRepository, input ReverseInput) (Movement, error) {
	original, err := tx.GetMovement(ctx, input.TenantID, input.MovementID)
	if err != nil {
		return Movement{}, err
	}
	if original.MovementType != MovementIn {
		return Movement{}, fmt.Errorf("%w: movement %d is not a receipt", shared.ErrValidation, original.ID)
	}
	item, err := tx.GetStockItemForUpdate(ctx, input.TenantID, original.StockItemID)
	if err != nil {
		return Movement{}, err
	}
	if original.Quantity > item.OnHand {
		return Movement{}, fmt.Errorf("%w: item %s has %d on hand, reversal needs %d",
			shared.ErrInsufficientStock, item.SKU, item.OnHand, original.Quantity)
	}

	consumedSince, err := tx.HasOutboundSince(ctx, input.TenantID, item.ID, original.ID)
	if err != nil {
		return Movement{}, err
	}

	newOnHand := item.OnHand - original.Quantity
	remainingValue := item.OnHand*item.AverageCostCents - original.Quantity*original.UnitCostCents

	newAverage := item.AverageCostCents
	needsReview := consumedSince || remainingValue < 0
	if !needsReview {
		if newOnHand == 0 {
			newAverage = 0
		} else {
			newAverage = money.RoundHalfUpDiv(remainingValue, newOnHand)
		}
	}

	movement := Movement{
		TenantID:       input.TenantID,
		StockItemID:    item.ID,
		SourceType:     input.SourceType,
		SourceID:       input.SourceID,
		MovementType:   MovementOut,
		Quantity:       original.Quantity,
		UnitCostCents:  original.UnitCostCents,
		QuantityBefore: item.OnHand,
		CostBefore:     item.AverageCostCents,
		ReversesID:     &original.ID,
		NeedsReview:    needsReview,
		Note:           input.Note,
		ActorID:        input.ActorID,
		CreatedAt:      time.Now().UTC(),
	}

	item.OnHand = newOnHand
	item.AverageCostCents = newAverage

	movement.QuantityAfter = item.OnHand
	movement.CostAfter = item.AverageCostCents

	return l.commit(ctx, tx, item, movement)
}

// ReverseConsumption compensates a prior OUT movement (sale cancellation).
// Stock comes back at the cost the consumption was valued at and the
// weighted average is recomputed accordingly.
func (l *Ledger) ReverseConsumption(ctx context.Context, tx TxRepository, input ReverseInput) (Movement, error) {
	original, err := tx.GetMovement(ctx, input.TenantID, input.MovementID)
	if err != nil {
		return Movement{}, err
	}
	if original.MovementType != MovementOut {
		return Movement{}, fmt.Errorf("%w: movement %d is not a consumption", shared.ErrValidation, original.ID)
	}
	item, err := tx.GetStockItemForUpdate(ctx, input.TenantID, original.StockItemID)
	if err != nil {
		return Movement{}, err
	}

	movement := Movement{
		TenantID:       input.TenantID,
		StockItemID:    item.ID,
		SourceType:     input.SourceType,
		SourceID:       input.SourceID,
		MovementType:   MovementIn,
		Quantity:       original.Quantity,
		UnitCostCents:  original.UnitCostCents,
		QuantityBefore: item.OnHand,
		CostBefore:     item.AverageCostCents,
		ReversesID:     &original.ID,
		Note:           input.Note,
		ActorID:        input.ActorID,
		CreatedAt:      time.Now().UTC(),
	}

	item.AverageCostCents = money.WeightedAverageCost(item.OnHand, item.AverageCostCents, original.Quantity, original.UnitCostCents)
	item.OnHand += original.Quantity

	movement.QuantityAfter = item.OnHand
	movement.CostAfter = item.AverageCostCents

	return l.commit(ctx, tx, item, movement)
}

func (l *Ledger) commit(ctx context.Context, tx TxRepository, item StockItem, movement Movement) (Movement, error) {
	if err := tx.UpdateStockLevels(ctx, item); err != nil {
		return Movement{}, err
	}
	id, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return Movement{}, err
	}
	movement.ID = id
	return movement, nil
}
