package inventory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	items     map[int64]StockItem
	movements []Movement
	nextID    int64
}

func newMemoryRepo(items ...StockItem) *memoryRepo {
	repo := &memoryRepo{items: make(map[int64]StockItem)}
	for _, item := range items {
		repo.items[item.ID] = item
	}
	return repo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshotItems := make(map[int64]StockItem, len(r.items))
	for id, item := range r.items {
		snapshotItems[id] = item
	}
	snapshotMovs := len(r.movements)
	if err := fn(ctx, r); err != nil {
		r.items = snapshotItems
		r.movements = r.movements[:snapshotMovs]
		return err
	}
	return nil
}

func (r *memoryRepo) GetStockItemForUpdate(ctx context.Context, tenantID, stockItemID int64) (StockItem, error) {
	item, ok := r.items[stockItemID]
	if !ok || item.TenantID != tenantID {
		return StockItem{}, fmt.Errorf("%w: stock item %d", shared.ErrNotFound, stockItemID)
	}
	return item, nil
}

func (r *memoryRepo) GetStockItem(ctx context.Context, tenantID, stockItemID int64) (StockItem, error) {
	return r.GetStockItemForUpdate(ctx, tenantID, stockItemID)
}

func (r *memoryRepo) UpdateStockLevels(ctx context.Context, item StockItem) error {
	r.items[item.ID] = item
	return nil
}

func (r *memoryRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	r.nextID++
	m.ID = r.nextID
	r.movements = append(r.movements, m)
	return m.ID, nil
}

func (r *memoryRepo) GetMovement(ctx context.Context, tenantID, movementID int64) (Movement, error) {
	for _, m := range r.movements {
		if m.ID == movementID && m.TenantID == tenantID {
			return m, nil
		}
	}
	return Movement{}, fmt.Errorf("%w: movement %d", shared.ErrNotFound, movementID)
}

func (r *memoryRepo) HasOutboundSince(ctx context.Context, tenantID, stockItemID, movementID int64) (bool, error) {
	for _, m := range r.movements {
		if m.TenantID == tenantID && m.StockItemID == stockItemID && m.ID > movementID &&
			m.MovementType == MovementOut && m.ReversesID == nil {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, tenantID int64, filter MovementFilter) ([]Movement, error) {
	result := []Movement{}
	for _, m := range r.movements {
		if m.TenantID == tenantID && m.StockItemID == filter.StockItemID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (r *memoryRepo) ListNeedsReview(ctx context.Context, tenantID int64, limit int) ([]Movement, error) {
	result := []Movement{}
	for _, m := range r.movements {
		if m.TenantID == tenantID && m.NeedsReview {
			result = append(result, m)
		}
	}
	return result, nil
}

func trackedItem(id int64) StockItem {
	return StockItem{ID: id, TenantID: 1, SKU: fmt.Sprintf("SKU-%d", id), Name: "Widget", Unit: "EA", TrackInventory: true, UpdatedAt: time.Now()}
}

func TestReceiveWeightedAverage(t *testing.T) {
	repo := newMemoryRepo(trackedItem(1))
	ledger := NewLedger()
	ctx := context.Background()

	var err error
	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ledger.Receive(ctx, tx, ReceiveInput{TenantID: 1, StockItemID: 1, Quantity: 10, UnitCostCents: 100, SourceType: SourceGRV, SourceID: "grv-1"})
		return err
	})
	require.NoError(t, err)
	item := repo.items[1]
	require.Equal(t, int64(10), item.OnHand)
	require.Equal(t, int64(100), item.AverageCostCents)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ledger.Receive(ctx, tx, ReceiveInput{TenantID: 1, StockItemID: 1, Quantity: 10, UnitCostCents: 200, SourceType: SourceGRV, SourceID: "grv-2"})
		return err
	})
	require.NoError(t, err)
	item = repo.items[1]
	require.Equal(t, int64(20), item.OnHand)
	require.Equal(t, int64(150), item.AverageCostCents)
	require.Equal(t, int64(200), item.CostPriceCents, "last purchase cost tracks the latest receipt")

	require.Len(t, repo.movements, 2)
	first := repo.movements[0]
	require.Equal(t, MovementIn, first.MovementType)
	require.Equal(t, int64(0), first.QuantityBefore)
	require.Equal(t, int64(10), first.QuantityAfter)
	require.Equal(t, int64(100), first.CostAfter)
}

func TestConsumeValuedAtAverageCost(t *testing.T) {
	repo := newMemoryRepo(trackedItem(1))
	ledger := NewLedger()
	ctx := context.Background()

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := ledger.Receive(ctx, tx, ReceiveInput{TenantID: 1, StockItemID: 1, Quantity: 10, UnitCostCents: 100, SourceType: SourceGRV, SourceID: "grv-1"}); err != nil {
			return err
		}
		if _, err := ledger.Receive(ctx, tx, ReceiveInput{TenantID: 1, StockItemID: 1, Quantity: 10, UnitCostCents: 200, SourceType: SourceGRV, SourceID: "grv-2"}); err != nil {
			return err
		}
		_, err := ledger.Consume(ctx, tx, ConsumeInput{TenantID: 1, StockItemID: 1, Quantity: 5, SourceType: SourceSale, SourceID: "inv-1"})
		return err
	})
	require.NoError(t, err)

	item := repo.items[1]
	require.Equal(t, int64(15), item.OnHand)
	require.Equal(t, int64(150), item.AverageCostCents)

	out := repo.movements[2]
	require.Equal(t, MovementOut, out.MovementType)
	require.Equal(t, int64(150), out.UnitCostCents, "consumption valued at average cost")
}

func TestConsumeInsufficientStock(t *testing.T) {
	repo := newMemoryRepo(trackedItem(1))
	ledger := NewLedger()
	ctx := context.Background()

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ledger.Receive(ctx, tx, ReceiveInput{TenantID: 1, StockItemID: 1, Quantity: 20, UnitCostCents: 100, SourceType: SourceGRV, SourceID: "grv-1"})
		return err
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ledger.Consume(ctx, tx, ConsumeInput{TenantID: 1, StockItemID: 1, Quantity: 25, SourceType: SourceSale, SourceID: "inv-1"})
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(20), repo.items[1].OnHand, "failed consume leaves on-hand unchanged")
	require.Len(t, repo.movements, 1, "no movement appended on failure")
}

func TestConsumeReservedReducesAvailable(t *testing.T) {
	item := trackedItem(1)
	item.OnHand = 10
	item.Reserved = 4
	item.AverageCostCents = 100
	repo := newMemoryRepo(item)
	ledger := NewLedger()

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		_, err := ledger.Consume(ctx, tx, ConsumeInput{TenantID: 1, StockItemID: 1, Quantity: 7, SourceType: SourceSale, SourceID: "inv-1"})
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestConsumeUntrackedSkipsCheck(t *testing.T) {
	item := trackedItem(1)
	item.TrackInventory = false
	repo := newMemoryRepo(item)
	ledger := NewLedger()

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		_, err := ledger.Consume(ctx, tx, ConsumeInput{TenantID: 1, StockItemID: 1, Quantity: 5, SourceType: SourceSale, SourceID: "inv-1"})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(-5), repo.items[1].OnHand)
}

func TestReverseReceiptRestoresCostBasis(t *testing.T) {
	repo := newMemoryRepo(trackedItem(1))
	ledger := NewLedger()
	ctx := context.Background()

	var receipt Movement
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := ledger.Receive(ctx, tx, ReceiveInput{TenantID: 1, StockItemID: 1, Quantity: 10, UnitCostCents: 100, SourceType: SourceGRV, SourceID: "grv-1"}); err != nil {
			return err
		}
		var err error
		receipt, err = ledger.Receive(ctx, tx, ReceiveInput{TenantID: 1, StockItemID: 1, Quantity: 10, UnitCostCents: 200, SourceType: SourceGRV, SourceID: "grv-2"})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(150), repo.items[1].AverageCostCents)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ledger.ReverseReceipt(ctx, tx, ReverseInput{TenantID: 1, MovementID: receipt.ID, SourceType: SourceCancelGRV, SourceID: "grv-2"})
		return err
	})
	require.NoError(t, err)

	item := repo.items[1]
	require.Equal(t, int64(10), item.OnHand)
	require.Equal(t, int64(100), item.AverageCostCents, "average recomputed as if the receipt never happened")

	compensating := repo.movements[len(repo.movements)-1]
	require.Equal(t, MovementOut, compensating.MovementType)
	require.False(t, compensating.NeedsReview)
	require.NotNil(t, compensating.ReversesID)
	require.Equal(t, receipt.ID, *compensating.ReversesID)
}

func TestReverseReceiptFlagsReviewAfterConsumption(t *testing.T) {
	repo := newMemoryRepo(trackedItem(1))
	ledger := NewLedger()
	ctx := context.Background()

	var receipt Movement
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		receipt, err = ledger.Receive(ctx, tx, ReceiveInput{TenantID: 1, StockItemID: 1, Quantity: 10, UnitCostCents: 200, SourceType: SourceGRV, SourceID: "grv-1"})
		if err != nil {
			return err
		}
		if _, err := ledger.Receive(ctx, tx, ReceiveInput{TenantID: 1, StockItemID: 1, Quantity: 10, UnitCostCents: 100, SourceType: SourceGRV, SourceID: "grv-2"}); err != nil {
			return err
		}
		_, err = ledger.Consume(ctx, tx, ConsumeInput{TenantID: 1, StockItemID: 1, Quantity: 8, SourceType: SourceSale, SourceID: "inv-1"})
		return err
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ledger.ReverseReceipt(ctx, tx, ReverseInput{TenantID: 1, MovementID: receipt.ID, SourceType: SourceCancelGRV, SourceID: "grv-1"})
		return err
	})
	require.NoError(t, err)

	compensating := repo.movements[len(repo.movements)-1]
	require.True(t, compensating.NeedsReview, "intervening consumption makes the recompute ill-defined")
	require.Equal(t, int64(2), repo.items[1].OnHand)
	require.Equal(t, compensating.CostBefore, repo.items[1].AverageCostCents, "average untouched pending manual review")

	review, err := repo.ListNeedsReview(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, review, 1)
}

func TestReverseReceiptInsufficientOnHand(t *testing.T) {
	repo := newMemoryRepo(trackedItem(1))
	ledger := NewLedger()
	ctx := context.Background()

	var receipt Movement
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		receipt, err = ledger.Receive(ctx, tx, ReceiveInput{TenantID: 1, StockItemID: 1, Quantity: 10, UnitCostCents: 100, SourceType: SourceGRV, SourceID: "grv-1"})
		if err != nil {
			return err
		}
		_, err = ledger.Consume(ctx, tx, ConsumeInput{TenantID: 1, StockItemID: 1, Quantity: 5, SourceType: SourceSale, SourceID: "inv-1"})
		return err
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ledger.ReverseReceipt(ctx, tx, ReverseInput{TenantID: 1, MovementID: receipt.ID, SourceType: SourceCancelGRV, SourceID: "grv-1"})
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestReverseConsumptionRestoresStock(t *testing.T) {
	repo := newMemoryRepo(trackedItem(1))
	ledger := NewLedger()
	ctx := context.Background()

	var sale Movement
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := ledger.Receive(ctx, tx, ReceiveInput{TenantID: 1, StockItemID: 1, Quantity: 10, UnitCostCents: 150, SourceType: SourceGRV, SourceID: "grv-1"}); err != nil {
			return err
		}
		var err error
		sale, err = ledger.Consume(ctx, tx, ConsumeInput{TenantID: 1, StockItemID: 1, Quantity: 4, SourceType: SourceSale, SourceID: "inv-1"})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(6), repo.items[1].OnHand)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ledger.ReverseConsumption(ctx, tx, ReverseInput{TenantID: 1, MovementID: sale.ID, SourceType: SourceCancelSale, SourceID: "inv-1"})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), repo.items[1].OnHand)
	require.Equal(t, int64(150), repo.items[1].AverageCostCents)
}

func TestPostAdjustment(t *testing.T) {
	repo := newMemoryRepo(trackedItem(1))
	svc := NewService(repo, NewLedger(), nil, nil, nil)
	ctx := context.Background()

	movement, err := svc.PostAdjustment(ctx, AdjustmentInput{TenantID: 1, StockItemID: 1, Quantity: 12, UnitCostCents: 80, Note: "opening stock"})
	require.NoError(t, err)
	require.Equal(t, MovementIn, movement.MovementType)
	require.Equal(t, int64(12), repo.items[1].OnHand)

	movement, err = svc.PostAdjustment(ctx, AdjustmentInput{TenantID: 1, StockItemID: 1, Quantity: -2, Note: "damaged"})
	require.NoError(t, err)
	require.Equal(t, MovementOut, movement.MovementType)
	require.Equal(t, int64(10), repo.items[1].OnHand)

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{TenantID: 1, StockItemID: 1, Quantity: 0})
	require.ErrorIs(t, err, shared.ErrValidation)
}
