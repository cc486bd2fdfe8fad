package procurement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryInventory struct {
	items     map[int64]inventory.StockItem
	movements []inventory.Movement
	nextID    int64
}

func (r *memoryInventory) GetStockItemForUpdate(ctx context.Context, tenantID, stockItemID int64) (inventory.StockItem, error) {
	item, ok := r.items[stockItemID]
	if !ok || item.TenantID != tenantID {
		return inventory.StockItem{}, fmt.Errorf("%w: stock item %d", shared.ErrNotFound, stockItemID)
	}
	return item, nil
}

func (r *memoryInventory) UpdateStockLevels(ctx context.Context, item inventory.StockItem) error {
	r.items[item.ID] = item
	return nil
}

func (r *memoryInventory) InsertMovement(ctx context.Context, m inventory.Movement) (int64, error) {
	r.nextID++
	m.ID = r.nextID
	r.movements = append(r.movements, m)
	return m.ID, nil
}

func (r *memoryInventory) GetMovement(ctx context.Context, tenantID, movementID int64) (inventory.Movement, error) {
	for _, m := range r.movements {
		if m.ID == movementID && m.TenantID == tenantID {
			return m, nil
		}
	}
	return inventory.Movement{}, fmt.Errorf("%w: movement %d", shared.ErrNotFound, movementID)
}

func (r *memoryInventory) HasOutboundSince(ctx context.Context, tenantID, stockItemID, movementID int64) (bool, error) {
	for _, m := range r.movements {
		if m.TenantID == tenantID && m.StockItemID == stockItemID && m.ID > movementID &&
			m.MovementType == inventory.MovementOut && m.ReversesID == nil {
			return true, nil
		}
	}
	return false, nil
}

type memoryCounters struct {
	next map[string]int64
}

func (c *memoryCounters) Increment(ctx context.Context, tenantID int64, key string) (sequence.Counter, error) {
	if c.next == nil {
		c.next = map[string]int64{}
	}
	mapKey := fmt.Sprintf("%d/%s", tenantID, key)
	c.next[mapKey]++
	return sequence.Counter{TenantID: tenantID, Key: key, NextNumber: c.next[mapKey]}, nil
}

type memoryRepo struct {
	inv      *memoryInventory
	counters *memoryCounters
	grvs     map[int64]GRV
	bills    map[int64]SupplierBill
	nextID   int64
}

func newMemoryRepo(items ...inventory.StockItem) *memoryRepo {
	inv := &memoryInventory{items: make(map[int64]inventory.StockItem)}
	for _, item := range items {
		inv.items[item.ID] = item
	}
	return &memoryRepo{
		inv:      inv,
		counters: &memoryCounters{},
		grvs:     make(map[int64]GRV),
		bills:    make(map[int64]SupplierBill),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	itemsSnap := make(map[int64]inventory.StockItem, len(r.inv.items))
	for id, item := range r.inv.items {
		itemsSnap[id] = item
	}
	movsSnap := len(r.inv.movements)
	grvsSnap := make(map[int64]GRV, len(r.grvs))
	for id, g := range r.grvs {
		grvsSnap[id] = cloneGRV(g)
	}
	billsSnap := make(map[int64]SupplierBill, len(r.bills))
	for id, b := range r.bills {
		billsSnap[id] = cloneBill(b)
	}
	if err := fn(ctx, r); err != nil {
		r.inv.items = itemsSnap
		r.inv.movements = r.inv.movements[:movsSnap]
		r.grvs = grvsSnap
		r.bills = billsSnap
		return err
	}
	return nil
}

func cloneGRV(g GRV) GRV {
	g.Lines = append([]GRVLine(nil), g.Lines...)
	return g
}

func cloneBill(b SupplierBill) SupplierBill {
	b.Lines = append([]BillLine(nil), b.Lines...)
	b.GRVIDs = append([]int64(nil), b.GRVIDs...)
	return b
}

func (r *memoryRepo) Inventory() inventory.TxRepository { return r.inv }

func (r *memoryRepo) Counters() sequence.CounterStore { return r.counters }

func (r *memoryRepo) InsertGRV(ctx context.Context, grv GRV) (int64, error) {
	r.nextID++
	grv.ID = r.nextID
	r.grvs[grv.ID] = cloneGRV(grv)
	return grv.ID, nil
}

func (r *memoryRepo) InsertGRVLines(ctx context.Context, grvID int64, lines []GRVLine) error {
	grv := r.grvs[grvID]
	for i := range lines {
		r.nextID++
		lines[i].ID = r.nextID
	}
	grv.Lines = append([]GRVLine(nil), lines...)
	r.grvs[grvID] = grv
	return nil
}

func (r *memoryRepo) DeleteGRVLines(ctx context.Context, grvID int64) error {
	grv := r.grvs[grvID]
	grv.Lines = nil
	r.grvs[grvID] = grv
	return nil
}

func (r *memoryRepo) GetGRVForUpdate(ctx context.Context, tenantID, grvID int64) (GRV, error) {
	grv, ok := r.grvs[grvID]
	if !ok || grv.TenantID != tenantID {
		return GRV{}, fmt.Errorf("%w: grv %d", shared.ErrNotFound, grvID)
	}
	return cloneGRV(grv), nil
}

func (r *memoryRepo) UpdateGRV(ctx context.Context, grv GRV) error {
	stored, ok := r.grvs[grv.ID]
	if !ok {
		return fmt.Errorf("%w: grv %d", shared.ErrNotFound, grv.ID)
	}
	stored.Status = grv.Status
	stored.Totals = grv.Totals
	stored.BillID = grv.BillID
	stored.PostedAt = grv.PostedAt
	stored.PostedBy = grv.PostedBy
	r.grvs[grv.ID] = stored
	return nil
}

func (r *memoryRepo) SetGRVLineMovement(ctx context.Context, lineID, movementID int64) error {
	for grvID, grv := range r.grvs {
		for i := range grv.Lines {
			if grv.Lines[i].ID == lineID {
				grv.Lines[i].ReceiveMovementID = &movementID
				r.grvs[grvID] = grv
				return nil
			}
		}
	}
	return fmt.Errorf("%w: grv line %d", shared.ErrNotFound, lineID)
}

func (r *memoryRepo) InsertBill(ctx context.Context, bill SupplierBill) (int64, error) {
	r.nextID++
	bill.ID = r.nextID
	r.bills[bill.ID] = cloneBill(bill)
	return bill.ID, nil
}

func (r *memoryRepo) InsertBillLines(ctx context.Context, billID int64, lines []BillLine) error {
	bill := r.bills[billID]
	for i := range lines {
		r.nextID++
		lines[i].ID = r.nextID
	}
	bill.Lines = append([]BillLine(nil), lines...)
	r.bills[billID] = bill
	return nil
}

func (r *memoryRepo) GetBillForUpdate(ctx context.Context, tenantID, billID int64) (SupplierBill, error) {
	bill, ok := r.bills[billID]
	if !ok || bill.TenantID != tenantID {
		return SupplierBill{}, fmt.Errorf("%w: bill %d", shared.ErrNotFound, billID)
	}
	return cloneBill(bill), nil
}

func (r *memoryRepo) UpdateBill(ctx context.Context, bill SupplierBill) error {
	stored, ok := r.bills[bill.ID]
	if !ok {
		return fmt.Errorf("%w: bill %d", shared.ErrNotFound, bill.ID)
	}
	stored.Status = bill.Status
	stored.PaidCents = bill.PaidCents
	stored.BalanceDueCents = bill.BalanceDueCents
	stored.PostedAt = bill.PostedAt
	stored.VoidWarning = bill.VoidWarning
	r.bills[bill.ID] = stored
	return nil
}

func (r *memoryRepo) GetStockItem(ctx context.Context, tenantID, stockItemID int64) (inventory.StockItem, error) {
	return r.inv.GetStockItemForUpdate(ctx, tenantID, stockItemID)
}

func (r *memoryRepo) GetGRV(ctx context.Context, tenantID, grvID int64) (GRV, error) {
	return r.GetGRVForUpdate(ctx, tenantID, grvID)
}

func (r *memoryRepo) GetBill(ctx context.Context, tenantID, billID int64) (SupplierBill, error) {
	return r.GetBillForUpdate(ctx, tenantID, billID)
}

func (r *memoryRepo) ListUnbilledGRVs(ctx context.Context, tenantID, supplierID int64) ([]GRV, error) {
	var grvs []GRV
	for _, grv := range r.grvs {
		if grv.TenantID == tenantID && grv.SupplierID == supplierID &&
			grv.Status == GRVStatusPosted && !grv.Billed() {
			grvs = append(grvs, cloneGRV(grv))
		}
	}
	return grvs, nil
}

func widget(id int64) inventory.StockItem {
	return inventory.StockItem{
		ID: id, TenantID: 1, SKU: fmt.Sprintf("SKU-%d", id), Name: "Widget", Unit: "EA",
		VATRateBps: 1500, TrackInventory: true, UpdatedAt: time.Now(),
	}
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, inventory.NewLedger(), nil, nil)
}

func TestCreateGRVDiscounts(t *testing.T) {
	repo := newMemoryRepo(widget(1), widget(2))
	svc := newTestService(repo)
	ctx := context.Background()

	grv, err := svc.CreateGRV(ctx, CreateGRVInput{
		TenantID: 1, SupplierID: 3, VATMode: money.VATModeExclusive,
		Lines: []GRVLineInput{
			{StockItemID: 1, ReceivedQty: 10, UnitCostCents: 500, DiscountType: money.DiscountTypePercent, DiscountValue: 1000},
			{StockItemID: 2, ReceivedQty: 10, UnitCostCents: 500, DiscountType: money.DiscountTypeAmount, DiscountValue: 50},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "GRV-00001", grv.Number)
	require.Equal(t, GRVStatusDraft, grv.Status)

	// 10% of 5000 and 50c per unit both discount 500.
	require.Equal(t, int64(500), grv.Lines[0].DiscountCents)
	require.Equal(t, int64(500), grv.Lines[1].DiscountCents)
	require.Equal(t, int64(4500), grv.Lines[0].SubTotalCents)
	require.Equal(t, int64(675), grv.Lines[0].VATAmountCents)
	require.Equal(t, int64(5175), grv.Lines[0].TotalCents)

	require.Equal(t, int64(9000), grv.Totals.SubTotalCents)
	require.Equal(t, int64(1350), grv.Totals.VATTotalCents)
	require.Equal(t, int64(10350), grv.Totals.TotalCents)
}

func TestPostGRVBooksReceipts(t *testing.T) {
	repo := newMemoryRepo(widget(1), widget(2))
	svc := newTestService(repo)
	ctx := context.Background()

	grv, err := svc.CreateGRV(ctx, CreateGRVInput{
		TenantID: 1, SupplierID: 3, VATMode: money.VATModeExclusive,
		Lines: []GRVLineInput{
			{StockItemID: 1, ReceivedQty: 10, UnitCostCents: 500, DiscountType: money.DiscountTypePercent, DiscountValue: 1000},
			{StockItemID: 2, ReceivedQty: 4, UnitCostCents: 300},
		},
	})
	require.NoError(t, err)

	posted, err := svc.PostGRV(ctx, 1, grv.ID, 9)
	require.NoError(t, err)
	require.Equal(t, GRVStatusPosted, posted.Status)
	require.NotNil(t, posted.PostedAt)
	require.NotNil(t, posted.PostedBy)
	require.NotNil(t, posted.Lines[0].ReceiveMovementID)

	require.Len(t, repo.inv.movements, 2)
	require.Equal(t, inventory.MovementIn, repo.inv.movements[0].MovementType)
	// Net unit cost after the 10% discount.
	require.Equal(t, int64(450), repo.inv.movements[0].UnitCostCents)

	require.Equal(t, int64(10), repo.inv.items[1].OnHand)
	require.Equal(t, int64(450), repo.inv.items[1].AverageCostCents)
	require.Equal(t, int64(4), repo.inv.items[2].OnHand)
	require.Equal(t, int64(300), repo.inv.items[2].AverageCostCents)

	_, err = svc.PostGRV(ctx, 1, grv.ID, 9)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = svc.UpdateGRVLines(ctx, 1, grv.ID, 9, []GRVLineInput{{StockItemID: 1, ReceivedQty: 1, UnitCostCents: 100}})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCancelPostedGRVReversesReceipts(t *testing.T) {
	repo := newMemoryRepo(widget(1), widget(2))
	svc := newTestService(repo)
	ctx := context.Background()

	grv, err := svc.CreateGRV(ctx, CreateGRVInput{
		TenantID: 1, SupplierID: 3,
		Lines: []GRVLineInput{
			{StockItemID: 1, ReceivedQty: 10, UnitCostCents: 500},
			{StockItemID: 2, ReceivedQty: 4, UnitCostCents: 300},
		},
	})
	require.NoError(t, err)
	_, err = svc.PostGRV(ctx, 1, grv.ID, 9)
	require.NoError(t, err)

	cancelled, err := svc.CancelGRV(ctx, 1, grv.ID, 9)
	require.NoError(t, err)
	require.Equal(t, GRVStatusCancelled, cancelled.Status)

	require.Len(t, repo.inv.movements, 4)
	require.Equal(t, int64(0), repo.inv.items[1].OnHand)
	require.Equal(t, int64(0), repo.inv.items[2].OnHand)
	// Reverse line order: item 2's receipt is compensated first.
	require.Equal(t, int64(2), repo.inv.movements[2].StockItemID)
	require.NotNil(t, repo.inv.movements[2].ReversesID)
}

func TestCancelDraftGRVNoInventoryEffect(t *testing.T) {
	repo := newMemoryRepo(widget(1))
	svc := newTestService(repo)
	ctx := context.Background()

	grv, err := svc.CreateGRV(ctx, CreateGRVInput{
		TenantID: 1, SupplierID: 3,
		Lines: []GRVLineInput{{StockItemID: 1, ReceivedQty: 5, UnitCostCents: 100}},
	})
	require.NoError(t, err)

	cancelled, err := svc.CancelGRV(ctx, 1, grv.ID, 9)
	require.NoError(t, err)
	require.Equal(t, GRVStatusCancelled, cancelled.Status)
	require.Empty(t, repo.inv.movements)
}

func TestCreateBillAggregatesPostedGRVs(t *testing.T) {
	repo := newMemoryRepo(widget(1), widget(2))
	svc := newTestService(repo)
	ctx := context.Background()

	var grvIDs []int64
	for _, itemID := range []int64{1, 2} {
		grv, err := svc.CreateGRV(ctx, CreateGRVInput{
			TenantID: 1, SupplierID: 3, VATMode: money.VATModeExclusive,
			Lines: []GRVLineInput{{StockItemID: itemID, ReceivedQty: 2, UnitCostCents: 1000}},
		})
		require.NoError(t, err)
		_, err = svc.PostGRV(ctx, 1, grv.ID, 9)
		require.NoError(t, err)
		grvIDs = append(grvIDs, grv.ID)
	}

	bill, err := svc.CreateBill(ctx, CreateBillInput{TenantID: 1, SupplierID: 3, GRVIDs: grvIDs})
	require.NoError(t, err)
	require.Equal(t, "BILL-00001", bill.Number)
	require.Equal(t, BillStatusDraft, bill.Status)
	require.Len(t, bill.Lines, 2)
	require.Equal(t, grvIDs[0], bill.Lines[0].GRVID)
	require.Equal(t, grvIDs[1], bill.Lines[1].GRVID)
	require.Equal(t, int64(4000), bill.Totals.SubTotalCents)
	require.Equal(t, int64(600), bill.Totals.VATTotalCents)

	for _, grvID := range grvIDs {
		grv, err := svc.GetGRV(ctx, 1, grvID)
		require.NoError(t, err)
		require.True(t, grv.Billed())
	}

	// Billed vouchers cannot be selected twice or cancelled.
	_, err = svc.CreateBill(ctx, CreateBillInput{TenantID: 1, SupplierID: 3, GRVIDs: grvIDs[:1]})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.CancelGRV(ctx, 1, grvIDs[0], 9)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCreateBillRejectsDraftAndForeignGRVs(t *testing.T) {
	repo := newMemoryRepo(widget(1))
	svc := newTestService(repo)
	ctx := context.Background()

	draft, err := svc.CreateGRV(ctx, CreateGRVInput{
		TenantID: 1, SupplierID: 3,
		Lines: []GRVLineInput{{StockItemID: 1, ReceivedQty: 1, UnitCostCents: 100}},
	})
	require.NoError(t, err)

	_, err = svc.CreateBill(ctx, CreateBillInput{TenantID: 1, SupplierID: 3, GRVIDs: []int64{draft.ID}})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.PostGRV(ctx, 1, draft.ID, 9)
	require.NoError(t, err)
	_, err = svc.CreateBill(ctx, CreateBillInput{TenantID: 1, SupplierID: 4, GRVIDs: []int64{draft.ID}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestBillLifecycleVoidWarning(t *testing.T) {
	repo := newMemoryRepo(widget(1))
	svc := newTestService(repo)
	ctx := context.Background()

	grv, err := svc.CreateGRV(ctx, CreateGRVInput{
		TenantID: 1, SupplierID: 3, VATMode: money.VATModeExclusive,
		Lines: []GRVLineInput{{StockItemID: 1, ReceivedQty: 2, UnitCostCents: 1000}},
	})
	require.NoError(t, err)
	_, err = svc.PostGRV(ctx, 1, grv.ID, 9)
	require.NoError(t, err)

	bill, err := svc.CreateBill(ctx, CreateBillInput{TenantID: 1, SupplierID: 3, GRVIDs: []int64{grv.ID}})
	require.NoError(t, err)

	_, err = svc.VoidBill(ctx, 1, bill.ID, 9)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	posted, err := svc.PostBill(ctx, 1, bill.ID, 9)
	require.NoError(t, err)
	require.Equal(t, BillStatusPosted, posted.Status)
	require.Equal(t, posted.Totals.TotalCents, posted.BalanceDueCents)

	stored := repo.bills[bill.ID]
	stored.Status = BillStatusPartiallyPaid
	stored.PaidCents = 500
	stored.BalanceDueCents -= 500
	repo.bills[bill.ID] = stored

	voided, err := svc.VoidBill(ctx, 1, bill.ID, 9)
	require.NoError(t, err)
	require.Equal(t, BillStatusVoided, voided.Status)
	require.NotEmpty(t, voided.VoidWarning)
	require.Equal(t, int64(0), voided.BalanceDueCents)
}
