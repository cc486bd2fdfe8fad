package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Counter keys used by the procurement module.
const (
	CounterGRV  = "GRV"
	CounterBill = "BILL"
)

// TxRepository exposes transactional operations used by the service. The
// inventory and counter surfaces are bound to the same transaction, so a
// posting and its stock movements commit or roll back as one unit.
type TxRepository interface {
	Inventory() inventory.TxRepository
	Counters() sequence.CounterStore

	InsertGRV(ctx context.Context, grv GRV) (int64, error)
	InsertGRVLines(ctx context.Context, grvID int64, lines []GRVLine) error
	DeleteGRVLines(ctx context.Context, grvID int64) error
	GetGRVForUpdate(ctx context.Context, tenantID, grvID int64) (GRV, error)
	UpdateGRV(ctx context.Context, grv GRV) error
	SetGRVLineMovement(ctx context.Context, lineID, movementID int64) error

	InsertBill(ctx context.Context, bill SupplierBill) (int64, error)
	InsertBillLines(ctx context.Context, billID int64, lines []BillLine) error
	GetBillForUpdate(ctx context.Context, tenantID, billID int64) (SupplierBill, error)
	UpdateBill(ctx context.Context, bill SupplierBill) error

	GetStockItem(ctx context.Context, tenantID, stockItemID int64) (inventory.StockItem, error)
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetGRV(ctx context.Context, tenantID, grvID int64) (GRV, error)
	GetBill(ctx context.Context, tenantID, billID int64) (SupplierBill, error)
	ListUnbilledGRVs(ctx context.Context, tenantID, supplierID int64) ([]GRV, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records applied document transitions.
type MetricsPort interface {
	TransitionApplied(doc, action string)
}

// Service owns the goods received voucher and supplier bill state
// machines and the voucher to bill aggregation.
type Service struct {
	repo    RepositoryPort
	ledger  *inventory.Ledger
	audit   AuditPort
	metrics MetricsPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *inventory.Ledger, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit, metrics: metrics}
}

// CreateGRVInput describes a new draft voucher.
type CreateGRVInput struct {
	TenantID   int64
	SupplierID int64
	VATMode    money.VATMode
	Reference  string
	Note       string
	Lines      []GRVLineInput
	ActorID    int64
}

// GRVLineInput describes one requested voucher line.
type GRVLineInput struct {
	StockItemID   int64
	ReceivedQty   int64
	UnitCostCents int64
	DiscountType  money.DiscountType
	DiscountValue int64
}

// CreateBillInput describes a new draft supplier bill aggregated from
// posted vouchers.
type CreateBillInput struct {
	TenantID   int64
	SupplierID int64
	GRVIDs     []int64
	DueDate    time.Time
	Note       string
	ActorID    int64
}

// CreateGRV persists a draft voucher with snapshot lines and a sequencer
// number.
func (s *Service) CreateGRV(ctx context.Context, input CreateGRVInput) (GRV, error) {
	if input.TenantID <= 0 || input.SupplierID <= 0 {
		return GRV{}, fmt.Errorf("%w: tenant and supplier required", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return GRV{}, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	grv := GRV{
		TenantID:   input.TenantID,
		SupplierID: input.SupplierID,
		Status:     GRVStatusDraft,
		VATMode:    normalizeVATMode(input.VATMode),
		Reference:  input.Reference,
		Note:       input.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines, totals, err := s.buildLines(ctx, tx, input.TenantID, input.Lines, grv.VATMode)
		if err != nil {
			return err
		}
		issued, err := sequence.Next(ctx, tx.Counters(), input.TenantID, CounterGRV)
		if err != nil {
			return err
		}
		grv.Number = issued.Formatted
		grv.Totals = totals
		grv.Lines = lines

		id, err := tx.InsertGRV(ctx, grv)
		if err != nil {
			return err
		}
		grv.ID = id
		return tx.InsertGRVLines(ctx, id, lines)
	})
	if err != nil {
		return GRV{}, err
	}
	s.observe("grv", "create")
	s.recordAudit(ctx, input.TenantID, input.ActorID, "procurement:grv_create", "grv", grv.ID, map[string]any{"number": grv.Number})
	return grv, nil
}

// UpdateGRVLines replaces the lines of a draft voucher and recomputes its
// totals. Posted and cancelled vouchers are locked.
func (s *Service) UpdateGRVLines(ctx context.Context, tenantID, grvID, actorID int64, inputs []GRVLineInput) (GRV, error) {
	if len(inputs) == 0 {
		return GRV{}, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	var grv GRV
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		grv, err = tx.GetGRVForUpdate(ctx, tenantID, grvID)
		if err != nil {
			return err
		}
		if grv.Status != GRVStatusDraft {
			return shared.NewTransitionError("grv", grvID, string(grv.Status), "edit_lines")
		}
		lines, totals, err := s.buildLines(ctx, tx, tenantID, inputs, grv.VATMode)
		if err != nil {
			return err
		}
		if err := tx.DeleteGRVLines(ctx, grvID); err != nil {
			return err
		}
		if err := tx.InsertGRVLines(ctx, grvID, lines); err != nil {
			return err
		}
		grv.Lines = lines
		grv.Totals = totals
		return tx.UpdateGRV(ctx, grv)
	})
	if err != nil {
		return GRV{}, err
	}
	s.observe("grv", "edit_lines")
	s.recordAudit(ctx, tenantID, actorID, "procurement:grv_edit_lines", "grv", grvID, nil)
	return grv, nil
}

// PostGRV transitions a draft voucher to POSTED, booking one stock
// receipt per line in line order. The receipt cost is the net unit cost
// after discount, excluding VAT.
func (s *Service) PostGRV(ctx context.Context, tenantID, grvID, actorID int64) (GRV, error) {
	var grv GRV
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		grv, err = tx.GetGRVForUpdate(ctx, tenantID, grvID)
		if err != nil {
			return err
		}
		if grv.Status != GRVStatusDraft {
			return shared.NewTransitionError("grv", grvID, string(grv.Status), "post")
		}

		now := time.Now().UTC()
		grv.Status = GRVStatusPosted
		grv.PostedAt = &now
		grv.PostedBy = &actorID

		for i := range grv.Lines {
			line := &grv.Lines[i]
			movement, err := s.ledger.Receive(ctx, tx.Inventory(), inventory.ReceiveInput{
				TenantID:      tenantID,
				StockItemID:   line.StockItemID,
				Quantity:      line.ReceivedQty,
				UnitCostCents: netUnitCost(*line, grv.VATMode),
				SourceType:    inventory.SourceGRV,
				SourceID:      fmt.Sprintf("grv:%d", grvID),
				Note:          fmt.Sprintf("GRV %s", grv.Number),
				ActorID:       actorID,
			})
			if err != nil {
				return err
			}
			line.ReceiveMovementID = &movement.ID
			if err := tx.SetGRVLineMovement(ctx, line.ID, movement.ID); err != nil {
				return err
			}
		}
		return tx.UpdateGRV(ctx, grv)
	})
	if err != nil {
		return GRV{}, err
	}
	s.observe("grv", "post")
	s.recordAudit(ctx, tenantID, actorID, "procurement:grv_post", "grv", grvID, map[string]any{"number": grv.Number})
	return grv, nil
}

// CancelGRV cancels a voucher. Draft vouchers cancel without inventory
// effect; posted vouchers get every line's receipt reversed, last line
// first. A voucher already referenced by a bill cannot be cancelled.
func (s *Service) CancelGRV(ctx context.Context, tenantID, grvID, actorID int64) (GRV, error) {
	var grv GRV
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		grv, err = tx.GetGRVForUpdate(ctx, tenantID, grvID)
		if err != nil {
			return err
		}
		if grv.Status != GRVStatusDraft && grv.Status != GRVStatusPosted {
			return shared.NewTransitionError("grv", grvID, string(grv.Status), "cancel")
		}
		if grv.Billed() {
			return fmt.Errorf("%w: grv %d is referenced by bill %d", shared.ErrInvalidTransition, grvID, *grv.BillID)
		}

		if grv.Status == GRVStatusPosted {
			for i := len(grv.Lines) - 1; i >= 0; i-- {
				line := grv.Lines[i]
				if line.ReceiveMovementID == nil {
					continue
				}
				_, err := s.ledger.ReverseReceipt(ctx, tx.Inventory(), inventory.ReverseInput{
					TenantID:   tenantID,
					MovementID: *line.ReceiveMovementID,
					SourceType: inventory.SourceCancelGRV,
					SourceID:   fmt.Sprintf("grv:%d", grvID),
					Note:       fmt.Sprintf("Cancel GRV %s", grv.Number),
					ActorID:    actorID,
				})
				if err != nil {
					return err
				}
			}
		}
		grv.Status = GRVStatusCancelled
		return tx.UpdateGRV(ctx, grv)
	})
	if err != nil {
		return GRV{}, err
	}
	s.observe("grv", "cancel")
	s.recordAudit(ctx, tenantID, actorID, "procurement:grv_cancel", "grv", grvID, nil)
	return grv, nil
}

// CreateBill aggregates one or more posted, unbilled vouchers of the same
// supplier into a draft supplier bill, marking the vouchers billed so
// they cannot be selected again.
func (s *Service) CreateBill(ctx context.Context, input CreateBillInput) (SupplierBill, error) {
	if input.TenantID <= 0 || input.SupplierID <= 0 {
		return SupplierBill{}, fmt.Errorf("%w: tenant and supplier required", shared.ErrValidation)
	}
	if len(input.GRVIDs) == 0 {
		return SupplierBill{}, fmt.Errorf("%w: at least one grv required", shared.ErrValidation)
	}
	bill := SupplierBill{
		TenantID:   input.TenantID,
		SupplierID: input.SupplierID,
		Status:     BillStatusDraft,
		GRVIDs:     append([]int64(nil), input.GRVIDs...),
		Note:       input.Note,
	}
	if !input.DueDate.IsZero() {
		due := input.DueDate
		bill.DueDate = &due
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var (
			lines     []BillLine
			calcLines []money.Line
			vatMode   money.VATMode
		)
		for _, grvID := range input.GRVIDs {
			grv, err := tx.GetGRVForUpdate(ctx, input.TenantID, grvID)
			if err != nil {
				return err
			}
			if grv.Status != GRVStatusPosted {
				return fmt.Errorf("%w: grv %d is %s, only posted vouchers can be billed",
					shared.ErrInvalidTransition, grvID, grv.Status)
			}
			if grv.SupplierID != input.SupplierID {
				return fmt.Errorf("%w: grv %d belongs to supplier %d", shared.ErrValidation, grvID, grv.SupplierID)
			}
			if grv.Billed() {
				return fmt.Errorf("%w: grv %d already billed on bill %d", shared.ErrValidation, grvID, *grv.BillID)
			}
			if vatMode == "" {
				vatMode = grv.VATMode
			} else if vatMode != grv.VATMode {
				return fmt.Errorf("%w: vouchers mix vat modes", shared.ErrValidation)
			}
			for _, line := range grv.Lines {
				lines = append(lines, BillLine{
					GRVID:          grvID,
					StockItemID:    line.StockItemID,
					SKU:            line.SKU,
					Name:           line.Name,
					Unit:           line.Unit,
					VATRateBps:     line.VATRateBps,
					Taxable:        line.Taxable,
					Quantity:       line.ReceivedQty,
					UnitCostCents:  line.UnitCostCents,
					SubTotalCents:  line.SubTotalCents,
					VATAmountCents: line.VATAmountCents,
					TotalCents:     line.TotalCents,
					LineOrder:      len(lines) + 1,
				})
				calcLines = append(calcLines, money.Line{
					TotalCents: line.SubTotalCents,
					VATRateBps: line.VATRateBps,
					Taxable:    line.Taxable,
				})
			}
		}
		bill.VATMode = vatMode
		bill.Totals = money.DocumentTotals(calcLines, vatMode)
		bill.Lines = lines

		issued, err := sequence.Next(ctx, tx.Counters(), input.TenantID, CounterBill)
		if err != nil {
			return err
		}
		bill.Number = issued.Formatted

		id, err := tx.InsertBill(ctx, bill)
		if err != nil {
			return err
		}
		bill.ID = id
		if err := tx.InsertBillLines(ctx, id, lines); err != nil {
			return err
		}

		for _, grvID := range input.GRVIDs {
			grv, err := tx.GetGRVForUpdate(ctx, input.TenantID, grvID)
			if err != nil {
				return err
			}
			grv.BillID = &id
			if err := tx.UpdateGRV(ctx, grv); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SupplierBill{}, err
	}
	s.observe("bill", "create")
	s.recordAudit(ctx, input.TenantID, input.ActorID, "procurement:bill_create", "supplier_bill", bill.ID,
		map[string]any{"number": bill.Number, "grv_ids": input.GRVIDs})
	return bill, nil
}

// PostBill transitions a draft bill to POSTED, locking its lines and
// opening the balance for payment allocation.
func (s *Service) PostBill(ctx context.Context, tenantID, billID, actorID int64) (SupplierBill, error) {
	var bill SupplierBill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bill, err = tx.GetBillForUpdate(ctx, tenantID, billID)
		if err != nil {
			return err
		}
		if bill.Status != BillStatusDraft {
			return shared.NewTransitionError("supplier_bill", billID, string(bill.Status), "post")
		}
		now := time.Now().UTC()
		bill.Status = BillStatusPosted
		bill.PostedAt = &now
		bill.PaidCents = 0
		bill.BalanceDueCents = bill.Totals.TotalCents
		return tx.UpdateBill(ctx, bill)
	})
	if err != nil {
		return SupplierBill{}, err
	}
	s.observe("bill", "post")
	s.recordAudit(ctx, tenantID, actorID, "procurement:bill_post", "supplier_bill", billID, map[string]any{"number": bill.Number})
	return bill, nil
}

// VoidBill voids a posted or partially paid bill. A bill with payments
// applied voids with a warning rather than being blocked; unwinding the
// payments is the operator's call.
func (s *Service) VoidBill(ctx context.Context, tenantID, billID, actorID int64) (SupplierBill, error) {
	var bill SupplierBill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bill, err = tx.GetBillForUpdate(ctx, tenantID, billID)
		if err != nil {
			return err
		}
		if bill.Status != BillStatusPosted && bill.Status != BillStatusPartiallyPaid {
			return shared.NewTransitionError("supplier_bill", billID, string(bill.Status), "void")
		}
		if bill.PaidCents > 0 {
			bill.VoidWarning = fmt.Sprintf("voided with %d cents already paid", bill.PaidCents)
		}
		bill.Status = BillStatusVoided
		bill.BalanceDueCents = 0
		return tx.UpdateBill(ctx, bill)
	})
	if err != nil {
		return SupplierBill{}, err
	}
	s.observe("bill", "void")
	meta := map[string]any{"number": bill.Number}
	if bill.VoidWarning != "" {
		meta["warning"] = bill.VoidWarning
	}
	s.recordAudit(ctx, tenantID, actorID, "procurement:bill_void", "supplier_bill", billID, meta)
	return bill, nil
}

// GetGRV loads a voucher with its lines.
func (s *Service) GetGRV(ctx context.Context, tenantID, grvID int64) (GRV, error) {
	return s.repo.GetGRV(ctx, tenantID, grvID)
}

// GetBill loads a bill with its lines.
func (s *Service) GetBill(ctx context.Context, tenantID, billID int64) (SupplierBill, error) {
	return s.repo.GetBill(ctx, tenantID, billID)
}

// ListUnbilledGRVs lists posted vouchers of a supplier not yet referenced
// by a bill.
func (s *Service) ListUnbilledGRVs(ctx context.Context, tenantID, supplierID int64) ([]GRV, error) {
	return s.repo.ListUnbilledGRVs(ctx, tenantID, supplierID)
}

func (s *Service) buildLines(ctx context.Context, tx TxRepository, tenantID int64, inputs []GRVLineInput, mode money.VATMode) ([]GRVLine, money.Totals, error) {
	lines := make([]GRVLine, 0, len(inputs))
	calcLines := make([]money.Line, 0, len(inputs))
	for i, input := range inputs {
		if input.ReceivedQty <= 0 {
			return nil, money.Totals{}, fmt.Errorf("%w: line %d quantity must be positive", shared.ErrValidation, i+1)
		}
		if input.UnitCostCents < 0 || input.DiscountValue < 0 {
			return nil, money.Totals{}, fmt.Errorf("%w: line %d amounts must be >= 0", shared.ErrValidation, i+1)
		}
		item, err := tx.GetStockItem(ctx, tenantID, input.StockItemID)
		if err != nil {
			return nil, money.Totals{}, err
		}
		discType := input.DiscountType
		if discType == "" {
			discType = money.DiscountTypeNone
		}
		discount := money.Discount(discType, input.ReceivedQty, input.UnitCostCents, input.DiscountValue)
		subTotal := money.LineTotal(input.ReceivedQty, input.UnitCostCents, discount)

		taxable := !item.VATExempt
		var vatAmount int64
		switch {
		case !taxable || mode == money.VATModeNone:
		case mode == money.VATModeInclusive:
			vatAmount = money.VATFromInclusive(subTotal, item.VATRateBps)
		default:
			vatAmount = money.VATFromExclusive(subTotal, item.VATRateBps)
		}
		total := subTotal
		if mode == money.VATModeExclusive && taxable {
			total = subTotal + vatAmount
		}

		line := GRVLine{
			StockItemID:    item.ID,
			SKU:            item.SKU,
			Name:           item.Name,
			Unit:           item.Unit,
			VATRateBps:     item.VATRateBps,
			Taxable:        taxable,
			ReceivedQty:    input.ReceivedQty,
			UnitCostCents:  input.UnitCostCents,
			DiscountType:   discType,
			DiscountValue:  input.DiscountValue,
			DiscountCents:  discount,
			SubTotalCents:  subTotal,
			VATAmountCents: vatAmount,
			TotalCents:     total,
			LineOrder:      i + 1,
		}
		lines = append(lines, line)
		calcLines = append(calcLines, money.Line{TotalCents: subTotal, VATRateBps: line.VATRateBps, Taxable: taxable})
	}
	return lines, money.DocumentTotals(calcLines, mode), nil
}

// netUnitCost is the cost basis a receipt is booked at: net of discount
// and excluding VAT, rounded to the nearest cent.
func netUnitCost(line GRVLine, mode money.VATMode) int64 {
	net := line.SubTotalCents
	if mode == money.VATModeInclusive && line.Taxable {
		net -= line.VATAmountCents
	}
	if net <= 0 {
		return 0
	}
	return money.RoundHalfUpDiv(net, line.ReceivedQty)
}

func (s *Service) observe(doc, action string) {
	if s.metrics != nil {
		s.metrics.TransitionApplied(doc, action)
	}
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}

func normalizeVATMode(mode money.VATMode) money.VATMode {
	switch mode {
	case money.VATModeInclusive, money.VATModeNone:
		return mode
	default:
		return money.VATModeExclusive
	}
}
