package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockItem(ctx context.Context, tenantID, stockItemID int64) (StockItem, error)
	ListMovements(ctx context.Context, tenantID int64, filter MovementFilter) ([]Movement, error)
	ListNeedsReview(ctx context.Context, tenantID int64, limit int) ([]Movement, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records ledger activity.
type MetricsPort interface {
	MovementRecorded(movementType string)
}

// AdjustmentInput describes a manual stock adjustment. Positive quantities
// receive at UnitCostCents; negative quantities consume at average cost.
type AdjustmentInput struct {
	TenantID      int64
	StockItemID   int64
	Quantity      int64
	UnitCostCents int64
	Note          string
	ActorID       int64
}

// Service coordinates standalone inventory operations; document state
// machines talk to the Ledger directly inside their own transactions.
type Service struct {
	repo        RepositoryPort
	ledger      *Ledger
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	metrics     MetricsPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *Ledger, audit AuditPort, idem *shared.IdempotencyStore, metrics MetricsPort) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit, idempotency: idem, metrics: metrics}
}

// PostAdjustment applies a manual adjustment as its own atomic unit.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (Movement, error) {
	if input.TenantID <= 0 || input.StockItemID <= 0 {
		return Movement{}, fmt.Errorf("%w: tenant and stock item required", shared.ErrValidation)
	}
	if input.Quantity == 0 {
		return Movement{}, fmt.Errorf("%w: quantity must be non-zero", shared.ErrValidation)
	}
	if input.Quantity > 0 && input.UnitCostCents < 0 {
		return Movement{}, fmt.Errorf("%w: unit cost must be >= 0", shared.ErrValidation)
	}

	sourceID := uuid.New().String()
	key := fmt.Sprintf("ADJ:%d:%s", input.TenantID, sourceID)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return Movement{}, err
		}
		inserted = true
	}

	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if input.Quantity > 0 {
			movement, err = s.ledger.Receive(ctx, tx, ReceiveInput{
				TenantID:      input.TenantID,
				StockItemID:   input.StockItemID,
				Quantity:      input.Quantity,
				UnitCostCents: input.UnitCostCents,
				SourceType:    SourceAdjustment,
				SourceID:      sourceID,
				Note:          input.Note,
				ActorID:       input.ActorID,
			})
		} else {
			movement, err = s.ledger.Consume(ctx, tx, ConsumeInput{
				TenantID:    input.TenantID,
				StockItemID: input.StockItemID,
				Quantity:    -input.Quantity,
				SourceType:  SourceAdjustment,
				SourceID:    sourceID,
				Note:        input.Note,
				ActorID:     input.ActorID,
			})
		}
		return err
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Movement{}, err
	}

	s.observe(movement)
	s.recordAudit(ctx, input.TenantID, input.ActorID, "inventory:adjustment", movement)
	return movement, nil
}

// GetStockItem returns the item with its current valuation.
func (s *Service) GetStockItem(ctx context.Context, tenantID, stockItemID int64) (StockItem, error) {
	if tenantID <= 0 || stockItemID <= 0 {
		return StockItem{}, fmt.Errorf("%w: tenant and stock item required", shared.ErrValidation)
	}
	return s.repo.GetStockItem(ctx, tenantID, stockItemID)
}

// ListMovements lists the item's ledger rows.
func (s *Service) ListMovements(ctx context.Context, tenantID int64, filter MovementFilter) ([]Movement, error) {
	if tenantID <= 0 || filter.StockItemID <= 0 {
		return nil, fmt.Errorf("%w: tenant and stock item required", shared.ErrValidation)
	}
	return s.repo.ListMovements(ctx, tenantID, filter)
}

// ListNeedsReview lists reversal movements awaiting manual cost review.
func (s *Service) ListNeedsReview(ctx context.Context, tenantID int64, limit int) ([]Movement, error) {
	if tenantID <= 0 {
		return nil, fmt.Errorf("%w: tenant required", shared.ErrValidation)
	}
	return s.repo.ListNeedsReview(ctx, tenantID, limit)
}

func (s *Service) observe(movement Movement) {
	if s.metrics != nil {
		s.metrics.MovementRecorded(string(movement.MovementType))
	}
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action string, movement Movement) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory_movement",
		EntityID: fmt.Sprintf("%d", movement.ID),
		Meta: map[string]any{
			"stock_item_id": movement.StockItemID,
			"movement_type": movement.MovementType,
			"quantity":      movement.Quantity,
			"needs_review":  movement.NeedsReview,
		},
	})
}
