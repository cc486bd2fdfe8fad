package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Counter keys used by the sales module.
const (
	CounterQuote   = "QT"
	CounterInvoice = "INV"
)

// TxRepository exposes transactional operations used by the service. The
// inventory and counter surfaces are bound to the same transaction, so a
// transition and its side effects commit or roll back as one unit.
type TxRepository interface {
	Inventory() inventory.TxRepository
	Counters() sequence.CounterStore

	InsertQuote(ctx context.Context, quote Quote) (int64, error)
	InsertQuoteLines(ctx context.Context, quoteID int64, lines []Line) error
	GetQuoteForUpdate(ctx context.Context, tenantID, quoteID int64) (Quote, error)
	UpdateQuote(ctx context.Context, quote Quote) error

	InsertInvoice(ctx context.Context, invoice Invoice) (int64, error)
	InsertInvoiceLines(ctx context.Context, invoiceID int64, lines []Line) error
	GetInvoiceForUpdate(ctx context.Context, tenantID, invoiceID int64) (Invoice, error)
	UpdateInvoice(ctx context.Context, invoice Invoice) error
	SetInvoiceLineMovement(ctx context.Context, lineID, movementID int64) error

	GetStockItem(ctx context.Context, tenantID, stockItemID int64) (inventory.StockItem, error)
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetQuote(ctx context.Context, tenantID, quoteID int64) (Quote, error)
	GetInvoice(ctx context.Context, tenantID, invoiceID int64) (Invoice, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records applied document transitions.
type MetricsPort interface {
	TransitionApplied(doc, action string)
}

// ServiceConfig groups sales settings.
type ServiceConfig struct {
	InvoiceTermsDays int
}

// Service owns the quote and invoice state machines and the quote to
// invoice conversion.
type Service struct {
	repo    RepositoryPort
	ledger  *inventory.Ledger
	audit   AuditPort
	metrics MetricsPort
	terms   int
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *inventory.Ledger, audit AuditPort, metrics MetricsPort, cfg ServiceConfig) *Service {
	terms := cfg.InvoiceTermsDays
	if terms <= 0 {
		terms = 30
	}
	return &Service{repo: repo, ledger: ledger, audit: audit, metrics: metrics, terms: terms}
}

// CreateQuoteInput describes a new draft quote.
type CreateQuoteInput struct {
	TenantID   int64
	ClientID   int64
	VATMode    money.VATMode
	QuoteDate  time.Time
	ValidUntil time.Time
	Note       string
	Lines      []LineInput
	ActorID    int64
}

// LineInput describes one requested document line.
type LineInput struct {
	StockItemID    int64
	Quantity       int64
	UnitPriceCents int64
	DiscountCents  int64
}

// CreateInvoiceInput describes a new draft invoice.
type CreateInvoiceInput struct {
	TenantID int64
	ClientID int64
	VATMode  money.VATMode
	Note     string
	Lines    []LineInput
	ActorID  int64
}

// CreateQuote persists a draft quote with snapshot lines and a sequencer
// number.
func (s *Service) CreateQuote(ctx context.Context, input CreateQuoteInput) (Quote, error) {
	if input.TenantID <= 0 || input.ClientID <= 0 {
		return Quote{}, fmt.Errorf("%w: tenant and client required", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return Quote{}, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	now := time.Now().UTC()
	quote := Quote{
		TenantID:   input.TenantID,
		ClientID:   input.ClientID,
		Status:     QuoteStatusDraft,
		VATMode:    normalizeVATMode(input.VATMode),
		QuoteDate:  defaultTime(input.QuoteDate, now),
		ValidUntil: input.ValidUntil,
		Note:       input.Note,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines, totals, err := s.buildLines(ctx, tx, input.TenantID, input.Lines, quote.VATMode)
		if err != nil {
			return err
		}
		issued, err := sequence.Next(ctx, tx.Counters(), input.TenantID, CounterQuote)
		if err != nil {
			return err
		}
		quote.Number = issued.Formatted
		quote.Totals = totals
		quote.Lines = lines

		id, err := tx.InsertQuote(ctx, quote)
		if err != nil {
			return err
		}
		quote.ID = id
		return tx.InsertQuoteLines(ctx, id, lines)
	})
	if err != nil {
		return Quote{}, err
	}
	s.observe("quote", "create")
	s.recordAudit(ctx, input.TenantID, input.ActorID, "sales:quote_create", "sales_quote", quote.ID, map[string]any{"number": quote.Number})
	return quote, nil
}

// SendQuote transitions a draft quote to SENT.
func (s *Service) SendQuote(ctx context.Context, tenantID, quoteID, actorID int64) (Quote, error) {
	return s.transitionQuote(ctx, tenantID, quoteID, actorID, "send", QuoteStatusSent, QuoteStatusDraft)
}

// AcceptQuote transitions a sent quote to ACCEPTED.
func (s *Service) AcceptQuote(ctx context.Context, tenantID, quoteID, actorID int64) (Quote, error) {
	return s.transitionQuote(ctx, tenantID, quoteID, actorID, "accept", QuoteStatusAccepted, QuoteStatusSent)
}

// RejectQuote transitions a sent quote to REJECTED.
func (s *Service) RejectQuote(ctx context.Context, tenantID, quoteID, actorID int64) (Quote, error) {
	return s.transitionQuote(ctx, tenantID, quoteID, actorID, "reject", QuoteStatusRejected, QuoteStatusSent)
}

// ExpireQuote transitions a sent quote to EXPIRED.
func (s *Service) ExpireQuote(ctx context.Context, tenantID, quoteID, actorID int64) (Quote, error) {
	return s.transitionQuote(ctx, tenantID, quoteID, actorID, "expire", QuoteStatusExpired, QuoteStatusSent)
}

func (s *Service) transitionQuote(ctx context.Context, tenantID, quoteID, actorID int64, action string, target QuoteStatus, allowed ...QuoteStatus) (Quote, error) {
	var quote Quote
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		quote, err = tx.GetQuoteForUpdate(ctx, tenantID, quoteID)
		if err != nil {
			return err
		}
		if !quoteStatusIn(quote.Status, allowed...) {
			return shared.NewTransitionError("quote", quoteID, string(quote.Status), action)
		}
		quote.Status = target
		return tx.UpdateQuote(ctx, quote)
	})
	if err != nil {
		return Quote{}, err
	}
	s.observe("quote", action)
	s.recordAudit(ctx, tenantID, actorID, "sales:quote_"+action, "sales_quote", quoteID, map[string]any{"status": quote.Status})
	return quote, nil
}

// ConvertQuoteToInvoice copies an accepted quote's line snapshots verbatim
// into a new draft invoice. A quote converts at most once; the related
// invoice link on the locked quote row guards the race.
func (s *Service) ConvertQuoteToInvoice(ctx context.Context, tenantID, quoteID, actorID int64) (Invoice, error) {
	var invoice Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		quote, err := tx.GetQuoteForUpdate(ctx, tenantID, quoteID)
		if err != nil {
			return err
		}
		if quote.Status != QuoteStatusAccepted {
			return shared.NewTransitionError("quote", quoteID, string(quote.Status), "convert")
		}
		if quote.RelatedInvoiceID != nil {
			return fmt.Errorf("%w: quote %d already converted to invoice %d",
				shared.ErrInvalidTransition, quoteID, *quote.RelatedInvoiceID)
		}

		invoice = Invoice{
			TenantID:      tenantID,
			ClientID:      quote.ClientID,
			Status:        InvoiceStatusDraft,
			VATMode:       quote.VATMode,
			SourceQuoteID: &quote.ID,
			Totals:        quote.Totals,
			Note:          quote.Note,
		}
		lines := make([]Line, len(quote.Lines))
		for i, line := range quote.Lines {
			copied := line
			copied.ID = 0
			copied.ConsumeMovementID = nil
			lines[i] = copied
		}
		invoice.Lines = lines

		id, err := tx.InsertInvoice(ctx, invoice)
		if err != nil {
			return err
		}
		invoice.ID = id
		if err := tx.InsertInvoiceLines(ctx, id, lines); err != nil {
			return err
		}

		quote.RelatedInvoiceID = &id
		return tx.UpdateQuote(ctx, quote)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.observe("quote", "convert")
	s.recordAudit(ctx, tenantID, actorID, "sales:quote_convert", "sales_quote", quoteID, map[string]any{"invoice_id": invoice.ID})
	return invoice, nil
}

// CreateInvoice persists a draft invoice with snapshot lines. The number
// is assigned at issue time.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (Invoice, error) {
	if input.TenantID <= 0 || input.ClientID <= 0 {
		return Invoice{}, fmt.Errorf("%w: tenant and client required", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return Invoice{}, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	invoice := Invoice{
		TenantID: input.TenantID,
		ClientID: input.ClientID,
		Status:   InvoiceStatusDraft,
		VATMode:  normalizeVATMode(input.VATMode),
		Note:     input.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines, totals, err := s.buildLines(ctx, tx, input.TenantID, input.Lines, invoice.VATMode)
		if err != nil {
			return err
		}
		invoice.Totals = totals
		invoice.Lines = lines
		id, err := tx.InsertInvoice(ctx, invoice)
		if err != nil {
			return err
		}
		invoice.ID = id
		return tx.InsertInvoiceLines(ctx, id, lines)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.observe("invoice", "create")
	s.recordAudit(ctx, input.TenantID, input.ActorID, "sales:invoice_create", "sales_invoice", invoice.ID, nil)
	return invoice, nil
}

// IssueInvoice transitions a draft invoice to ISSUED: assigns a sequencer
// number when not already set, stamps issuance, computes the due date and
// consumes stock for every item line, all in one transaction.
func (s *Service) IssueInvoice(ctx context.Context, tenantID, invoiceID, actorID int64) (Invoice, error) {
	var invoice Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		invoice, err = tx.GetInvoiceForUpdate(ctx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		if invoice.Status != InvoiceStatusDraft {
			return shared.NewTransitionError("invoice", invoiceID, string(invoice.Status), "issue")
		}

		if invoice.Number == "" {
			issued, err := sequence.Next(ctx, tx.Counters(), tenantID, CounterInvoice)
			if err != nil {
				return err
			}
			invoice.Number = issued.Formatted
		}
		now := time.Now().UTC()
		due := now.AddDate(0, 0, s.terms)
		invoice.Status = InvoiceStatusIssued
		invoice.IssuedAt = &now
		invoice.DueDate = &due
		invoice.AmountPaidCents = 0
		invoice.BalanceDueCents = invoice.Totals.TotalCents

		for i := range invoice.Lines {
			line := &invoice.Lines[i]
			if line.StockItemID == 0 {
				continue
			}
			movement, err := s.ledger.Consume(ctx, tx.Inventory(), inventory.ConsumeInput{
				TenantID:    tenantID,
				StockItemID: line.StockItemID,
				Quantity:    line.Quantity,
				SourceType:  inventory.SourceSale,
				SourceID:    fmt.Sprintf("invoice:%d", invoiceID),
				Note:        fmt.Sprintf("Invoice %s", invoice.Number),
				ActorID:     actorID,
			})
			if err != nil {
				return err
			}
			line.ConsumeMovementID = &movement.ID
			if err := tx.SetInvoiceLineMovement(ctx, line.ID, movement.ID); err != nil {
				return err
			}
		}
		return tx.UpdateInvoice(ctx, invoice)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.observe("invoice", "issue")
	s.recordAudit(ctx, tenantID, actorID, "sales:invoice_issue", "sales_invoice", invoiceID, map[string]any{"number": invoice.Number})
	return invoice, nil
}

// CancelInvoice cancels a draft or unpaid issued invoice. Issued invoices
// get their stock consumption reversed line by line, last line first.
func (s *Service) CancelInvoice(ctx context.Context, tenantID, invoiceID, actorID int64) (Invoice, error) {
	var invoice Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		invoice, err = tx.GetInvoiceForUpdate(ctx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		if invoice.Status != InvoiceStatusDraft && invoice.Status != InvoiceStatusIssued {
			return shared.NewTransitionError("invoice", invoiceID, string(invoice.Status), "cancel")
		}
		if invoice.AmountPaidCents != 0 {
			return fmt.Errorf("%w: invoice %d has payments applied", shared.ErrInvalidTransition, invoiceID)
		}

		if invoice.Status == InvoiceStatusIssued {
			for i := len(invoice.Lines) - 1; i >= 0; i-- {
				line := invoice.Lines[i]
				if line.ConsumeMovementID == nil {
					continue
				}
				_, err := s.ledger.ReverseConsumption(ctx, tx.Inventory(), inventory.ReverseInput{
					TenantID:   tenantID,
					MovementID: *line.ConsumeMovementID,
					SourceType: inventory.SourceCancelSale,
					SourceID:   fmt.Sprintf("invoice:%d", invoiceID),
					Note:       fmt.Sprintf("Cancel invoice %s", invoice.Number),
					ActorID:    actorID,
				})
				if err != nil {
					return err
				}
			}
		}
		invoice.Status = InvoiceStatusCancelled
		invoice.BalanceDueCents = 0
		return tx.UpdateInvoice(ctx, invoice)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.observe("invoice", "cancel")
	s.recordAudit(ctx, tenantID, actorID, "sales:invoice_cancel", "sales_invoice", invoiceID, nil)
	return invoice, nil
}

// GetQuote loads a quote with its lines.
func (s *Service) GetQuote(ctx context.Context, tenantID, quoteID int64) (Quote, error) {
	return s.repo.GetQuote(ctx, tenantID, quoteID)
}

// GetInvoice loads an invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, tenantID, invoiceID int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, tenantID, invoiceID)
}

func (s *Service) buildLines(ctx context.Context, tx TxRepository, tenantID int64, inputs []LineInput, mode money.VATMode) ([]Line, money.Totals, error) {
	lines := make([]Line, 0, len(inputs))
	calcLines := make([]money.Line, 0, len(inputs))
	for i, input := range inputs {
		if input.Quantity <= 0 {
			return nil, money.Totals{}, fmt.Errorf("%w: line %d quantity must be positive", shared.ErrValidation, i+1)
		}
		if input.UnitPriceCents < 0 || input.DiscountCents < 0 {
			return nil, money.Totals{}, fmt.Errorf("%w: line %d amounts must be >= 0", shared.ErrValidation, i+1)
		}
		item, err := tx.GetStockItem(ctx, tenantID, input.StockItemID)
		if err != nil {
			return nil, money.Totals{}, err
		}
		total := money.LineTotal(input.Quantity, input.UnitPriceCents, input.DiscountCents)
		line := Line{
			StockItemID:    item.ID,
			SKU:            item.SKU,
			Name:           item.Name,
			Unit:           item.Unit,
			VATRateBps:     item.VATRateBps,
			Taxable:        !item.VATExempt,
			Quantity:       input.Quantity,
			UnitPriceCents: input.UnitPriceCents,
			DiscountCents:  input.DiscountCents,
			TotalCents:     total,
			LineOrder:      i + 1,
		}
		lines = append(lines, line)
		calcLines = append(calcLines, money.Line{TotalCents: total, VATRateBps: line.VATRateBps, Taxable: line.Taxable})
	}
	return lines, money.DocumentTotals(calcLines, mode), nil
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

func quoteStatusIn(status QuoteStatus, allowed ...QuoteStatus) bool {
	for _, candidate := range allowed {
		if status == candidate {
			return true
		}
	}
	return false
}

func normalizeVATMode(mode money.VATMode) money.VATMode {
	switch mode {
	case money.VATModeInclusive, money.VATModeNone:
		return mode
	default:
		return money.VATModeExclusive
	}
}

func defaultTime(value, fallback time.Time) time.Time {
	if value.IsZero() {
		return fallback
	}
	return value
}
