package sales

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes quote and invoice endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/quotes", func(r chi.Router) {
		r.Post("/", h.createQuote)
		r.Get("/{id}", h.getQuote)
		r.Post("/{id}/send", h.quoteAction(h.service.SendQuote))
		r.Post("/{id}/accept", h.quoteAction(h.service.AcceptQuote))
		r.Post("/{id}/reject", h.quoteAction(h.service.RejectQuote))
		r.Post("/{id}/expire", h.quoteAction(h.service.ExpireQuote))
		r.Post("/{id}/convert", h.convertQuote)
	})
	r.Route("/invoices", func(r chi.Router) {
		r.Post("/", h.createInvoice)
		r.Get("/{id}", h.getInvoice)
		r.Post("/{id}/issue", h.invoiceAction(h.service.IssueInvoice))
		r.Post("/{id}/cancel", h.invoiceAction(h.service.CancelInvoice))
	})
}

func (h *Handler) createQuote(w http.ResponseWriter, r *http.Request) {
	var req CreateQuoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ctx := r.Context()
	quote, err := h.service.CreateQuote(ctx, CreateQuoteInput{
		TenantID:   shared.TenantFromContext(ctx),
		ClientID:   req.ClientID,
		VATMode:    money.VATMode(req.VATMode),
		QuoteDate:  req.QuoteDate,
		ValidUntil: req.ValidUntil,
		Note:       req.Note,
		Lines:      toLineInputs(req.Lines),
		ActorID:    shared.ActorFromContext(ctx),
	})
	if err != nil {
		h.logger.Error("create quote failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, quote)
}

func (h *Handler) getQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	quote, err := h.service.GetQuote(r.Context(), shared.TenantFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quote)
}

func (h *Handler) quoteAction(fn func(ctx context.Context, tenantID, quoteID, actorID int64) (Quote, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		ctx := r.Context()
		quote, err := fn(ctx, shared.TenantFromContext(ctx), id, shared.ActorFromContext(ctx))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, quote)
	}
}

func (h *Handler) convertQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	invoice, err := h.service.ConvertQuoteToInvoice(ctx, shared.TenantFromContext(ctx), id, shared.ActorFromContext(ctx))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoice)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ctx := r.Context()
	invoice, err := h.service.CreateInvoice(ctx, CreateInvoiceInput{
		TenantID: shared.TenantFromContext(ctx),
		ClientID: req.ClientID,
		VATMode:  money.VATMode(req.VATMode),
		Note:     req.Note,
		Lines:    toLineInputs(req.Lines),
		ActorID:  shared.ActorFromContext(ctx),
	})
	if err != nil {
		h.logger.Error("create invoice failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoice)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	invoice, err := h.service.GetInvoice(r.Context(), shared.TenantFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) invoiceAction(fn func(ctx context.Context, tenantID, invoiceID, actorID int64) (Invoice, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		ctx := r.Context()
		invoice, err := fn(ctx, shared.TenantFromContext(ctx), id, shared.ActorFromContext(ctx))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, invoice)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func toLineInputs(reqs []CreateLineRequest) []LineInput {
	lines := make([]LineInput, len(reqs))
	for i, req := range reqs {
		lines[i] = LineInput{
			StockItemID:    req.StockItemID,
			Quantity:       req.Quantity,
			UnitPriceCents: req.UnitPriceCents,
			DiscountCents:  req.DiscountCents,
		}
	}
	return lines
}
