package procurement

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

// Handler exposes voucher and supplier bill endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/grvs", func(r chi.Router) {
		r.Post("/", h.createGRV)
		r.Get("/{id}", h.getGRV)
		r.Put("/{id}/lines", h.updateGRVLines)
		r.Post("/{id}/post", h.grvAction(h.service.PostGRV))
		r.Post("/{id}/cancel", h.grvAction(h.service.CancelGRV))
	})
	r.Route("/supplier-bills", func(r chi.Router) {
		r.Post("/", h.createBill)
		r.Get("/{id}", h.getBill)
		r.Post("/{id}/post", h.billAction(h.service.PostBill))
		r.Post("/{id}/void", h.billAction(h.service.VoidBill))
	})
}

func (h *Handler) createGRV(w http.ResponseWriter, r *http.Request) {
	var req CreateGRVRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ctx := r.Context()
	grv, err := h.service.CreateGRV(ctx, CreateGRVInput{
		TenantID:   shared.TenantFromContext(ctx),
		SupplierID: req.SupplierID,
		VATMode:    money.VATMode(req.VATMode),
		Reference:  req.Reference,
		Note:       req.Note,
		Lines:      toGRVLineInputs(req.Lines),
		ActorID:    shared.ActorFromContext(ctx),
	})
	if err != nil {
		h.logger.Error("create grv failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grv)
}

func (h *Handler) getGRV(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	grv, err := h.service.GetGRV(r.Context(), shared.TenantFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grv)
}

func (h *Handler) updateGRVLines(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateGRVLinesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ctx := r.Context()
	grv, err := h.service.UpdateGRVLines(ctx, shared.TenantFromContext(ctx), id,
		shared.ActorFromContext(ctx), toGRVLineInputs(req.Lines))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grv)
}

func (h *Handler) grvAction(fn func(ctx context.Context, tenantID, grvID, actorID int64) (GRV, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		ctx := r.Context()
		grv, err := fn(ctx, shared.TenantFromContext(ctx), id, shared.ActorFromContext(ctx))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, grv)
	}
}

func (h *Handler) createBill(w http.ResponseWriter, r *http.Request) {
	var req CreateBillRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ctx := r.Context()
	bill, err := h.service.CreateBill(ctx, CreateBillInput{
		TenantID:   shared.TenantFromContext(ctx),
		SupplierID: req.SupplierID,
		GRVIDs:     req.GRVIDs,
		DueDate:    req.DueDate,
		Note:       req.Note,
		ActorID:    shared.ActorFromContext(ctx),
	})
	if err != nil {
		h.logger.Error("create bill failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bill)
}

func (h *Handler) getBill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	bill, err := h.service.GetBill(r.Context(), shared.TenantFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) billAction(fn func(ctx context.Context, tenantID, billID, actorID int64) (SupplierBill, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		ctx := r.Context()
		bill, err := fn(ctx, shared.TenantFromContext(ctx), id, shared.ActorFromContext(ctx))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, bill)
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

func toGRVLineInputs(reqs []CreateGRVLineRequest) []GRVLineInput {
	lines := make([]GRVLineInput, len(reqs))
	for i, req := range reqs {
		lines[i] = GRVLineInput{
			StockItemID:   req.StockItemID,
			ReceivedQty:   req.ReceivedQty,
			UnitCostCents: req.UnitCostCents,
			DiscountType:  money.DiscountType(req.DiscountType),
			DiscountValue: req.DiscountValue,
		}
	}
	return lines
}
