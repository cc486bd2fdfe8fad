package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the stock ledger endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock-items", func(r chi.Router) {
		r.Get("/{id}", h.getStockItem)
		r.Get("/{id}/movements", h.listMovements)
	})
	r.Route("/adjustments", func(r chi.Router) {
		r.Post("/", h.postAdjustment)
	})
	r.Get("/movements/needs-review", h.listNeedsReview)
}

func (h *Handler) getStockItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetStockItem(r.Context(), shared.TenantFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	filter := MovementFilter{StockItemID: id, Limit: queryInt(r, "limit")}
	if from := queryTime(r, "from"); !from.IsZero() {
		filter.From = from
	}
	if to := queryTime(r, "to"); !to.IsZero() {
		filter.To = to
	}
	movements, err := h.service.ListMovements(r.Context(), shared.TenantFromContext(r.Context()), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	var req PostAdjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ctx := r.Context()
	movement, err := h.service.PostAdjustment(ctx, AdjustmentInput{
		TenantID:      shared.TenantFromContext(ctx),
		StockItemID:   req.StockItemID,
		Quantity:      req.Quantity,
		UnitCostCents: req.UnitCostCents,
		Note:          req.Note,
		ActorID:       shared.ActorFromContext(ctx),
	})
	if err != nil {
		h.logger.Error("post adjustment failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) listNeedsReview(w http.ResponseWriter, r *http.Request) {
	movements, err := h.service.ListNeedsReview(r.Context(), shared.TenantFromContext(r.Context()), queryInt(r, "limit"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func queryTime(r *http.Request, key string) time.Time {
	t, _ := time.Parse(time.RFC3339, r.URL.Query().Get(key))
	return t
}
