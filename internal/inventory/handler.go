package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/qwerty-development/makielli-internal-sub000/internal/platform/httpx"
)

// Handler exposes the adjuster over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/variants/{id}", h.getVariant)
	r.Get("/adjustments", h.listAdjustments)
	r.Post("/adjustments", h.createAdjustment)
}

type createAdjustmentRequest struct {
	VariantID int64  `json:"variant_id" validate:"required,gt=0"`
	Delta     int64  `json:"delta" validate:"required"`
	RefID     string `json:"ref_id,omitempty" validate:"omitempty,uuid4"`
	Note      string `json:"note,omitempty" validate:"max=500"`
}

func (h *Handler) createAdjustment(w http.ResponseWriter, r *http.Request) {
	var req createAdjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	// Manual entry is the only source reachable from the API; lifecycle
	// sources come from the order ledger.
	adj, err := h.service.Adjust(r.Context(), AdjustInput{
		VariantID: req.VariantID,
		Delta:     req.Delta,
		Source:    SourceManual,
		RefID:     req.RefID,
		Note:      req.Note,
	})
	if err != nil {
		h.logger.Error("manual adjustment failed", slog.Int64("variant_id", req.VariantID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) getVariant(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid variant id")
		return
	}
	variant, err := h.service.GetVariant(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, variant)
}

func (h *Handler) listAdjustments(w http.ResponseWriter, r *http.Request) {
	var filter AdjustmentFilter
	if v := r.URL.Query().Get("variant_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid variant_id")
			return
		}
		filter.VariantID = id
	}
	if v := r.URL.Query().Get("source"); v != "" {
		filter.Source = Source(v)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	adjustments, err := h.service.ListAdjustments(r.Context(), filter)
	if err != nil {
		h.logger.Error("list adjustments failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adjustments)
}
