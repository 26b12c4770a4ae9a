package orders

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/qwerty-development/makielli-internal-sub000/internal/inventory"
	"github.com/qwerty-development/makielli-internal-sub000/internal/platform/httpx"
)

// Handler exposes the order ledger over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/accept", h.accept)
		r.Post("/{id}/reject", h.reject)
	})
	r.Get("/clients/{clientID}/orders", h.listByClient)
}

type orderLineBody struct {
	ProductID int64   `json:"product_id" validate:"required"`
	VariantID int64   `json:"variant_id" validate:"required"`
	Quantity  int64   `json:"quantity" validate:"required,gt=0"`
	Note      *string `json:"note,omitempty" validate:"omitempty,max=500"`
}

type orderRequest struct {
	ClientID     int64             `json:"client_id" validate:"required"`
	Lines        []orderLineBody   `json:"lines" validate:"required,min=1,dive"`
	Discounts    map[int64]float64 `json:"discounts,omitempty"`
	Currency     string            `json:"currency" validate:"required"`
	VATEnabled   bool              `json:"vat_enabled"`
	ShippingFee  float64           `json:"shipping_fee" validate:"gte=0"`
	PaymentTerms string            `json:"payment_terms" validate:"required,oneof=immediate net15 net30 net60"`
	DeliveryDate *time.Time        `json:"delivery_date,omitempty"`
}

func (req orderRequest) toInput() OrderInput {
	lines := make([]LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, LineInput{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			Note:      l.Note,
		})
	}
	return OrderInput{
		ClientID:     req.ClientID,
		Lines:        lines,
		Discounts:    req.Discounts,
		Currency:     req.Currency,
		VATEnabled:   req.VATEnabled,
		ShippingFee:  req.ShippingFee,
		PaymentTerms: PaymentTerms(req.PaymentTerms),
		DeliveryDate: req.DeliveryDate,
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (orderRequest, bool) {
	var req orderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return req, false
	}
	return req, true
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid order id", err.Error())
		return 0, false
	}
	return id, true
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	order, err := h.service.Create(r.Context(), req.toInput())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

// update routes to the pending or the accepted edit path based on the
// order's current status.
func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	current, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var order *Order
	if current.Status == StatusAccepted {
		order, err = h.service.UpdateAccepted(r.Context(), id, req.toInput())
	} else {
		order, err = h.service.UpdatePending(r.Context(), id, req.toInput())
	}
	if err != nil {
		var perr *inventory.PartialError
		if errors.As(err, &perr) && order != nil {
			httpx.JSON(w, http.StatusMultiStatus, map[string]any{
				"order":   order,
				"warning": err.Error(),
			})
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		var perr *inventory.PartialError
		if errors.As(err, &perr) {
			httpx.JSON(w, http.StatusMultiStatus, map[string]any{
				"deleted": true,
				"warning": err.Error(),
			})
			return
		}
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	result, err := h.service.Accept(r.Context(), id)
	if err != nil {
		if result == nil {
			httpx.RespondError(w, err)
			return
		}
		// Order accepted but some stock deltas failed. Report the
		// accepted state with the partial error attached.
		httpx.JSON(w, http.StatusMultiStatus, map[string]any{
			"order":   result.Order,
			"invoice": result.Invoice,
			"warning": err.Error(),
		})
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Reject(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) listByClient(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.ParseInt(chi.URLParam(r, "clientID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid client id", err.Error())
		return
	}
	out, err := h.service.ListByClient(r.Context(), clientID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
