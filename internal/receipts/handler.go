package receipts

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/qwerty-development/makielli-internal-sub000/internal/platform/httpx"
)

// Handler exposes receipt recording and validation over HTTP.
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

// MountRoutes registers receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/receipts", func(r chi.Router) {
		r.Post("/validate", h.validateOnly)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
	r.Get("/invoices/{invoiceID}/receipts", h.listByInvoice)
}

type receiptRequest struct {
	InvoiceID int64      `json:"invoice_id" validate:"required"`
	Amount    float64    `json:"amount" validate:"required"`
	Currency  string     `json:"currency" validate:"required"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	Note      *string    `json:"note,omitempty" validate:"omitempty,max=500"`
}

func (req receiptRequest) toInput() CreateInput {
	input := CreateInput{
		InvoiceID: req.InvoiceID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Note:      req.Note,
	}
	if req.PaidAt != nil {
		input.PaidAt = *req.PaidAt
	}
	return input
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (receiptRequest, bool) {
	var req receiptRequest
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

func receiptID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid receipt id", err.Error())
		return 0, false
	}
	return id, true
}

// validateOnly runs the rulebook without recording anything. Always 200;
// blocking problems come back in the errors array.
func (h *Handler) validateOnly(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.service.Validate(r.Context(), req.InvoiceID, req.Amount, req.Currency)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type receiptResponse struct {
	Receipt  *Receipt `json:"receipt"`
	Warnings []string `json:"warnings,omitempty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	rec, warnings, err := h.service.Create(r.Context(), req.toInput())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receiptResponse{Receipt: rec, Warnings: warnings})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	rec, warnings, err := h.service.Update(r.Context(), id, req.toInput())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receiptResponse{Receipt: rec, Warnings: warnings})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listByInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "invoiceID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid invoice id", err.Error())
		return
	}
	out, err := h.service.ListByInvoice(r.Context(), invoiceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
