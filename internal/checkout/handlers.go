package checkout

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/medihub-cart/internal/common"
	"github.com/noah-isme/medihub-cart/internal/pricing"
)

// Handler exposes the checkout flow over HTTP.
type Handler struct {
	Svc *Service
	// SubmitMiddleware wraps the submit endpoint, typically with idempotency.
	SubmitMiddleware []func(http.Handler) http.Handler
}

// Routes mounts the checkout endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Get)
	r.Post("/address", h.Address)
	r.Post("/payment", h.Payment)
	r.Post("/back", h.Back)
	r.Post("/reset", h.Reset)
	r.With(h.SubmitMiddleware...).Post("/submit", h.Submit)
}

// Get returns the priced checkout preview and the current step.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	q, err := h.Svc.Quote(r.Context(), deliveryFrom(r, ""))
	if err != nil {
		common.WriteError(w, err, "checkout unavailable")
		return
	}
	common.Data(w, http.StatusOK, q)
}

func (h *Handler) Address(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var payload struct {
		Address string `json:"address"`
		Phone   string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	h.respondFlow(w, r, func() (Flow, error) {
		return h.Svc.SubmitAddress(r.Context(), payload.Address, payload.Phone)
	})
}

func (h *Handler) Payment(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var payload struct {
		PaymentMethod string `json:"payment_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	h.respondFlow(w, r, func() (Flow, error) {
		return h.Svc.ChoosePayment(r.Context(), payload.PaymentMethod)
	})
}

func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	h.respondFlow(w, r, func() (Flow, error) { return h.Svc.Back(r.Context()) })
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	h.respondFlow(w, r, func() (Flow, error) { return h.Svc.Reset(r.Context()) })
}

// Submit places the order. Delivery type comes from the body or the query.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var payload struct {
		Delivery string `json:"delivery"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	receipt, err := h.Svc.Submit(r.Context(), deliveryFrom(r, payload.Delivery))
	if err != nil {
		common.WriteError(w, err, "checkout unavailable")
		return
	}
	common.Data(w, http.StatusCreated, receipt)
}

func (h *Handler) respondFlow(w http.ResponseWriter, r *http.Request, fn func() (Flow, error)) {
	f, err := fn()
	if err != nil {
		common.WriteError(w, err, "checkout unavailable")
		return
	}
	common.Data(w, http.StatusOK, f)
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h == nil || h.Svc == nil || h.Svc.Cart == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return false
	}
	return true
}

func deliveryFrom(r *http.Request, body string) pricing.DeliveryType {
	if body != "" {
		return pricing.ParseDeliveryType(body)
	}
	return pricing.ParseDeliveryType(r.URL.Query().Get("delivery"))
}
