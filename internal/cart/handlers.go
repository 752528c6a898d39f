package cart

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/medihub-cart/internal/common"
	"github.com/noah-isme/medihub-cart/internal/geo"
	"github.com/noah-isme/medihub-cart/internal/pricing"
)

// Handler wires the cart store to HTTP.
type Handler struct {
	Store *Store
}

// LineView is a cart line with its per-line pricing.
type LineView struct {
	ID                 ID            `json:"id"`
	Name               string        `json:"name"`
	Strength           string        `json:"strength,omitempty"`
	Unit               string        `json:"unit,omitempty"`
	PharmacyID         ID            `json:"pharmacy_id"`
	PharmacyName       string        `json:"pharmacy_name"`
	Quantity           int           `json:"quantity"`
	BasePrice          pricing.Money `json:"base_price"`
	DiscountPercent    int           `json:"discount_percent"`
	DiscountedPrice    pricing.Money `json:"discounted_price"`
	LineTotal          pricing.Money `json:"line_total"`
	LineDiscountAmount pricing.Money `json:"line_discount"`
}

// View is the priced cart returned to clients. Amounts are in minor units.
type View struct {
	Items        []LineView      `json:"items"`
	PharmacyID   ID              `json:"pharmacy_id,omitempty"`
	PharmacyName string          `json:"pharmacy_name,omitempty"`
	Delivery     string          `json:"delivery"`
	Summary      pricing.Summary `json:"summary"`
}

// NewView prices items for display. The distance surcharge is applied at
// checkout, so the cart view never includes it.
func NewView(items []LineItem, delivery pricing.DeliveryType) View {
	v := View{Items: make([]LineView, 0, len(items)), Delivery: string(delivery)}
	for _, it := range items {
		v.Items = append(v.Items, LineView{
			ID:                 it.ID,
			Name:               it.Name,
			Strength:           it.Strength,
			Unit:               it.Unit,
			PharmacyID:         it.PharmacyID,
			PharmacyName:       it.PharmacyName,
			Quantity:           it.Quantity,
			BasePrice:          it.Price,
			DiscountPercent:    pricing.QuantityDiscountPercent(it.Quantity),
			DiscountedPrice:    pricing.DiscountedUnitPrice(it.Price, it.Quantity),
			LineTotal:          pricing.LineTotal(it.Price, it.Quantity),
			LineDiscountAmount: pricing.LineDiscountAmount(it.Price, it.Quantity),
		})
	}
	if len(items) > 0 {
		v.PharmacyID = items[0].PharmacyID
		v.PharmacyName = items[0].PharmacyName
	}
	v.Summary = pricing.Summarize(PricingItems(items), delivery, 0)
	return v
}

// Routes mounts the cart endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Get)
	r.Put("/", h.Replace)
	r.Delete("/", h.Clear)
	r.Post("/items", h.AddItem)
	r.Patch("/items/{id}", h.UpdateItem)
	r.Delete("/items/{id}", h.RemoveItem)
	r.Put("/location", h.SetLocation)
}

// Get returns cart contents and pricing preview.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	h.respond(w, r, http.StatusOK)
}

// Replace overwrites the cart with the provided items. Lines without a
// positive quantity are dropped; duplicates and foreign pharmacies are
// reconciled by Store.SetItems.
func (h *Handler) Replace(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var payload struct {
		Items []LineItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	items := make([]LineItem, 0, len(payload.Items))
	for _, it := range payload.Items {
		if it.ID.Empty() || it.Quantity <= 0 {
			continue
		}
		if strings.TrimSpace(it.PharmacyName) == "" {
			it.PharmacyName = DefaultPharmacyName
		}
		items = append(items, it)
	}
	if err := h.Store.SetItems(r.Context(), items); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to save cart", nil)
		return
	}
	h.respond(w, r, http.StatusOK)
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	if err := h.Store.Clear(r.Context()); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to clear cart", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem adds one unit of a product.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var product Product
	if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	result, err := h.Store.Add(r.Context(), product)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to update cart", nil)
		return
	}
	if !result.OK {
		common.JSONError(w, http.StatusUnprocessableEntity, "CART_REJECTED", result.Message, nil)
		return
	}
	view := NewView(h.Store.Items(r.Context()), pricing.ParseDeliveryType(r.URL.Query().Get("delivery")))
	common.JSON(w, http.StatusOK, map[string]any{"data": view, "result": result})
}

// UpdateItem sets the quantity of a line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var payload struct {
		Quantity json.RawMessage `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload.Quantity) == 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "quantity is required", nil)
		return
	}
	qty := rawInt(payload.Quantity)
	if err := h.Store.UpdateQuantity(r.Context(), ID(chi.URLParam(r, "id")), qty); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to update cart", nil)
		return
	}
	h.respond(w, r, http.StatusOK)
}

// RemoveItem deletes a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	if err := h.Store.Remove(r.Context(), ID(chi.URLParam(r, "id"))); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to update cart", nil)
		return
	}
	h.respond(w, r, http.StatusOK)
}

// SetLocation records the customer's shared position for distance pricing.
func (h *Handler) SetLocation(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var p geo.Point
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || !p.Valid() {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "valid lat and lng are required", nil)
		return
	}
	if err := h.Store.SetDeliveryLocation(r.Context(), p); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to save location", nil)
		return
	}
	common.Data(w, http.StatusOK, p)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int) {
	view := NewView(h.Store.Items(r.Context()), pricing.ParseDeliveryType(r.URL.Query().Get("delivery")))
	common.Data(w, status, view)
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart store not configured", nil)
		return false
	}
	return true
}
