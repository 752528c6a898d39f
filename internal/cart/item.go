package cart

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/noah-isme/medihub-cart/internal/pricing"
)

// DefaultPharmacyName is shown when a product carries no pharmacy name.
const DefaultPharmacyName = "Nearby Pharmacy"

var integerID = regexp.MustCompile(`^(0|-?[1-9][0-9]*)$`)

// ID identifies products and pharmacies. Identifiers arrive as JSON numbers or
// strings and are compared by their textual form.
type ID string

// String returns the textual identifier.
func (id ID) String() string { return string(id) }

// Empty reports whether the identifier is blank.
func (id ID) Empty() bool { return strings.TrimSpace(string(id)) == "" }

// UnmarshalJSON accepts numbers, strings and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes integer identifiers as numbers so persisted carts keep
// their original shape.
func (id ID) MarshalJSON() ([]byte, error) {
	if integerID.MatchString(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// LineItem is one product entry in the cart. Descriptive fields and price are
// snapshots taken when the product was added.
type LineItem struct {
	ID           ID
	Name         string
	Strength     string
	Unit         string
	Price        pricing.Money
	PharmacyID   ID
	PharmacyName string
	Quantity     int
	Available    *bool
	StockQty     *int
}

// PricingItem adapts the line for the pricing engine.
func (li LineItem) PricingItem() pricing.Item {
	return pricing.Item{Qty: li.Quantity, UnitPrice: li.Price}
}

// PricingItems adapts a cart for the pricing engine.
func PricingItems(items []LineItem) []pricing.Item {
	out := make([]pricing.Item, 0, len(items))
	for _, it := range items {
		out = append(out, it.PricingItem())
	}
	return out
}

type wireItem struct {
	ID           ID              `json:"id"`
	Name         string          `json:"name"`
	Strength     string          `json:"strength,omitempty"`
	Unit         string          `json:"unit,omitempty"`
	Price        json.RawMessage `json:"price"`
	PharmacyID   ID              `json:"pharmacy_id"`
	PharmacyName string          `json:"pharmacy_name,omitempty"`
	Quantity     json.RawMessage `json:"quantity"`
	Available    *bool           `json:"available,omitempty"`
	StockQty     json.RawMessage `json:"stock_qty,omitempty"`
}

// MarshalJSON stores the price in currency units, matching the storage format
// the storefront has always used.
func (li LineItem) MarshalJSON() ([]byte, error) {
	w := wireItem{
		ID:           li.ID,
		Name:         li.Name,
		Strength:     li.Strength,
		Unit:         li.Unit,
		Price:        json.RawMessage(pricing.Decimal(li.Price).String()),
		PharmacyID:   li.PharmacyID,
		PharmacyName: li.PharmacyName,
		Quantity:     json.RawMessage(strconv.Itoa(li.Quantity)),
		Available:    li.Available,
	}
	if li.StockQty != nil {
		w.StockQty = json.RawMessage(strconv.Itoa(*li.StockQty))
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes leniently: numeric fields may be numbers or numeric
// strings and anything unparsable becomes zero.
func (li *LineItem) UnmarshalJSON(data []byte) error {
	var w wireItem
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*li = LineItem{
		ID:           w.ID,
		Name:         w.Name,
		Strength:     w.Strength,
		Unit:         w.Unit,
		Price:        pricing.ParseAmount(rawValue(w.Price)),
		PharmacyID:   w.PharmacyID,
		PharmacyName: w.PharmacyName,
		Quantity:     pricing.ParseQuantity(rawValue(w.Quantity)),
		Available:    w.Available,
	}
	if len(w.StockQty) > 0 && !bytes.Equal(bytes.TrimSpace(w.StockQty), []byte("null")) {
		stock := rawInt(w.StockQty)
		li.StockQty = &stock
	}
	return nil
}

// Product is the catalogue snapshot offered to Add.
type Product struct {
	ID           ID
	Name         string
	Strength     string
	Unit         string
	Price        pricing.Money
	PharmacyID   ID
	PharmacyName string
	Available    *bool
	StockQty     *int
}

type wireProduct struct {
	ID           ID              `json:"id"`
	Name         string          `json:"name"`
	Strength     string          `json:"strength"`
	Unit         string          `json:"unit"`
	Price        json.RawMessage `json:"price"`
	PharmacyID   ID              `json:"pharmacy_id"`
	PharmacyName string          `json:"pharmacy_name"`
	Pharmacy     *struct {
		ID   ID     `json:"id"`
		Name string `json:"name"`
	} `json:"pharmacy"`
	Available *bool           `json:"available"`
	StockQty  json.RawMessage `json:"stock_qty"`
}

// UnmarshalJSON accepts the catalogue payload shape, resolving the pharmacy
// from either pharmacy_id or a nested pharmacy object.
func (p *Product) UnmarshalJSON(data []byte) error {
	var w wireProduct
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = Product{
		ID:           w.ID,
		Name:         w.Name,
		Strength:     w.Strength,
		Unit:         w.Unit,
		Price:        pricing.ParseAmount(rawValue(w.Price)),
		PharmacyID:   w.PharmacyID,
		PharmacyName: w.PharmacyName,
		Available:    w.Available,
	}
	if w.Pharmacy != nil {
		if p.PharmacyID.Empty() {
			p.PharmacyID = w.Pharmacy.ID
		}
		if strings.TrimSpace(p.PharmacyName) == "" {
			p.PharmacyName = w.Pharmacy.Name
		}
	}
	if len(w.StockQty) > 0 && !bytes.Equal(bytes.TrimSpace(w.StockQty), []byte("null")) {
		stock := rawInt(w.StockQty)
		p.StockQty = &stock
	}
	return nil
}

// InStock reports whether the snapshot allows adding the product.
func (p Product) InStock() bool {
	if p.Available != nil && !*p.Available {
		return false
	}
	if p.StockQty != nil && *p.StockQty <= 0 {
		return false
	}
	return true
}

func (p Product) lineItem() LineItem {
	name := strings.TrimSpace(p.PharmacyName)
	if name == "" {
		name = DefaultPharmacyName
	}
	price := p.Price
	if price < 0 {
		price = 0
	}
	return LineItem{
		ID:           p.ID,
		Name:         p.Name,
		Strength:     p.Strength,
		Unit:         p.Unit,
		Price:        price,
		PharmacyID:   p.PharmacyID,
		PharmacyName: name,
		Quantity:     1,
		Available:    p.Available,
		StockQty:     p.StockQty,
	}
}

// rawValue turns a raw JSON scalar into something pricing.Parse* understands.
func rawValue(raw json.RawMessage) any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil
	}
	return n
}

// rawInt keeps the sign so a negative stock still reads as out of stock.
func rawInt(raw json.RawMessage) int {
	v := rawValue(raw)
	if v == nil {
		return 0
	}
	var s string
	switch val := v.(type) {
	case json.Number:
		s = val.String()
	case string:
		s = strings.TrimSpace(val)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}
