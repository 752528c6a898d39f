package pricing

import "strings"

const (
	// ExpressDeliveryCharge is added once per order for express delivery.
	ExpressDeliveryCharge Money = 30 * MinorPerUnit
	// TaxRateBps is the tax rate applied to the discounted subtotal, in basis points.
	TaxRateBps = 500
)

// DeliveryType selects the delivery speed for an order.
type DeliveryType string

const (
	DeliveryStandard DeliveryType = "standard"
	DeliveryExpress  DeliveryType = "express"
)

// ParseDeliveryType maps free-form input onto a known delivery type.
// Anything other than "express" is standard delivery.
func ParseDeliveryType(v string) DeliveryType {
	if strings.EqualFold(strings.TrimSpace(v), string(DeliveryExpress)) {
		return DeliveryExpress
	}
	return DeliveryStandard
}

// IsExpress reports whether d is express delivery.
func (d DeliveryType) IsExpress() bool { return d == DeliveryExpress }

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Summary aggregates computed pricing components.
type Summary struct {
	ItemCount         int   `json:"item_count"`
	Subtotal          Money `json:"subtotal"`
	QuantityDiscount  Money `json:"quantity_discount"`
	Tax               Money `json:"tax"`
	DeliveryCharge    Money `json:"delivery_charge"`
	DistanceSurcharge Money `json:"distance_surcharge"`
	Total             Money `json:"total"`
}

// Summarize calculates cart totals. The subtotal already reflects quantity
// discounts; tax is charged on it and rounded to whole currency units.
func Summarize(items []Item, delivery DeliveryType, surcharge Money) Summary {
	var s Summary
	for _, it := range items {
		qty := max(min(it.Qty, MaxQuantity), 0)
		s.ItemCount += qty
		s.Subtotal += LineTotal(it.UnitPrice, qty)
		s.QuantityDiscount += LineDiscountAmount(it.UnitPrice, qty)
	}
	if delivery.IsExpress() {
		s.DeliveryCharge = ExpressDeliveryCharge
	}
	if surcharge < 0 {
		surcharge = 0
	}
	s.DistanceSurcharge = surcharge
	s.Tax = Tax(s.Subtotal)
	s.Total = s.Subtotal + s.DeliveryCharge + s.Tax + s.DistanceSurcharge
	return s
}

// Tax returns TaxRateBps of subtotal rounded half-up to a whole currency unit.
func Tax(subtotal Money) Money {
	if subtotal <= 0 {
		return 0
	}
	const denom = 10000 * MinorPerUnit
	units := (subtotal*TaxRateBps + denom/2) / denom
	return units * MinorPerUnit
}
