package pricing

// Quantity tiers, highest first.
var discountTiers = []struct {
	minQty  int
	percent int
}{
	{minQty: 10, percent: 15},
	{minQty: 5, percent: 10},
	{minQty: 3, percent: 5},
}

// QuantityDiscountPercent returns the per-unit discount percentage earned by
// buying qty units of the same item.
func QuantityDiscountPercent(qty int) int {
	for _, tier := range discountTiers {
		if qty >= tier.minQty {
			return tier.percent
		}
	}
	return 0
}

// DiscountedUnitPrice applies the quantity discount to base and rounds half
// away from zero to the nearest minor unit.
func DiscountedUnitPrice(base Money, qty int) Money {
	if base <= 0 {
		return 0
	}
	base = min(base, MaxAmount)
	keep := Money(100 - QuantityDiscountPercent(qty))
	return (base*keep + 50) / 100
}

// LineTotal is the discounted unit price multiplied by qty. Inputs are held
// to MaxAmount and MaxQuantity so the product cannot overflow.
func LineTotal(base Money, qty int) Money {
	if qty <= 0 {
		return 0
	}
	qty = min(qty, MaxQuantity)
	return DiscountedUnitPrice(base, qty) * Money(qty)
}

// LineDiscountAmount is the saving against undiscounted pricing for one line.
func LineDiscountAmount(base Money, qty int) Money {
	if base <= 0 || qty <= 0 {
		return 0
	}
	base, qty = min(base, MaxAmount), min(qty, MaxQuantity)
	return base*Money(qty) - LineTotal(base, qty)
}
