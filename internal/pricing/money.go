package pricing

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// MinorPerUnit is the number of minor units in one currency unit.
const MinorPerUnit Money = 100

// Bounds on parsed input. With both in place a line total stays far below
// the int64 range.
const (
	MaxAmount   Money = 10_000_000 * MinorPerUnit
	MaxQuantity       = 100_000
)

// FromUnits converts a whole currency amount into minor units.
func FromUnits(units int64) Money {
	return units * MinorPerUnit
}

// ParseAmount coerces a loosely typed price into minor units rounded to two
// decimals. Negative, non-numeric, non-finite and values above MaxAmount
// become zero.
func ParseAmount(v any) Money {
	d, ok := toDecimal(v)
	if !ok || d.IsNegative() {
		return 0
	}
	minor := d.Shift(2).Round(0)
	if minor.GreaterThan(decimal.NewFromInt(MaxAmount)) {
		return 0
	}
	return minor.IntPart()
}

// ParseQuantity coerces a loosely typed quantity into an integer in
// [0, MaxQuantity]. Fractional quantities are truncated.
func ParseQuantity(v any) int {
	d, ok := toDecimal(v)
	if !ok || d.IsNegative() {
		return 0
	}
	q := d.Truncate(0)
	if q.GreaterThan(decimal.NewFromInt(MaxQuantity)) {
		return MaxQuantity
	}
	return int(q.IntPart())
}

// Decimal renders m as a two-decimal amount.
func Decimal(m Money) decimal.Decimal {
	return decimal.New(m, -2)
}

// Format renders an amount for display, e.g. "₹18.00".
func Format(m Money) string {
	return "₹" + Decimal(m).StringFixed(2)
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return val, true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int32:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case float32:
		return fromFloat(float64(val))
	case float64:
		return fromFloat(val)
	case json.Number:
		return fromString(val.String())
	case string:
		return fromString(val)
	case bool:
		if val {
			return decimal.NewFromInt(1), true
		}
		return decimal.Zero, true
	default:
		return fromString(fmt.Sprint(val))
	}
}

func fromFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

func fromString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
