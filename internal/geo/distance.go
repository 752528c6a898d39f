package geo

import (
	"fmt"
	"math"

	"github.com/noah-isme/medihub-cart/internal/pricing"
)

const (
	// EarthRadiusKm is the mean Earth radius used for great-circle distances.
	EarthRadiusKm = 6371.0
	// SurchargeThresholdKm is the largest distance delivered without a surcharge.
	SurchargeThresholdKm = 2.5
	// SurchargeAmount is the flat fee added beyond SurchargeThresholdKm.
	SurchargeAmount pricing.Money = 30 * pricing.MinorPerUnit
)

// Point is a WGS84 coordinate pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether p is a finite coordinate inside the WGS84 ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// HaversineDistanceKm returns the great-circle distance between two points,
// rounded to two decimals.
func HaversineDistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)
	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	a := sinLat*sinLat + math.Cos(radians(lat1))*math.Cos(radians(lat2))*sinLng*sinLng
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return math.Round(EarthRadiusKm*c*100) / 100
}

// Distance is HaversineDistanceKm for two points.
func Distance(from, to Point) float64 {
	return HaversineDistanceKm(from.Lat, from.Lng, to.Lat, to.Lng)
}

// DistanceSurcharge is a step function: zero up to the threshold, then the
// flat SurchargeAmount.
func DistanceSurcharge(distanceKm float64) pricing.Money {
	if distanceKm > SurchargeThresholdKm {
		return SurchargeAmount
	}
	return 0
}

// FormatDistance renders sub-kilometre distances in metres.
func FormatDistance(km float64) string {
	if km < 1 {
		return fmt.Sprintf("%.0fm", km*1000)
	}
	return fmt.Sprintf("%.1fkm", km)
}

// DeliveryETA estimates delivery time at roughly three minutes per kilometre.
func DeliveryETA(km float64, express bool) string {
	if express {
		return "15-20 min"
	}
	mins := int(math.Ceil(km * 3))
	return fmt.Sprintf("%d-%d min", mins, mins+5)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
