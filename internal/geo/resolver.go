package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/medihub-cart/internal/pricing"
)

// DefaultTimeout bounds how long a resolution waits for its collaborators.
const DefaultTimeout = 10 * time.Second

// ErrLocationUnavailable is returned by a Locator that has no position to offer.
var ErrLocationUnavailable = errors.New("customer location unavailable")

// Locator yields the customer's current position.
type Locator interface {
	CurrentPosition(ctx context.Context) (Point, error)
}

// PharmacyLookup yields the coordinates of a fulfilling pharmacy.
type PharmacyLookup interface {
	PharmacyLocation(ctx context.Context, pharmacyID string) (Point, error)
}

// State classifies how much is known about the delivery distance.
type State string

const (
	StateUnknown State = "unknown"
	StateNear    State = "near"
	StateFar     State = "far"
)

// Estimate is the outcome of a distance resolution. DistanceKm is only
// meaningful when State is not StateUnknown.
type Estimate struct {
	State         State         `json:"state"`
	DistanceKm    float64       `json:"distance_km,omitempty"`
	Surcharge     pricing.Money `json:"surcharge"`
	LocationError string        `json:"location_error,omitempty"`
	PharmacyError string        `json:"pharmacy_error,omitempty"`
}

// Known reports whether the distance was resolved.
func (e Estimate) Known() bool { return e.State == StateNear || e.State == StateFar }

// EstimateBetween derives the estimate from both endpoints. A missing or
// invalid endpoint leaves the distance unknown with no surcharge.
func EstimateBetween(customer, pharmacy *Point) Estimate {
	if customer == nil || pharmacy == nil || !customer.Valid() || !pharmacy.Valid() {
		return Estimate{State: StateUnknown}
	}
	km := Distance(*customer, *pharmacy)
	est := Estimate{State: StateNear, DistanceKm: km, Surcharge: DistanceSurcharge(km)}
	if est.Surcharge > 0 {
		est.State = StateFar
	}
	return est
}

// Resolver combines a Locator and a PharmacyLookup into a surcharge estimate.
type Resolver struct {
	Locator    Locator
	Pharmacies PharmacyLookup
	Timeout    time.Duration
	Logger     zerolog.Logger
}

func (r Resolver) timeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

// Resolve fetches both endpoints concurrently. Failures are not retried; they
// are recorded on the estimate, which stays unknown.
func (r Resolver) Resolve(ctx context.Context, pharmacyID string) Estimate {
	return r.resolve(ctx, r.Locator, pharmacyID)
}

// ResolveWith is Resolve using a per-call locator, typically one bound to the
// requesting session.
func (r Resolver) ResolveWith(ctx context.Context, locator Locator, pharmacyID string) Estimate {
	return r.resolve(ctx, locator, pharmacyID)
}

func (r Resolver) resolve(ctx context.Context, locator Locator, pharmacyID string) Estimate {
	if locator == nil || r.Pharmacies == nil || pharmacyID == "" {
		return Estimate{State: StateUnknown}
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	var (
		customer, pharmacy *Point
		est                Estimate
	)
	// Either lookup failing leaves the estimate Unknown, so the first error
	// cancels the other lookup.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := locator.CurrentPosition(gctx)
		if err != nil {
			if !cancelledBySibling(ctx, err) {
				est.LocationError = describe(err, "Location share failed. Please allow location permission.")
			}
			return fmt.Errorf("customer location: %w", err)
		}
		customer = &p
		return nil
	})
	g.Go(func() error {
		p, err := r.Pharmacies.PharmacyLocation(gctx, pharmacyID)
		if err != nil {
			if !cancelledBySibling(ctx, err) {
				est.PharmacyError = describe(err, "Pharmacy location unavailable.")
			}
			return fmt.Errorf("pharmacy %s location: %w", pharmacyID, err)
		}
		pharmacy = &p
		return nil
	})
	if err := g.Wait(); err != nil {
		ev := r.Logger.Warn()
		if errors.Is(err, ErrLocationUnavailable) {
			ev = r.Logger.Debug()
		}
		ev.Err(err).Str("pharmacy_id", pharmacyID).Msg("delivery estimate unresolved")
	}

	out := EstimateBetween(customer, pharmacy)
	out.LocationError = est.LocationError
	out.PharmacyError = est.PharmacyError
	return out
}

// cancelledBySibling reports whether err only reflects the group cancelling
// a lookup after the other one failed.
func cancelledBySibling(parent context.Context, err error) bool {
	return errors.Is(err, context.Canceled) && parent.Err() == nil
}

func describe(err error, fallback string) string {
	switch {
	case errors.Is(err, ErrLocationUnavailable):
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s (timed out)", fallback)
	default:
		return fallback
	}
}
