package backend

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/medihub-cart/internal/cache"
	"github.com/noah-isme/medihub-cart/internal/geo"
)

// CachedPharmacies memoises pharmacy coordinates in Redis. Lookup failures and
// pharmacies without coordinates are never cached.
type CachedPharmacies struct {
	Lookup geo.PharmacyLookup
	Cache  *cache.Cache
}

// NewCachedPharmacies wires cache failures into logger.
func NewCachedPharmacies(lookup geo.PharmacyLookup, c *cache.Cache, logger zerolog.Logger) CachedPharmacies {
	if c != nil {
		c.OnError = func(key string, err error) {
			logger.Warn().Err(err).Str("key", key).Msg("pharmacy cache unavailable")
		}
	}
	return CachedPharmacies{Lookup: lookup, Cache: c}
}

// PharmacyLocation implements geo.PharmacyLookup.
func (c CachedPharmacies) PharmacyLocation(ctx context.Context, id string) (geo.Point, error) {
	return cache.Fetch(ctx, c.Cache, cache.KeyPharmacyLocation(id), geo.Point.Valid,
		func(ctx context.Context) (geo.Point, error) {
			return c.Lookup.PharmacyLocation(ctx, id)
		})
}
