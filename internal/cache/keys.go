package cache

// KeyPharmacyLocation returns the cache key of a pharmacy's coordinates.
func KeyPharmacyLocation(id string) string {
	return "pharmacy:location:" + id
}
