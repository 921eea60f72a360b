package cache

import "time"

// Cache defines the interface for cache backends. All mutation goes through
// Set/Delete/Clear; callers never mutate a cached payload in place.
type Cache interface {
	Get(key string) (interface{}, bool)
	// GetWithAge also reports when the entry was stored, for callers that
	// refresh stale-but-servable entries in the background.
	GetWithAge(key string) (interface{}, time.Time, bool)
	Set(key string, value interface{})
	SetWithTTL(key string, value interface{}, ttl time.Duration)
	Has(key string) bool
	Delete(key string)
	Clear()
}
