package policy

import (
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	gocache "github.com/patrickmn/go-cache"
)

// Resolution pairs a resolved policy with its parse health.
type Resolution struct {
	Policy   EnrollmentPolicy
	Degraded bool
}

// CachedResolver memoizes per-offering policy resolution. Blobs are
// immutable within one reconciliation pass, so a short TTL is enough.
type CachedResolver struct {
	cache *gocache.Cache
}

func NewCachedResolver() *CachedResolver {
	return &CachedResolver{
		cache: gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// Resolve returns the cached resolution for the offering, parsing the
// blob on first sight.
func (r *CachedResolver) Resolve(offeringID snowflake.ID, blob []byte) Resolution {
	key := strconv.FormatInt(offeringID.Int64(), 10)
	if cached, ok := r.cache.Get(key); ok {
		return cached.(Resolution)
	}

	resolved, degraded := Resolve(blob)
	resolution := Resolution{Policy: resolved, Degraded: degraded}
	r.cache.Set(key, resolution, gocache.DefaultExpiration)
	return resolution
}

// Invalidate drops the cached resolution for an offering, for callers
// that just updated its blob.
func (r *CachedResolver) Invalidate(offeringID snowflake.ID) {
	r.cache.Delete(strconv.FormatInt(offeringID.Int64(), 10))
}

// Flush drops every cached resolution. The reconciler calls it at the
// start of each sweep so a resolution never outlives the run that
// produced it.
func (r *CachedResolver) Flush() {
	r.cache.Flush()
}
