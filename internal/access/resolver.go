package access

import (
	"strings"
	"sync"
	"time"

	"github.com/sahidur/ams-sub001/internal/observability"
	"github.com/sahidur/ams-sub001/model"
)

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver implements model.CapabilityResolver with an in-memory TTL cache.
type Resolver struct {
	evaluator  PolicyEvaluator
	ttl        time.Duration
	maxEntries int
	metrics    *observability.Metrics
	mu         sync.RWMutex
	cache      map[string]cacheEntry
}

// NewResolver creates a new Resolver with the given evaluator and cache TTL.
// maxEntries bounds the cache; zero means unbounded. metrics may be nil.
func NewResolver(evaluator PolicyEvaluator, ttl time.Duration, maxEntries int, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		evaluator:  evaluator,
		ttl:        ttl,
		maxEntries: maxEntries,
		metrics:    metrics,
		cache:      make(map[string]cacheEntry),
	}
}

func cacheKey(subjectID, tenantID string) string {
	return subjectID + ":" + tenantID + ":"
}

// Resolve returns the full capability set for the given context. Results are
// cached per subject and tenant for the configured TTL.
func (r *Resolver) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	key := cacheKey(rctx.SubjectID, rctx.TenantID) + strings.Join(rctx.Roles, ",")

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expires) {
		r.mu.RUnlock()
		r.metrics.RecordCapabilityCacheHit()
		return entry.caps, nil
	}
	r.mu.RUnlock()
	r.metrics.RecordCapabilityCacheMiss()

	caps, err := r.evaluator.ResolveCapabilities(rctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.maxEntries > 0 && len(r.cache) >= r.maxEntries {
		r.evictLocked()
	}
	r.cache[key] = cacheEntry{caps: caps, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return caps, nil
}

// Invalidate clears cached capabilities for the given user and tenant.
func (r *Resolver) Invalidate(subjectID, tenantID string) {
	prefix := cacheKey(subjectID, tenantID)
	r.mu.Lock()
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// InvalidateAll clears the whole cache, e.g. after a policy reload.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	clear(r.cache)
	r.mu.Unlock()
}

// evictLocked drops expired entries, or everything when none had expired.
func (r *Resolver) evictLocked() {
	now := time.Now()
	for key, entry := range r.cache {
		if now.After(entry.expires) {
			delete(r.cache, key)
		}
	}
	if len(r.cache) >= r.maxEntries {
		clear(r.cache)
	}
}

// Len returns the number of cached entries. For testing.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
