package extract

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// poolKey identifies one loaded model slot, spec.md §4.3's
// (setter_name, cache_key) composite key.
type poolKey struct {
	Setter   string
	CacheKey string
}

type poolEntry struct {
	loadedAt time.Time
	ttl      time.Duration
}

// InferencePool caches which (setter, cache_key) pairs are currently
// loaded on the inference endpoint, evicting both on LRU pressure and on
// TTL expiry — grounded on the teacher's gitignore-matcher LRU cache
// (internal/scanner.gitignoreCache), generalized to hold load/unload
// lifecycle state instead of compiled matchers.
type InferencePool struct {
	mu     sync.Mutex
	cache  *lru.Cache[poolKey, *poolEntry]
	client *InferenceClient
}

// NewInferencePool builds a pool of the given capacity backed by client.
// On eviction (LRU or TTL), the pool calls client.Unload for the evicted
// key.
func NewInferencePool(client *InferenceClient, capacity int) (*InferencePool, error) {
	if capacity <= 0 {
		capacity = 1
	}
	p := &InferencePool{client: client}
	cache, err := lru.NewWithEvict(capacity, func(key poolKey, _ *poolEntry) {
		_ = client.Unload(context.Background(), key.Setter, key.CacheKey)
	})
	if err != nil {
		return nil, err
	}
	p.cache = cache
	return p, nil
}

// Ensure loads setter/cacheKey if it isn't already resident (or has
// expired its TTL), refreshing its position in the LRU.
func (p *InferencePool) Ensure(ctx context.Context, setter, cacheKey string, lruSize, ttlSeconds int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := poolKey{Setter: setter, CacheKey: cacheKey}
	if entry, ok := p.cache.Get(key); ok {
		if entry.ttl <= 0 || time.Since(entry.loadedAt) < entry.ttl {
			return nil
		}
		p.cache.Remove(key)
	}

	if err := p.client.Load(ctx, setter, cacheKey, lruSize, ttlSeconds); err != nil {
		return err
	}
	p.cache.Add(key, &poolEntry{loadedAt: time.Now(), ttl: time.Duration(ttlSeconds) * time.Second})
	return nil
}

// Release evicts setter/cacheKey immediately, unloading it on the
// endpoint. Used when an extraction job completes, per spec.md §4.3's
// "on completion ... unload the model".
func (p *InferencePool) Release(ctx context.Context, setter, cacheKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(poolKey{Setter: setter, CacheKey: cacheKey})
}
