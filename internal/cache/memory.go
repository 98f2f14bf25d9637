package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter"

	"github.com/crenshan/experiment-factory/internal/observability"
)

// MemoryCache is the L1 layer: a bounded otter cache (S3-FIFO) with a TTL.
// name labels its Prometheus metrics.
type MemoryCache[K comparable, V any] struct {
	name  string
	store otter.Cache[K, V]
}

// NewMemoryCache builds a cache holding at most capacity items for ttl each.
func NewMemoryCache[K comparable, V any](name string, capacity int, ttl time.Duration) (*MemoryCache[K, V], error) {
	store, err := otter.MustBuilder[K, V](capacity).
		CollectStats().
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}

	return &MemoryCache[K, V]{name: name, store: store}, nil
}

// Get returns the cached value and whether it was present.
func (c *MemoryCache[K, V]) Get(key K) (V, bool) {
	v, ok := c.store.Get(key)
	if ok {
		observability.CacheL1Hits.WithLabelValues(c.name).Inc()
	} else {
		observability.CacheL1Misses.WithLabelValues(c.name).Inc()
	}
	return v, ok
}

// Set adds or replaces a value. otter may reject the write under contention.
func (c *MemoryCache[K, V]) Set(key K, value V) {
	c.store.Set(key, value)
}

// Del removes a value.
func (c *MemoryCache[K, V]) Del(key K) {
	c.store.Delete(key)
}

// Len returns the current number of items.
func (c *MemoryCache[K, V]) Len() int {
	return c.store.Size()
}

// Clear removes every item.
func (c *MemoryCache[K, V]) Clear() {
	c.store.Clear()
}

// Close stops otter's background goroutines.
func (c *MemoryCache[K, V]) Close() {
	c.store.Close()
}

// RunMetricsCollector exports item count, evictions and rejected writes every
// interval until ctx is done.
func (c *MemoryCache[K, V]) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastEvicted, lastRejected int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.store.Stats()
			observability.CacheL1Items.WithLabelValues(c.name).Set(float64(c.store.Size()))

			if evicted := stats.EvictedCount(); evicted > lastEvicted {
				observability.CacheL1Evictions.WithLabelValues(c.name).Add(float64(evicted - lastEvicted))
				lastEvicted = evicted
			}
			if rejected := stats.RejectedSets(); rejected > lastRejected {
				observability.CacheL1Dropped.WithLabelValues(c.name).Add(float64(rejected - lastRejected))
				lastRejected = rejected
			}
		}
	}
}
