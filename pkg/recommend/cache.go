package recommend

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/elonfeng/productradar/internal/metrics"
)

// DefaultTTL is how long a computed list is served.
const DefaultTTL = 4 * time.Hour

type cacheEntry struct {
	at   time.Time
	recs []Recommendation
}

// Cache holds recommendation lists keyed by list size. Concurrent misses
// for the same key share one computation. Ages are measured with the
// monotonic reading of the clock.
type Cache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[int]cacheEntry
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int]cacheEntry),
	}
}

func (c *Cache) lookup(topN int) ([]Recommendation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[topN]
	if !ok || c.now().Sub(e.at) >= c.ttl {
		return nil, false
	}
	return e.recs, true
}

// Get returns the cached list for topN, or computes and stores it. Failed
// computations are not cached.
func (c *Cache) Get(ctx context.Context, topN int, compute func(context.Context) ([]Recommendation, error)) ([]Recommendation, error) {
	if recs, ok := c.lookup(topN); ok {
		metrics.RecommendCacheHits.Inc()
		return recs, nil
	}
	metrics.RecommendCacheMisses.Inc()

	v, err, _ := c.group.Do(strconv.Itoa(topN), func() (any, error) {
		if recs, ok := c.lookup(topN); ok {
			return recs, nil
		}
		recs, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[topN] = cacheEntry{at: c.now(), recs: recs}
		c.mu.Unlock()
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Recommendation), nil
}
