package pricefeed

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"brokerd/internal/types"
)

// CachedSource decorates a Source with a per-symbol TTL cache. The clock is
// injectable so tests control expiry deterministically, and concurrent
// misses for the same symbol collapse into one upstream call.
type CachedSource struct {
	upstream Source
	ttl      time.Duration
	nowFn    func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
	flight  singleflight.Group
}

type cacheEntry struct {
	quote    types.Quote
	fetchedAt time.Time
}

func NewCachedSource(upstream Source, ttl time.Duration) *CachedSource {
	return &CachedSource{
		upstream: upstream,
		ttl:      ttl,
		nowFn:    time.Now,
		entries:  make(map[string]cacheEntry),
	}
}

// WithClock overrides the cache clock. Test hook.
func (c *CachedSource) WithClock(now func() time.Time) *CachedSource {
	c.nowFn = now
	return c
}

func (c *CachedSource) Quote(ctx context.Context, symbol string) (types.Quote, error) {
	key := normalizeSymbol(symbol)
	if q, ok := c.fresh(key); ok {
		return q, nil
	}
	v, err, _ := c.flight.Do(key, func() (any, error) {
		if q, ok := c.fresh(key); ok {
			return q, nil
		}
		q, err := c.upstream.Quote(ctx, symbol)
		if err != nil {
			return types.Quote{}, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{quote: q, fetchedAt: c.nowFn()}
		c.mu.Unlock()
		return q, nil
	})
	if err != nil {
		return types.Quote{}, err
	}
	return v.(types.Quote), nil
}

func (c *CachedSource) Quotes(ctx context.Context, symbols []string) (map[string]types.Quote, error) {
	out := make(map[string]types.Quote, len(symbols))
	var misses []string
	for _, sym := range symbols {
		key := normalizeSymbol(sym)
		if q, ok := c.fresh(key); ok {
			out[key] = q
		} else {
			misses = append(misses, sym)
		}
	}
	if len(misses) > 0 {
		fetched, err := c.upstream.Quotes(ctx, misses)
		if err != nil {
			return nil, err
		}
		now := c.nowFn()
		c.mu.Lock()
		for key, q := range fetched {
			c.entries[key] = cacheEntry{quote: q, fetchedAt: now}
			out[key] = q
		}
		c.mu.Unlock()
	}
	return out, nil
}

func (c *CachedSource) fresh(key string) (types.Quote, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return types.Quote{}, false
	}
	if c.ttl > 0 && c.nowFn().Sub(entry.fetchedAt) > c.ttl {
		return types.Quote{}, false
	}
	return entry.quote, true
}
