package rates

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type cacheEntry struct {
	rate      decimal.Decimal
	source    string
	fetchedAt time.Time
}

// Cache holds the most recent successful fetch per currency pair. Expired
// entries are retained so the resolver can serve a stale-but-known rate
// when every upstream source is down.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cache) Put(pair string, rate decimal.Decimal, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[pair] = cacheEntry{rate: rate, source: source, fetchedAt: c.now()}
}

// Get returns the cached rate and whether it is still within TTL. ok is
// false only when the pair was never fetched.
func (c *Cache) Get(pair string) (rate decimal.Decimal, source string, fresh, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[pair]
	if !ok {
		return decimal.Zero, "", false, false
	}
	fresh = c.now().Sub(entry.fetchedAt) < c.ttl
	return entry.rate, entry.source, fresh, true
}
