// Package match discovers and maintains the set of matched markets, and
// caches the latest quote seen for each (venue, market) pair.
//
// QuoteCache is concurrency-safe (RWMutex protected) and is the shared read
// surface every other component uses to get a market's latest two-sided
// price without re-fetching it.
package match

import (
	"sync"
	"time"

	"predxarb/pkg/types"
)

// QuoteCache stores the most recent Quote per (venue, marketID).
type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[types.Venue]map[string]types.Quote
}

// NewQuoteCache creates an empty cache.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{quotes: make(map[types.Venue]map[string]types.Quote)}
}

// Put records the latest quote for a venue/market pair.
func (c *QuoteCache) Put(q types.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quotes[q.Venue] == nil {
		c.quotes[q.Venue] = make(map[string]types.Quote)
	}
	c.quotes[q.Venue][q.MarketID] = q
}

// PutAll records a batch of quotes.
func (c *QuoteCache) PutAll(quotes []types.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range quotes {
		if c.quotes[q.Venue] == nil {
			c.quotes[q.Venue] = make(map[string]types.Quote)
		}
		c.quotes[q.Venue][q.MarketID] = q
	}
}

// Get returns the latest quote for a venue/market pair.
func (c *QuoteCache) Get(venue types.Venue, marketID string) (types.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[venue][marketID]
	return q, ok
}

// IsStale reports whether the cached quote for venue/marketID is missing or
// older than maxAge.
func (c *QuoteCache) IsStale(venue types.Venue, marketID string, maxAge time.Duration) bool {
	q, ok := c.Get(venue, marketID)
	if !ok {
		return true
	}
	return q.IsStale(time.Now(), maxAge)
}

// LastUpdated returns the timestamp of the last update for a venue/market
// pair, or the zero time if never populated.
func (c *QuoteCache) LastUpdated(venue types.Venue, marketID string) time.Time {
	q, ok := c.Get(venue, marketID)
	if !ok {
		return time.Time{}
	}
	return q.Timestamp
}
