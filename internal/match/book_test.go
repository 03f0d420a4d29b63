package match

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"predxarb/pkg/types"
)

func TestQuoteCachePutAndGet(t *testing.T) {
	c := NewQuoteCache()
	q := types.Quote{Venue: types.VenueA, MarketID: "m1", Bid: decimal.NewFromFloat(0.4), Ask: decimal.NewFromFloat(0.45), Timestamp: time.Now()}
	c.Put(q)

	got, ok := c.Get(types.VenueA, "m1")
	if !ok {
		t.Fatal("expected quote to be present")
	}
	if !got.Bid.Equal(q.Bid) {
		t.Errorf("bid = %s, want %s", got.Bid, q.Bid)
	}
}

func TestQuoteCacheIsStaleWhenMissing(t *testing.T) {
	c := NewQuoteCache()
	if !c.IsStale(types.VenueB, "missing", time.Minute) {
		t.Error("expected missing quote to be stale")
	}
}

func TestQuoteCacheIsStaleWhenOld(t *testing.T) {
	c := NewQuoteCache()
	c.Put(types.Quote{Venue: types.VenueA, MarketID: "m1", Timestamp: time.Now().Add(-time.Hour)})
	if !c.IsStale(types.VenueA, "m1", time.Minute) {
		t.Error("expected old quote to be stale")
	}
}

func TestQuoteCacheDistinguishesVenues(t *testing.T) {
	c := NewQuoteCache()
	c.Put(types.Quote{Venue: types.VenueA, MarketID: "m1", Bid: decimal.NewFromFloat(0.3), Timestamp: time.Now()})
	c.Put(types.Quote{Venue: types.VenueB, MarketID: "m1", Bid: decimal.NewFromFloat(0.5), Timestamp: time.Now()})

	a, _ := c.Get(types.VenueA, "m1")
	b, _ := c.Get(types.VenueB, "m1")
	if a.Bid.Equal(b.Bid) {
		t.Error("expected venue-scoped quotes to differ")
	}
}

func TestQuoteCachePutAllAndLastUpdated(t *testing.T) {
	c := NewQuoteCache()
	now := time.Now()
	c.PutAll([]types.Quote{
		{Venue: types.VenueC, MarketID: "br1", Timestamp: now},
	})
	if c.LastUpdated(types.VenueC, "br1").IsZero() {
		t.Error("expected LastUpdated to be populated")
	}
}
