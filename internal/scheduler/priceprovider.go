package scheduler

import (
	"context"

	"github.com/kryptotron/engine/internal/cache"
)

// CachePriceProvider adapts the market data cache to broker.PriceProvider
// and the risk filter's last-price requirement, so both see the same
// ticker snapshot the coordinator itself reads.
type CachePriceProvider struct {
	cache *cache.Cache
}

// NewCachePriceProvider builds a CachePriceProvider over c.
func NewCachePriceProvider(c *cache.Cache) *CachePriceProvider {
	return &CachePriceProvider{cache: c}
}

func (p *CachePriceProvider) LastPrice(ctx context.Context, symbol string) (float64, bool) {
	res := p.cache.Get(ctx, cache.SourceTicker24h, symbol)
	if res.State == cache.Absent {
		return 0, false
	}
	snap, ok := res.Value.(cache.TickerSnapshot)
	if !ok {
		return 0, false
	}
	return snap.LastPrice, true
}
