package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kryptotron/engine/internal/domain"
)

// BarSourceMarker tells the caller whether the returned bars came from the
// local store or were served live because the store was empty.
type BarSourceMarker string

const (
	BarSourceLocal        BarSourceMarker = "local"
	BarSourceProviderLive BarSourceMarker = "provider_live"
)

// BarsResult is what the Bars cache returns for one (symbol, timeframe).
type BarsResult struct {
	Bars   []domain.PriceBar
	Source BarSourceMarker
}

// KlinesFetcher retrieves bars newer than `since` (nil meaning "full
// capped history") for a symbol/timeframe pair.
type KlinesFetcher interface {
	FetchKlines(ctx context.Context, symbol string, timeframe domain.Timeframe, since *time.Time) ([]domain.PriceBar, error)
}

// BarStore is the subset of the price bar repository the cache needs.
type BarStore interface {
	LatestOpenTime(ctx context.Context, symbol string, timeframe domain.Timeframe) (*time.Time, error)
	Insert(ctx context.Context, bars []domain.PriceBar) error
	Recent(ctx context.Context, symbol string, timeframe domain.Timeframe, limit int) ([]domain.PriceBar, error)
}

// Bars fronts the PriceBar store with incremental backfill: the first
// request for a (symbol, timeframe) pulls full capped history, subsequent
// requests only pull bars newer than the highest stored open_time.
type Bars struct {
	fetcher KlinesFetcher
	store   BarStore
	cap     int // bars to request on first backfill
	log     zerolog.Logger

	mu           sync.Mutex
	lastPolledAt map[string]time.Time
}

// NewBars creates a bar cache. historyCap bounds the first-request backfill
// size per source.
func NewBars(fetcher KlinesFetcher, store BarStore, historyCap int, log zerolog.Logger) *Bars {
	return &Bars{
		fetcher:      fetcher,
		store:        store,
		cap:          historyCap,
		log:          log.With().Str("component", "cache.bars").Logger(),
		lastPolledAt: make(map[string]time.Time),
	}
}

func barsKey(symbol string, timeframe domain.Timeframe) string {
	return symbol + "\x00" + string(timeframe)
}

// Get returns up to `limit` of the most recent bars for (symbol,
// timeframe), performing incremental backfill against the provider no more
// often than KlinesRefreshTTL.
func (b *Bars) Get(ctx context.Context, symbol string, timeframe domain.Timeframe, limit int) (BarsResult, error) {
	key := barsKey(symbol, timeframe)

	b.mu.Lock()
	lastPolled, polled := b.lastPolledAt[key]
	needsPoll := !polled || time.Since(lastPolled) >= KlinesRefreshTTL
	if needsPoll {
		b.lastPolledAt[key] = time.Now()
	}
	b.mu.Unlock()

	source := BarSourceLocal

	if needsPoll {
		since, err := b.store.LatestOpenTime(ctx, symbol, timeframe)
		if err != nil {
			b.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to read latest open_time")
		} else {
			fetched, ferr := b.fetcher.FetchKlines(ctx, symbol, timeframe, since)
			if ferr != nil {
				b.log.Warn().Err(ferr).Str("symbol", symbol).Msg("klines fetch failed, serving from store")
			} else if len(fetched) > 0 {
				if since == nil && b.cap > 0 && len(fetched) > b.cap {
					fetched = fetched[len(fetched)-b.cap:]
				}
				if ierr := b.store.Insert(ctx, fetched); ierr != nil {
					b.log.Error().Err(ierr).Str("symbol", symbol).Msg("failed to persist fetched bars")
				}
			}
		}
	}

	bars, err := b.store.Recent(ctx, symbol, timeframe, limit)
	if err != nil {
		return BarsResult{}, err
	}

	if len(bars) == 0 && needsPoll {
		// Store is empty and a poll just ran: fall back to whatever the
		// provider returned directly, marking the response as live.
		fetched, ferr := b.fetcher.FetchKlines(ctx, symbol, timeframe, nil)
		if ferr == nil && len(fetched) > 0 {
			bars = fetched
			source = BarSourceProviderLive
		}
	}

	return BarsResult{Bars: bars, Source: source}, nil
}
