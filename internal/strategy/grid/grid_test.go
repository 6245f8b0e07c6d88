package grid

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptotron/engine/internal/cache"
	"github.com/kryptotron/engine/internal/domain"
	"github.com/kryptotron/engine/internal/strategy"
)

type fakeStore struct {
	lastParameters string
	lastStatus     domain.StrategyStatus
	statusCalled   bool
}

func (f *fakeStore) SetParameters(ctx context.Context, id int64, parameters string) error {
	f.lastParameters = parameters
	return nil
}

func (f *fakeStore) SetStatus(ctx context.Context, id int64, status domain.StrategyStatus) error {
	f.lastStatus = status
	f.statusCalled = true
	return nil
}

func newContextWithPrice(price float64, registered bool) *strategy.Context {
	c := cache.New(zerolog.Nop(), time.Second)
	if registered {
		c.RegisterSource(cache.SourceTicker24h, time.Hour, cache.FetcherFunc(func(ctx context.Context, key string) (any, error) {
			return cache.TickerSnapshot{LastPrice: price}, nil
		}))
	}
	return strategy.NewContext(context.Background(), c, nil, nil, strategy.AccountSnapshot{})
}

func strategyWithParams(t *testing.T, p Params) *domain.Strategy {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return &domain.Strategy{ID: 1, Kind: domain.StrategyGrid, Symbol: p.Symbol, Parameters: string(raw)}
}

func TestEvaluate_GridCountTooSmallErrors(t *testing.T) {
	store := &fakeStore{}
	e := New(store)
	strat := strategyWithParams(t, Params{Symbol: "BTC", LowerPrice: 100, UpperPrice: 200, GridCount: 1})

	_, _, err := e.Evaluate(newContextWithPrice(150, true), strat)
	assert.Error(t, err)
}

func TestEvaluate_HoldsWhenPriceUnavailable(t *testing.T) {
	store := &fakeStore{}
	e := New(store)
	strat := strategyWithParams(t, Params{Symbol: "BTC", LowerPrice: 100, UpperPrice: 200, GridCount: 4})

	decision, _, err := e.Evaluate(newContextWithPrice(0, false), strat)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, decision.Action)
	assert.Equal(t, "price unavailable", decision.Reason)
}

func TestEvaluate_FirstTickInitializesLevelsWithoutCrossing(t *testing.T) {
	store := &fakeStore{}
	e := New(store)
	strat := strategyWithParams(t, Params{Symbol: "BTC", LowerPrice: 100, UpperPrice: 200, GridCount: 4})

	decision, _, err := e.Evaluate(newContextWithPrice(140, true), strat)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, decision.Action)
	assert.Equal(t, "no level cross", decision.Reason)

	var persisted Params
	require.NoError(t, json.Unmarshal([]byte(store.lastParameters), &persisted))
	require.NotNil(t, persisted.LevelIndex)
	assert.Len(t, persisted.Levels, 5)
}

func TestEvaluate_BuysOnDownwardLevelCross(t *testing.T) {
	store := &fakeStore{}
	e := New(store)
	idx := 2
	strat := strategyWithParams(t, Params{
		Symbol: "BTC", LowerPrice: 100, UpperPrice: 200, GridCount: 4, CapitalPerGrid: 50,
		Levels: []float64{100, 120, 140, 160, 180}, LevelIndex: &idx,
	})

	decision, _, err := e.Evaluate(newContextWithPrice(110, true), strat)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBuy, decision.Action)
	assert.Equal(t, "grid_cross_down", decision.Reason)
	assert.Equal(t, 50.0, decision.SuggestedNotional)

	var persisted Params
	require.NoError(t, json.Unmarshal([]byte(store.lastParameters), &persisted))
	require.NotNil(t, persisted.LevelIndex)
	assert.Equal(t, 1, *persisted.LevelIndex)
}

func TestEvaluate_SellsOnUpwardLevelCross(t *testing.T) {
	store := &fakeStore{}
	e := New(store)
	idx := 1
	strat := strategyWithParams(t, Params{
		Symbol: "BTC", LowerPrice: 100, UpperPrice: 200, GridCount: 4, CapitalPerGrid: 50,
		Levels: []float64{100, 120, 140, 160, 180}, LevelIndex: &idx,
	})

	decision, _, err := e.Evaluate(newContextWithPrice(170, true), strat)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSell, decision.Action)
	assert.Equal(t, "grid_cross_up", decision.Reason)

	var persisted Params
	require.NoError(t, json.Unmarshal([]byte(store.lastParameters), &persisted))
	require.NotNil(t, persisted.LevelIndex)
	assert.Equal(t, 3, *persisted.LevelIndex)
}

func TestEvaluate_PausesWhenPriceExitsRange(t *testing.T) {
	store := &fakeStore{}
	e := New(store)
	idx := 2
	strat := strategyWithParams(t, Params{
		Symbol: "BTC", LowerPrice: 100, UpperPrice: 200, GridCount: 4,
		Levels: []float64{100, 120, 140, 160, 180}, LevelIndex: &idx,
	})

	decision, _, err := e.Evaluate(newContextWithPrice(250, true), strat)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, decision.Action)
	assert.Equal(t, "grid_out_of_range", decision.Reason)
	assert.True(t, store.statusCalled)
	assert.Equal(t, domain.StatusPaused, store.lastStatus)
}
