// Package grid implements the log-spaced grid evaluator: a fixed ladder
// of price levels between a lower and upper bound, buying on a downward
// level cross and selling on an upward one, pausing when price exits the
// configured range.
package grid

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/kryptotron/engine/internal/cache"
	"github.com/kryptotron/engine/internal/domain"
	"github.com/kryptotron/engine/internal/strategy"
)

// Params is the grid evaluator's persistent parameter record — both the
// static configuration and the evaluator's own level_index state, stored
// opaquely in Strategy.Parameters between ticks.
type Params struct {
	Symbol         string  `json:"symbol"`
	LowerPrice     float64 `json:"lower_price"`
	UpperPrice     float64 `json:"upper_price"`
	GridCount      int     `json:"grid_count"`
	CapitalPerGrid float64 `json:"capital_per_grid"`

	Levels     []float64 `json:"levels,omitempty"`
	LevelIndex *int      `json:"level_index,omitempty"`
}

// ParameterStore is the subset of the strategy repository the grid
// evaluator needs to persist its level_index between ticks.
type ParameterStore interface {
	SetParameters(ctx context.Context, id int64, parameters string) error
	SetStatus(ctx context.Context, id int64, status domain.StrategyStatus) error
}

// Evaluator implements strategy.Evaluator for StrategyGrid.
type Evaluator struct {
	store ParameterStore
}

// New constructs a grid Evaluator backed by store for persisting level
// state and range-exit pause transitions.
func New(store ParameterStore) *Evaluator {
	return &Evaluator{store: store}
}

// Evaluate computes the level ladder on first use, detects a downward or
// upward level cross relative to the persisted level_index, and emits a
// BUY/SELL/HOLD Decision accordingly.
func (e *Evaluator) Evaluate(ctx *strategy.Context, strat *domain.Strategy) (strategy.Decision, *strategy.Trace, error) {
	var params Params
	if err := json.Unmarshal([]byte(strat.Parameters), &params); err != nil {
		return strategy.Decision{}, nil, fmt.Errorf("grid: load params: %w", err)
	}
	if params.GridCount < 2 {
		return strategy.Decision{}, nil, fmt.Errorf("grid: grid_count must be >= 2")
	}

	trace := strategy.NewTrace()

	priceRes := ctx.Cache.Get(ctx.Deadline(), cache.SourceTicker24h, params.Symbol)
	trace.Append(domain.StepFetch, "fetch:ticker", params.Symbol, priceRes.State.String(), "", 0)
	if priceRes.State == cache.Absent {
		return strategy.Decision{Action: domain.ActionHold, Reason: "price unavailable"}, trace, nil
	}
	snap, ok := priceRes.Value.(cache.TickerSnapshot)
	if !ok {
		return strategy.Decision{Action: domain.ActionHold, Reason: "price unavailable"}, trace, nil
	}
	price := snap.LastPrice

	if len(params.Levels) == 0 {
		params.Levels = logSpacedLevels(params.LowerPrice, params.UpperPrice, params.GridCount)
	}
	if params.LevelIndex == nil {
		idx := nearestLevel(params.Levels, price)
		params.LevelIndex = &idx
	}

	trace.Append(domain.StepCompute, "levels", "", "", fmt.Sprintf("%v", params.Levels), 0)

	if price < params.LowerPrice || price > params.UpperPrice {
		if err := e.store.SetStatus(ctx.Deadline(), strat.ID, domain.StatusPaused); err != nil {
			return strategy.Decision{}, nil, fmt.Errorf("grid: pause on out-of-range: %w", err)
		}
		if err := e.persist(ctx, strat.ID, params); err != nil {
			return strategy.Decision{}, nil, err
		}
		return strategy.Decision{Action: domain.ActionHold, Reason: "grid_out_of_range"}, trace, nil
	}

	currentIdx := *params.LevelIndex
	decision := strategy.Decision{Action: domain.ActionHold, Reason: "no level cross"}

	if below, idx := crossedBelow(params.Levels, currentIdx, price); below {
		decision = strategy.Decision{
			Action:            domain.ActionBuy,
			Conviction:        80,
			SuggestedNotional: params.CapitalPerGrid,
			Reason:            "grid_cross_down",
		}
		params.LevelIndex = &idx
	} else if above, idx := crossedAbove(params.Levels, currentIdx, price); above {
		decision = strategy.Decision{
			Action:            domain.ActionSell,
			Conviction:        80,
			SuggestedNotional: params.CapitalPerGrid,
			Reason:            "grid_cross_up",
		}
		params.LevelIndex = &idx
	}

	trace.Append(domain.StepScore, "final", fmt.Sprintf("%.2f", price), string(decision.Action), decision.Reason, 0)

	if err := e.persist(ctx, strat.ID, params); err != nil {
		return strategy.Decision{}, nil, err
	}

	return decision, trace, nil
}

func (e *Evaluator) persist(ctx *strategy.Context, strategyID int64, params Params) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("grid: marshal params: %w", err)
	}
	if err := e.store.SetParameters(ctx.Deadline(), strategyID, string(raw)); err != nil {
		return fmt.Errorf("grid: persist level state: %w", err)
	}
	return nil
}

// logSpacedLevels returns gridCount+1 prices equally spaced on a log
// scale between lower and upper, inclusive.
func logSpacedLevels(lower, upper float64, gridCount int) []float64 {
	logLower := math.Log(lower)
	logUpper := math.Log(upper)
	step := (logUpper - logLower) / float64(gridCount)

	levels := make([]float64, gridCount+1)
	for i := 0; i <= gridCount; i++ {
		levels[i] = math.Exp(logLower + step*float64(i))
	}
	return levels
}

func nearestLevel(levels []float64, price float64) int {
	best := 0
	bestDist := math.Abs(levels[0] - price)
	for i, l := range levels {
		if d := math.Abs(l - price); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// crossedBelow reports whether price has crossed down to a level
// strictly below currentIdx, returning the new (lowest such) index.
func crossedBelow(levels []float64, currentIdx int, price float64) (bool, int) {
	if currentIdx <= 0 {
		return false, currentIdx
	}
	newIdx := currentIdx
	for i := currentIdx - 1; i >= 0; i-- {
		if price <= levels[i] {
			newIdx = i
		} else {
			break
		}
	}
	if newIdx == currentIdx {
		return false, currentIdx
	}
	return true, newIdx
}

// crossedAbove reports whether price has crossed up to a level strictly
// above currentIdx, returning the new (highest such) index.
func crossedAbove(levels []float64, currentIdx int, price float64) (bool, int) {
	if currentIdx >= len(levels)-1 {
		return false, currentIdx
	}
	newIdx := currentIdx
	for i := currentIdx + 1; i < len(levels); i++ {
		if price >= levels[i] {
			newIdx = i
		} else {
			break
		}
	}
	if newIdx == currentIdx {
		return false, currentIdx
	}
	return true, newIdx
}
