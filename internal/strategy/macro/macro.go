// Package macro implements the macro-trend evaluator: a weighted scoring
// table over liquidity/rates, sentiment/flows, on-chain valuation, and
// mining/institutional indicators, normalized into one conviction score,
// with an optional non-authoritative LLM advisory appended to the reason.
package macro

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kryptotron/engine/internal/cache"
	"github.com/kryptotron/engine/internal/domain"
	"github.com/kryptotron/engine/internal/strategy"
)

// Params is the macro evaluator's parameter record.
type Params struct {
	Symbol     string `json:"symbol"`
	LLMEnabled bool   `json:"llm_enabled"`
}

// Evaluator implements strategy.Evaluator for StrategyMacro.
type Evaluator struct {
	llmTimeout time.Duration
}

// New constructs a macro Evaluator. llmTimeout bounds the optional
// advisory call.
func New(llmTimeout time.Duration) *Evaluator {
	return &Evaluator{llmTimeout: llmTimeout}
}

const (
	buyThreshold  = 70.0
	sellThreshold = 30.0
)

// Evaluate scores every macro indicator, aggregates the weighted sum, and
// derives action/conviction. A configured LLM advisory opinion is
// appended to the reason but never changes action or conviction.
func (e *Evaluator) Evaluate(ctx *strategy.Context, strat *domain.Strategy) (strategy.Decision, *strategy.Trace, error) {
	var params Params
	if strat.Parameters != "" {
		if err := json.Unmarshal([]byte(strat.Parameters), &params); err != nil {
			return strategy.Decision{}, nil, fmt.Errorf("macro: load params: %w", err)
		}
	}
	if params.Symbol == "" {
		params.Symbol = "BTC"
	}

	trace := strategy.NewTrace()
	scores := make(map[string]float64)
	var raw float64

	macroRes := ctx.Cache.Get(ctx.Deadline(), cache.SourceMacroFred, params.Symbol)
	trace.Append(domain.StepFetch, "fetch:macro_fred", params.Symbol, macroRes.State.String(), "", 0)
	if snap, ok := macroRes.Value.(cache.MacroSnapshot); ok && macroRes.State != cache.Absent {
		scores["fed_rate"] = scoreFedRate(snap.FedRate)
		scores["treasury_10y"] = scoreTreasury(snap.Treasury10Y)
		scores["dxy"] = scoreDXY(snap.DXY)
		scores["m2_growth_yoy"] = scoreM2(snap.M2GrowthYoY)
	} else {
		scores["fed_rate"] = 0
		scores["treasury_10y"] = 0
		scores["dxy"] = 0
		scores["m2_growth_yoy"] = 0
	}

	fgRes := ctx.Cache.Get(ctx.Deadline(), cache.SourceFearGreed, params.Symbol)
	trace.Append(domain.StepFetch, "fetch:fear_greed", params.Symbol, fgRes.State.String(), "", 0)
	if snap, ok := fgRes.Value.(cache.FearGreedSnapshot); ok && fgRes.State != cache.Absent {
		scores["fear_greed"] = scoreFearGreed(snap.Value)
	} else {
		scores["fear_greed"] = 0
	}

	stableRes := ctx.Cache.Get(ctx.Deadline(), cache.SourceStablecoinSupply, params.Symbol)
	trace.Append(domain.StepFetch, "fetch:stablecoin_supply", params.Symbol, stableRes.State.String(), "", 0)
	// A single snapshot carries no 90-day baseline; without persisted
	// history this indicator contributes neutrally until a trend window
	// is tracked by the caller.
	scores["stablecoin_trend"] = 0

	etfRes := ctx.Cache.Get(ctx.Deadline(), cache.SourceETFFlows, params.Symbol)
	trace.Append(domain.StepFetch, "fetch:etf_flows", params.Symbol, etfRes.State.String(), "", 0)
	if snap, ok := etfRes.Value.(cache.ETFFlowSnapshot); ok && etfRes.State != cache.Absent {
		scores["etf_flows"] = scoreETFFlows(params.Symbol, snap)
	} else {
		scores["etf_flows"] = 0
	}

	onchainRes := ctx.Cache.Get(ctx.Deadline(), cache.SourceOnchainBTC, params.Symbol)
	trace.Append(domain.StepFetch, "fetch:onchain_btc", params.Symbol, onchainRes.State.String(), "", 0)
	if snap, ok := onchainRes.Value.(cache.OnchainSnapshot); ok && onchainRes.State != cache.Absent {
		scores["ahr999"] = scoreAHR999(snap.AHR999)
		scores["mvrv_ratio"] = scoreMVRV(snap.MVRVRatio)
	} else {
		scores["ahr999"] = 0
		scores["mvrv_ratio"] = 0
	}

	minersRes := ctx.Cache.Get(ctx.Deadline(), cache.SourceMiners, params.Symbol)
	trace.Append(domain.StepFetch, "fetch:miners", params.Symbol, minersRes.State.String(), "", 0)
	if snap, ok := minersRes.Value.(cache.MinersSnapshot); ok && minersRes.State != cache.Absent && snap.Total > 0 {
		scores["miners"] = scoreMiners(snap)
	} else {
		scores["miners"] = 0
	}

	mnavRes := ctx.Cache.Get(ctx.Deadline(), cache.SourceMSTRMnav, params.Symbol)
	trace.Append(domain.StepFetch, "fetch:mstr_mnav", params.Symbol, mnavRes.State.String(), "", 0)
	if snap, ok := mnavRes.Value.(cache.MNAVSnapshot); ok && mnavRes.State != cache.Absent {
		scores["mstr_mnav"] = scoreMNAV(snap.Ratio)
	} else {
		scores["mstr_mnav"] = 0
	}

	weights := map[string]float64{
		"fed_rate": 1, "treasury_10y": 1, "dxy": 1, "m2_growth_yoy": 1,
		"fear_greed": 1, "stablecoin_trend": 1, "etf_flows": 1,
		"ahr999": 2, "mvrv_ratio": 2,
		"miners": 1, "mstr_mnav": 1,
	}
	for key, score := range scores {
		raw += score * weights[key]
	}

	scoreJSON, _ := json.Marshal(scores)
	trace.Append(domain.StepScore, "final", "", fmt.Sprintf("%.1f", raw), string(scoreJSON), 0)

	conviction := clip((raw+16)/31*100, 0, 100)

	action := domain.ActionHold
	switch {
	case conviction >= buyThreshold:
		action = domain.ActionBuy
	case conviction <= sellThreshold:
		action = domain.ActionSell
	}

	reason := fmt.Sprintf("macro raw=%.1f conviction=%.1f", raw, conviction)

	if params.LLMEnabled && ctx.LLM != nil {
		advisoryCtx, cancel := context.WithTimeout(ctx.Deadline(), e.llmTimeout)
		summary, err := ctx.LLM.Advise(advisoryCtx, strategy.AdvisoryRequest{
			Symbol: params.Symbol,
			Scores: scores,
			RawSum: raw,
		})
		cancel()
		if err != nil {
			trace.Append(domain.StepLLM, "advisory", params.Symbol, "", err.Error(), 0)
		} else {
			trace.Append(domain.StepLLM, "advisory", params.Symbol, summary, "", 0)
			reason = reason + "; advisory: " + summary
		}
	}

	sizeFraction := clip(absf(conviction-50)/50, 0, 1)
	suggestedNotional := 0.0
	if action != domain.ActionHold {
		suggestedNotional = sizeFraction * 0.20 * ctx.Account.Equity
	}

	decision := strategy.Decision{
		Action:            action,
		Conviction:        conviction,
		SuggestedNotional: suggestedNotional,
		Reason:            reason,
	}

	return decision, trace, nil
}

func scoreFedRate(rate float64) float64 {
	switch {
	case rate < 3.5:
		return 1
	case rate <= 5.0:
		return 0
	default:
		return -1
	}
}

func scoreTreasury(y float64) float64 {
	switch {
	case y < 3.5:
		return 1
	case y <= 4.5:
		return 0
	default:
		return -1
	}
}

func scoreDXY(dxy float64) float64 {
	switch {
	case dxy < 100:
		return 1
	case dxy <= 107:
		return 0
	case dxy <= 110:
		return -1
	default:
		return -2
	}
}

func scoreM2(growth float64) float64 {
	switch {
	case growth > 5:
		return 1
	case growth >= 0:
		return 0
	default:
		return -1
	}
}

func scoreFearGreed(value int) float64 {
	switch {
	case value <= 25:
		return 1
	case value >= 80:
		return -1
	default:
		return 0
	}
}

func scoreETFFlows(symbol string, snap cache.ETFFlowSnapshot) float64 {
	var flow float64
	switch symbol {
	case "ETH":
		flow = snap.ETHFlowUSD / 0.25
	case "SOL":
		flow = snap.SOLFlowUSD / 0.10
	default:
		flow = snap.BTCFlowUSD
	}
	switch {
	case flow > 200_000_000:
		return 1
	case flow >= -200_000_000:
		return 0
	default:
		return -1
	}
}

func scoreAHR999(ahr float64) float64 {
	switch {
	case ahr < 0.45:
		return 1
	case ahr <= 1.2:
		return 0
	default:
		return -1
	}
}

func scoreMVRV(mvrv float64) float64 {
	switch {
	case mvrv < 1.0:
		return 1
	case mvrv <= 3.7:
		return 0
	default:
		return -1
	}
}

func scoreMiners(snap cache.MinersSnapshot) float64 {
	pct := float64(snap.Profitable) / float64(snap.Total) * 100
	switch {
	case pct > 70:
		return 1
	case pct >= 40:
		return 0
	default:
		return -1
	}
}

func scoreMNAV(ratio float64) float64 {
	switch {
	case ratio < 1.5:
		return 1
	case ratio <= 3.0:
		return 0
	case ratio <= 4.0:
		return 0
	default:
		return -1
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
