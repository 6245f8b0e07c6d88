// Package ta implements the multi-timeframe technical-analysis evaluator:
// a per-timeframe additive score built from moving averages, RSI, MACD,
// Bollinger Bands, volume, trend structure and candle patterns, weighted
// together into one aggregate conviction.
package ta

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/kryptotron/engine/internal/cache"
	"github.com/kryptotron/engine/internal/domain"
	"github.com/kryptotron/engine/internal/indicators"
	"github.com/kryptotron/engine/internal/strategy"
)

// Params is the TA evaluator's parameter record, the typed shape behind
// Strategy.Parameters for StrategyTA.
type Params struct {
	Timeframes    []domain.Timeframe `json:"timeframes"`
	BuyThreshold  float64            `json:"buy_threshold"`
	SellThreshold float64            `json:"sell_threshold"`
	ATRStopMult   float64            `json:"atr_stop_mult"`
	ATRTargetMult float64            `json:"atr_target_mult"`
	KlinesLimit   int                `json:"klines_limit"`
	BaseSizePct   float64            `json:"base_size_pct"`
}

// DefaultParams returns the spec's default TA configuration.
func DefaultParams() Params {
	return Params{
		Timeframes:    []domain.Timeframe{domain.Timeframe1h, domain.Timeframe4h},
		BuyThreshold:  65,
		SellThreshold: 35,
		ATRStopMult:   2.0,
		ATRTargetMult: 3.0,
		KlinesLimit:   300,
		BaseSizePct:   10,
	}
}

var aggregateWeights = map[int]map[domain.Timeframe]float64{
	3: {domain.Timeframe15m: 0.15, domain.Timeframe1h: 0.35, domain.Timeframe4h: 0.50},
	4: {domain.Timeframe15m: 0.10, domain.Timeframe1h: 0.20, domain.Timeframe4h: 0.30, domain.Timeframe1d: 0.40},
}

// Grade is the evaluator's confidence label for one tick's Decision.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
)

type timeframeScore struct {
	timeframe domain.Timeframe
	score     float64
	macdCross indicators.MACDCross
	atr       float64
	atrOK     bool
}

// Evaluator implements strategy.Evaluator for StrategyTA.
type Evaluator struct{}

// New constructs a TA Evaluator.
func New() *Evaluator { return &Evaluator{} }

// Evaluate scores every configured timeframe, aggregates by weight,
// applies the conflict clamp, and derives action/conviction/stop/target.
func (e *Evaluator) Evaluate(ctx *strategy.Context, strat *domain.Strategy) (strategy.Decision, *strategy.Trace, error) {
	params, err := loadParams(strat.Parameters)
	if err != nil {
		return strategy.Decision{}, nil, fmt.Errorf("ta: load params: %w", err)
	}

	trace := strategy.NewTrace()
	scores := make([]timeframeScore, 0, len(params.Timeframes))

	for _, tf := range params.Timeframes {
		ts, err := e.scoreTimeframe(ctx, trace, strat.Symbol, tf, params)
		if err != nil {
			trace.Append(domain.StepScore, "score:"+string(tf), "", "", err.Error(), 0)
			continue
		}
		scores = append(scores, ts)
	}

	if len(scores) == 0 {
		return strategy.Decision{Action: domain.ActionHold, Reason: "insufficient data on every configured timeframe"}, trace, nil
	}

	aggregate, primary := aggregate(scores, params.Timeframes)
	aggregate = conflictClamp(aggregate, scores)

	grade := gradeFor(scores, aggregate)

	decisionJSON, _ := json.Marshal(scores)
	trace.Append(domain.StepScore, "final", "", "", string(decisionJSON), 0)

	action := domain.ActionHold
	switch {
	case aggregate >= params.BuyThreshold:
		action = domain.ActionBuy
	case aggregate <= params.SellThreshold:
		action = domain.ActionSell
	}

	decision := strategy.Decision{
		Action:     action,
		Conviction: aggregate,
		Reason:     fmt.Sprintf("ta aggregate=%.1f grade=%s timeframes=%d", aggregate, grade, len(scores)),
	}

	if action != domain.ActionHold && primary != nil && primary.atrOK {
		sizeFraction := clip((math.Abs(aggregate-50)-15)/35, 0, 1)
		decision.SuggestedNotional = sizeFraction * (params.BaseSizePct / 100) * ctx.Account.Equity

		if price, ok := lastPriceFromSnapshot(ctx, strat.Symbol); ok {
			stop, target := stopAndTarget(action, price, primary.atr, params)
			decision.StopLoss = &stop
			decision.TakeProfit = &target
		}
	}

	return decision, trace, nil
}

func loadParams(raw string) (Params, error) {
	if raw == "" {
		return DefaultParams(), nil
	}
	var p Params
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Params{}, err
	}
	if len(p.Timeframes) == 0 {
		p.Timeframes = DefaultParams().Timeframes
	}
	if p.BuyThreshold == 0 {
		p.BuyThreshold = 65
	}
	if p.SellThreshold == 0 {
		p.SellThreshold = 35
	}
	if p.ATRStopMult == 0 {
		p.ATRStopMult = 2.0
	}
	if p.ATRTargetMult == 0 {
		p.ATRTargetMult = 3.0
	}
	if p.KlinesLimit == 0 {
		p.KlinesLimit = 300
	}
	if p.BaseSizePct == 0 {
		p.BaseSizePct = 10
	}
	return p, nil
}

func (e *Evaluator) scoreTimeframe(ctx *strategy.Context, trace *strategy.Trace, symbol string, tf domain.Timeframe, params Params) (timeframeScore, error) {
	result, err := ctx.Bars.Get(ctx.Deadline(), symbol, tf, params.KlinesLimit)
	if err != nil {
		return timeframeScore{}, fmt.Errorf("fetch bars %s/%s: %w", symbol, tf, err)
	}
	trace.Append(domain.StepFetch, "fetch:"+string(tf), symbol, string(result.Source), fmt.Sprintf("bars=%d", len(result.Bars)), 0)

	if len(result.Bars) < 60 {
		return timeframeScore{}, domain.ErrInsufficientData
	}

	ohlcv := indicators.Split(result.Bars)
	score := 50.0

	ema9, err9 := indicators.EMA(ohlcv.Close, 9)
	ema21, err21 := indicators.EMA(ohlcv.Close, 21)
	ema50, err50 := indicators.EMA(ohlcv.Close, 50)
	ema200, err200 := indicators.EMA(ohlcv.Close, 200)
	price := ohlcv.Close[len(ohlcv.Close)-1]

	if err9 == nil && err21 == nil && err50 == nil {
		switch {
		case err200 == nil && price > ema9 && ema9 > ema21 && ema21 > ema50 && ema50 > ema200:
			score += 15
		case price < ema9 && ema9 < ema21 && ema21 < ema50:
			score -= 15
		case price > ema9 && ema9 > ema21:
			score += 7
		case price < ema9 && ema9 < ema21:
			score -= 7
		}
	}

	if rsi, err := indicators.RSI(ohlcv.Close, 14); err == nil {
		switch {
		case rsi < 30:
			score += 10
		case rsi > 70:
			score -= 10
		}
	}

	var atrValue float64
	var atrOK bool
	macdResult, err := indicators.MACD(ohlcv.Close, 12, 26, 9)
	if err == nil {
		switch macdResult.Cross {
		case indicators.CrossGolden:
			score += 10
		case indicators.CrossDeath:
			score -= 10
		}
		if macdResult.MACD > 0 && indicators.HistogramGrowing(ohlcv.Close, 12, 26, 9) {
			score += 3
		}
	}

	if bb, err := indicators.Bollinger(ohlcv.Close, 20, 2); err == nil {
		switch {
		case bb.PercentB < 0:
			score += 6
		case bb.PercentB > 1:
			score -= 6
		case bb.Squeeze && price >= bb.Mid:
			score += 3
		case bb.Squeeze && price < bb.Mid:
			score -= 3
		}
	}

	var lastUp bool
	if len(ohlcv.Close) >= 2 {
		lastUp = ohlcv.Close[len(ohlcv.Close)-1] >= ohlcv.Close[len(ohlcv.Close)-2]
	}
	if vol, err := indicators.Volume(ohlcv.Volume); err == nil {
		switch vol.Class {
		case indicators.VolumeSurge:
			if lastUp {
				score += 5
			} else {
				score -= 5
			}
		}
	}

	if trendStructure, err := indicators.Trend(ohlcv.High, ohlcv.Low); err == nil {
		switch trendStructure {
		case indicators.TrendUp:
			score += 5
		case indicators.TrendDown:
			score -= 5
		}
	}

	if pattern, err := indicators.Candles(ohlcv.Open, ohlcv.High, ohlcv.Low, ohlcv.Close); err == nil {
		switch pattern {
		case indicators.PatternBullishEngulfing, indicators.PatternHammer:
			score += 4
		case indicators.PatternBearishEngulfing, indicators.PatternShootingStar:
			score -= 4
		}
	}

	if atr, err := indicators.ATR(ohlcv.High, ohlcv.Low, ohlcv.Close, 14); err == nil {
		atrValue = atr
		atrOK = true
	}

	trace.Append(domain.StepCompute, "indicators:"+string(tf), symbol, fmt.Sprintf("%.1f", score), "", 0)

	return timeframeScore{timeframe: tf, score: score, macdCross: macdResult.Cross, atr: atrValue, atrOK: atrOK}, nil
}

func aggregate(scores []timeframeScore, configured []domain.Timeframe) (float64, *timeframeScore) {
	weights, ok := aggregateWeights[len(configured)]
	if !ok {
		// Equal weighting when the configured set doesn't match a named
		// weighting table.
		weights = make(map[domain.Timeframe]float64, len(configured))
		for _, tf := range configured {
			weights[tf] = 1.0 / float64(len(configured))
		}
	}

	var sum, totalWeight float64
	var primary *timeframeScore
	var primaryRank = -1

	rank := map[domain.Timeframe]int{
		domain.Timeframe15m: 0,
		domain.Timeframe1h:  1,
		domain.Timeframe4h:  2,
		domain.Timeframe1d:  3,
	}

	for i := range scores {
		w := weights[scores[i].timeframe]
		sum += scores[i].score * w
		totalWeight += w
		if r := rank[scores[i].timeframe]; r > primaryRank {
			primaryRank = r
			primary = &scores[i]
		}
	}

	if totalWeight == 0 {
		return 50, primary
	}
	return sum / totalWeight, primary
}

func conflictClamp(aggregate float64, scores []timeframeScore) float64 {
	if len(scores) < 2 {
		return aggregate
	}

	rank := map[domain.Timeframe]int{
		domain.Timeframe15m: 0,
		domain.Timeframe1h:  1,
		domain.Timeframe4h:  2,
		domain.Timeframe1d:  3,
	}

	longestRank, shortestRank := -1, 1<<31-1
	var longestScore, shortestScore float64
	for _, s := range scores {
		r := rank[s.timeframe]
		if r > longestRank {
			longestRank = r
			longestScore = s.score
		}
		if r < shortestRank {
			shortestRank = r
			shortestScore = s.score
		}
	}

	if longestScore <= 40 && shortestScore >= 60 {
		return clip(aggregate, 40, 60)
	}
	return aggregate
}

func gradeFor(scores []timeframeScore, aggregate float64) Grade {
	extreme := 0
	for _, s := range scores {
		if s.score >= 70 || s.score <= 30 {
			extreme++
		}
	}

	if float64(extreme) >= float64(len(scores))*2.0/3.0 && (aggregate >= 78 || aggregate <= 22) {
		return GradeA
	}

	aligned := 0
	for _, s := range scores {
		if (s.score >= 50) == (aggregate >= 50) {
			aligned++
		}
	}
	primaryCross := scores[len(scores)-1].macdCross
	if float64(aligned) >= float64(len(scores))/2.0 || primaryCross != indicators.CrossNone {
		return GradeB
	}
	return GradeC
}

func stopAndTarget(action domain.Action, price, atr float64, params Params) (stop, target float64) {
	if action == domain.ActionBuy {
		return price - atr*params.ATRStopMult, price + atr*params.ATRTargetMult
	}
	return price + atr*params.ATRStopMult, price - atr*params.ATRTargetMult
}

func lastPriceFromSnapshot(ctx *strategy.Context, symbol string) (float64, bool) {
	res := ctx.Cache.Get(ctx.Deadline(), cache.SourceTicker24h, symbol)
	if res.State == cache.Absent {
		return 0, false
	}
	snap, ok := res.Value.(cache.TickerSnapshot)
	if !ok {
		return 0, false
	}
	return snap.LastPrice, true
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
