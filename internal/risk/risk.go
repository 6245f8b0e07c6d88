// Package risk implements the stateless-per-decision predicate that
// accepts or vetoes a proposed order.
package risk

import (
	"github.com/kryptotron/engine/internal/domain"
)

// VetoReason names why an order was rejected.
type VetoReason string

const (
	ReasonCircuitBreaker VetoReason = "circuit_breaker"
	ReasonTradeCap       VetoReason = "trade_cap"
	ReasonExposureCap    VetoReason = "exposure_cap"
	ReasonDrawdownHard   VetoReason = "drawdown_hard"
	ReasonDrawdownSoft   VetoReason = "drawdown_soft"
)

// Verdict is the risk filter's output: either Accept, or Veto with a
// reason.
type Verdict struct {
	Accepted bool
	Reason   VetoReason
}

// Config holds the risk filter's configurable caps, as percentages.
type Config struct {
	MaxTradeNotionalPct  float64
	MaxSymbolExposurePct float64
	SoftDrawdownPct      float64
	HardDrawdownPct      float64
}

// Inputs bundles the account/position/equity state Evaluate needs. Price is
// the same last-price the broker would execute against, so notional and
// exposure figures agree with what Execute will actually do.
type Inputs struct {
	Account   *domain.Account
	Positions []domain.Position
	Equity    float64
	Price     float64
}

// Evaluate runs the ordered veto checks against a proposed order:
// circuit breaker, trade cap, symbol exposure cap, then drawdown. When it
// trips the circuit breaker (hard drawdown), it mutates in.Account in place
// — the caller is responsible for persisting it.
func Evaluate(order domain.Order, in Inputs, cfg Config) Verdict {
	if in.Account.CircuitBreakerActive {
		return Verdict{Accepted: false, Reason: ReasonCircuitBreaker}
	}

	notional := orderNotional(order, in.Price)
	if in.Equity > 0 && notional > cfg.MaxTradeNotionalPct/100*in.Equity {
		return Verdict{Accepted: false, Reason: ReasonTradeCap}
	}

	if order.Side == domain.SideBuy && in.Equity > 0 {
		existing := positionValue(order.Symbol, in.Positions, in.Price)
		projected := existing + notional
		if projected/in.Equity > cfg.MaxSymbolExposurePct/100 {
			return Verdict{Accepted: false, Reason: ReasonExposureCap}
		}
	}

	if in.Account.EquityHighWaterMark > 0 {
		drawdown := 1 - in.Equity/in.Account.EquityHighWaterMark
		if drawdown >= cfg.HardDrawdownPct/100 {
			in.Account.CircuitBreakerActive = true
			in.Account.CircuitBreakerReason = string(ReasonDrawdownHard)
			return Verdict{Accepted: false, Reason: ReasonDrawdownHard}
		}
		if drawdown >= cfg.SoftDrawdownPct/100 && order.Side == domain.SideBuy {
			return Verdict{Accepted: false, Reason: ReasonDrawdownSoft}
		}
	}

	return Verdict{Accepted: true}
}

// orderNotional converts order's side-dependent quantity field into a
// dollar notional: BUY carries notional directly, SELL carries an amount
// of units that must be priced.
func orderNotional(order domain.Order, price float64) float64 {
	if order.Side == domain.SideSell {
		return order.NotionalOrAmt * price
	}
	return order.NotionalOrAmt
}

func positionValue(symbol string, positions []domain.Position, price float64) float64 {
	for _, p := range positions {
		if p.Symbol == symbol {
			return p.Amount * price
		}
	}
	return 0
}
