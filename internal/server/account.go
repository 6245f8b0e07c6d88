package server

import (
	"errors"
	"net/http"

	"github.com/kryptotron/engine/pkg/formulas"
)

var errInvalidKind = errors.New("invalid strategy type")

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.positions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.trades.History(r.Context(), 200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.accounts.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	snapshot, err := s.broker.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cash":                   account.Cash,
		"equity":                 snapshot.Equity,
		"equity_high_water_mark": account.EquityHighWaterMark,
		"circuit_breaker_active": account.CircuitBreakerActive,
		"circuit_breaker_reason": account.CircuitBreakerReason,
		"positions":              snapshot.Positions,
	})
}

func (s *Server) handleResetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.ResetCircuitBreaker(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handlePerformance computes basic performance statistics from the trade
// ledger's realized prices — Sharpe and max drawdown over the executed
// price series, the same formulas used for security-level analytics.
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	trades, err := s.trades.History(r.Context(), 5000)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(trades) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{"trade_count": 0})
		return
	}

	prices := make([]float64, len(trades))
	for i, t := range trades {
		prices[len(trades)-1-i] = t.Price
	}

	returns := formulas.CalculateReturns(prices)
	sharpe := formulas.CalculateSharpeFromPrices(prices, 0)
	drawdown := formulas.CalculateMaxDrawdown(prices)

	resp := map[string]interface{}{
		"trade_count": len(trades),
		"mean_return": formulas.Mean(returns),
		"volatility":  formulas.StdDev(returns),
	}
	if sharpe != nil {
		resp["sharpe_ratio"] = *sharpe
	}
	if drawdown != nil {
		resp["max_drawdown"] = *drawdown
	}
	writeJSON(w, http.StatusOK, resp)
}
