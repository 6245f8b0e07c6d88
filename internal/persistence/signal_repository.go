package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kryptotron/engine/internal/domain"
)

// SignalRepository appends the record of every decision an evaluator
// produced, whether or not it resulted in a trade.
type SignalRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSignalRepository constructs a SignalRepository.
func NewSignalRepository(db *sql.DB, log zerolog.Logger) *SignalRepository {
	return &SignalRepository{db: db, log: log.With().Str("repo", "signal").Logger()}
}

// Insert appends a signal.
func (r *SignalRepository) Insert(ctx context.Context, s *domain.Signal) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO signals (strategy_id, symbol, action, conviction, price_at_signal, reason, raw_analysis)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.StrategyID, s.Symbol, string(s.Action), s.Conviction, s.PriceAtSignal, s.Reason, s.RawAnalysis)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("signal id: %w", err)
	}
	s.ID = id
	return nil
}

// ForStrategy returns the most recent signals for a strategy, newest first.
func (r *SignalRepository) ForStrategy(ctx context.Context, strategyID int64, limit int) ([]domain.Signal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, strategy_id, symbol, action, conviction, price_at_signal, reason, raw_analysis, created_at
		FROM signals WHERE strategy_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
	`, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("signals for strategy %d: %w", strategyID, err)
	}
	defer rows.Close()

	out := []domain.Signal{}
	for rows.Next() {
		var s domain.Signal
		var action string
		if err := rows.Scan(&s.ID, &s.StrategyID, &s.Symbol, &action, &s.Conviction, &s.PriceAtSignal, &s.Reason, &s.RawAnalysis, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		s.Action = domain.Action(action)
		out = append(out, s)
	}
	return out, rows.Err()
}
