package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kryptotron/engine/internal/domain"
)

// TradeRepository appends to the immutable trade ledger.
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeRepository constructs a TradeRepository.
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{db: db, log: log.With().Str("repo", "trade").Logger()}
}

// Insert appends a trade and assigns its monotonic ledger ID.
func (r *TradeRepository) Insert(ctx context.Context, t *domain.Trade) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO trades (strategy_id, symbol, side, price, amount, value, fee, reason, client_order_id, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.StrategyID, t.Symbol, string(t.Side), t.Price, t.Amount, t.Value, t.Fee, t.Reason, t.ClientOrderID, t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("trade id: %w", err)
	}
	t.ID = id
	return nil
}

// ForSymbol returns the most recent trades for symbol, newest first,
// bounded by limit.
func (r *TradeRepository) ForSymbol(ctx context.Context, symbol string, limit int) ([]domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, strategy_id, symbol, side, price, amount, value, fee, reason, client_order_id, executed_at
		FROM trades WHERE symbol = ? ORDER BY executed_at DESC, id DESC LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("trades for %s: %w", symbol, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// History returns the most recent trades across all symbols.
func (r *TradeRepository) History(ctx context.Context, limit int) ([]domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, strategy_id, symbol, side, price, amount, value, fee, reason, client_order_id, executed_at
		FROM trades ORDER BY executed_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("trade history: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]domain.Trade, error) {
	out := []domain.Trade{}
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(&t.ID, &t.StrategyID, &t.Symbol, &side, &t.Price, &t.Amount, &t.Value, &t.Fee, &t.Reason, &t.ClientOrderID, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = domain.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}
