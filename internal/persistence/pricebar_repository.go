package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kryptotron/engine/internal/domain"
)

// PriceBarRepository persists OHLCV candles and implements
// cache.BarStore, the local store behind the incremental-backfill price
// bar cache.
type PriceBarRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPriceBarRepository constructs a PriceBarRepository.
func NewPriceBarRepository(db *sql.DB, log zerolog.Logger) *PriceBarRepository {
	return &PriceBarRepository{db: db, log: log.With().Str("repo", "price_bar").Logger()}
}

// LatestOpenTime returns the highest stored open_time for (symbol,
// timeframe), or nil if none is stored.
func (r *PriceBarRepository) LatestOpenTime(ctx context.Context, symbol string, timeframe domain.Timeframe) (*time.Time, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT MAX(open_time) FROM price_bars WHERE symbol = ? AND timeframe = ?
	`, symbol, string(timeframe))

	var t sql.NullTime
	if err := row.Scan(&t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest open_time for %s/%s: %w", symbol, timeframe, err)
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

// Insert upserts a batch of bars, keyed by (symbol, timeframe, open_time).
func (r *PriceBarRepository) Insert(ctx context.Context, bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert bars: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_bars (symbol, timeframe, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, open_time) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume
	`)
	if err != nil {
		return fmt.Errorf("prepare insert bars: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Symbol, string(b.Timeframe), b.OpenTime, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("insert bar %s/%s @ %s: %w", b.Symbol, b.Timeframe, b.OpenTime, err)
		}
	}

	return tx.Commit()
}

// Recent returns the most recent `limit` bars for (symbol, timeframe),
// ordered oldest-first — the shape the indicator library expects.
func (r *PriceBarRepository) Recent(ctx context.Context, symbol string, timeframe domain.Timeframe, limit int) ([]domain.PriceBar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, timeframe, open_time, open, high, low, close, volume
		FROM price_bars WHERE symbol = ? AND timeframe = ?
		ORDER BY open_time DESC LIMIT ?
	`, symbol, string(timeframe), limit)
	if err != nil {
		return nil, fmt.Errorf("recent bars for %s/%s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	var out []domain.PriceBar
	for rows.Next() {
		var b domain.PriceBar
		var tf string
		if err := rows.Scan(&b.Symbol, &tf, &b.OpenTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Timeframe = domain.Timeframe(tf)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
