package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kryptotron/engine/internal/domain"
)

// WatchedInstrumentRepository persists the set of symbols the cache should
// keep warm.
type WatchedInstrumentRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewWatchedInstrumentRepository constructs a WatchedInstrumentRepository.
func NewWatchedInstrumentRepository(db *sql.DB, log zerolog.Logger) *WatchedInstrumentRepository {
	return &WatchedInstrumentRepository{db: db, log: log.With().Str("repo", "watched_instrument").Logger()}
}

// Add registers a symbol to keep warm, idempotently.
func (r *WatchedInstrumentRepository) Add(ctx context.Context, symbol, displayName string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO watched_instruments (symbol, display_name) VALUES (?, ?)
		ON CONFLICT(symbol) DO UPDATE SET display_name = excluded.display_name
	`, symbol, displayName)
	if err != nil {
		return fmt.Errorf("add watched instrument %s: %w", symbol, err)
	}
	return nil
}

// Remove stops keeping a symbol warm.
func (r *WatchedInstrumentRepository) Remove(ctx context.Context, symbol string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM watched_instruments WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("remove watched instrument %s: %w", symbol, err)
	}
	return nil
}

// List returns every watched instrument.
func (r *WatchedInstrumentRepository) List(ctx context.Context) ([]domain.WatchedInstrument, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT symbol, display_name, added_at FROM watched_instruments ORDER BY symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("list watched instruments: %w", err)
	}
	defer rows.Close()

	var out []domain.WatchedInstrument
	for rows.Next() {
		var w domain.WatchedInstrument
		if err := rows.Scan(&w.Symbol, &w.DisplayName, &w.AddedAt); err != nil {
			return nil, fmt.Errorf("scan watched instrument: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
