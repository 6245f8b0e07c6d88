package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kryptotron/engine/internal/domain"
)

// PositionRepository persists Position rows, one per symbol.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository constructs a PositionRepository.
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{db: db, log: log.With().Str("repo", "position").Logger()}
}

// Get returns the position for symbol, or nil if none is held.
func (r *PositionRepository) Get(ctx context.Context, symbol string) (*domain.Position, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT symbol, amount, average_cost, opened_at, last_updated_at
		FROM positions WHERE symbol = ?
	`, symbol)

	var p domain.Position
	if err := row.Scan(&p.Symbol, &p.Amount, &p.AverageCost, &p.OpenedAt, &p.LastUpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get position %s: %w", symbol, err)
	}
	return &p, nil
}

// List returns every held position.
func (r *PositionRepository) List(ctx context.Context) ([]domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, amount, average_cost, opened_at, last_updated_at FROM positions
	`)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	out := []domain.Position{}
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.Symbol, &p.Amount, &p.AverageCost, &p.OpenedAt, &p.LastUpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Upsert writes a position's current state. Callers never pass Amount == 0
// — that case goes through Delete, per the invariant that a zeroed
// position is not persisted.
func (r *PositionRepository) Upsert(ctx context.Context, p *domain.Position) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO positions (symbol, amount, average_cost, opened_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			amount = excluded.amount,
			average_cost = excluded.average_cost,
			last_updated_at = excluded.last_updated_at
	`, p.Symbol, p.Amount, p.AverageCost, p.OpenedAt, p.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", p.Symbol, err)
	}
	return nil
}

// Delete removes a position, used when its amount reaches zero.
func (r *PositionRepository) Delete(ctx context.Context, symbol string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("delete position %s: %w", symbol, err)
	}
	return nil
}
