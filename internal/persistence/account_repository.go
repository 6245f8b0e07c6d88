// Package persistence holds the repository implementations backing every
// aggregate in the data model: one file per aggregate, raw SQL over
// database/sql, errors wrapped with %w and existence checks via
// errors.Is(err, sql.ErrNoRows) — the convention the rest of the engine's
// repositories follow.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kryptotron/engine/internal/domain"
)

// AccountRepository persists the singleton Account row.
type AccountRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAccountRepository constructs an AccountRepository.
func NewAccountRepository(db *sql.DB, log zerolog.Logger) *AccountRepository {
	return &AccountRepository{db: db, log: log.With().Str("repo", "account").Logger()}
}

// EnsureSeeded creates the singleton account row with initialCash if it
// does not already exist.
func (r *AccountRepository) EnsureSeeded(ctx context.Context, initialCash float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO account (id, cash, equity_high_water_mark, circuit_breaker_active, circuit_breaker_reason)
		VALUES (1, ?, ?, 0, '')
		ON CONFLICT(id) DO NOTHING
	`, initialCash, initialCash)
	if err != nil {
		return fmt.Errorf("seed account: %w", err)
	}
	return nil
}

// Get loads the singleton account row.
func (r *AccountRepository) Get(ctx context.Context) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT cash, equity_high_water_mark, circuit_breaker_active, circuit_breaker_reason
		FROM account WHERE id = 1
	`)

	var a domain.Account
	var active int
	if err := row.Scan(&a.Cash, &a.EquityHighWaterMark, &active, &a.CircuitBreakerReason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account not seeded")
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.CircuitBreakerActive = active != 0
	return &a, nil
}

// Update writes the account row back.
func (r *AccountRepository) Update(ctx context.Context, a *domain.Account) error {
	active := 0
	if a.CircuitBreakerActive {
		active = 1
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE account SET cash = ?, equity_high_water_mark = ?, circuit_breaker_active = ?, circuit_breaker_reason = ?
		WHERE id = 1
	`, a.Cash, a.EquityHighWaterMark, active, a.CircuitBreakerReason)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

// ResetCircuitBreaker clears the breaker — only reachable via an explicit
// admin action.
func (r *AccountRepository) ResetCircuitBreaker(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE account SET circuit_breaker_active = 0, circuit_breaker_reason = '' WHERE id = 1
	`)
	if err != nil {
		return fmt.Errorf("reset circuit breaker: %w", err)
	}
	return nil
}
