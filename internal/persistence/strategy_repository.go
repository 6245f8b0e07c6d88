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

// StrategyRepository persists Strategy definitions. Deletion cascades to
// run logs and signals (enforced here, sqlite foreign keys are on but this
// schema keeps cascades explicit for clarity) but never to trades.
type StrategyRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStrategyRepository constructs a StrategyRepository.
func NewStrategyRepository(db *sql.DB, log zerolog.Logger) *StrategyRepository {
	return &StrategyRepository{db: db, log: log.With().Str("repo", "strategy").Logger()}
}

// Create inserts a new strategy and assigns its ID.
func (r *StrategyRepository) Create(ctx context.Context, s *domain.Strategy) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO strategies (name, kind, symbol, status, schedule_interval, parameters)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.Name, string(s.Kind), s.Symbol, string(s.Status), s.ScheduleInterval, s.Parameters)
	if err != nil {
		return fmt.Errorf("create strategy: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("strategy id: %w", err)
	}
	s.ID = id
	return nil
}

// Get loads a strategy by ID.
func (r *StrategyRepository) Get(ctx context.Context, id int64) (*domain.Strategy, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, name, kind, symbol, status, schedule_interval, parameters, last_run_at, created_at
		FROM strategies WHERE id = ?
	`, id))
}

// List returns every strategy.
func (r *StrategyRepository) List(ctx context.Context) ([]domain.Strategy, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, kind, symbol, status, schedule_interval, parameters, last_run_at, created_at
		FROM strategies ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		s, err := scanStrategyRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListActive returns strategies currently eligible for scheduling.
func (r *StrategyRepository) ListActive(ctx context.Context) ([]domain.Strategy, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, kind, symbol, status, schedule_interval, parameters, last_run_at, created_at
		FROM strategies WHERE status = ? ORDER BY id ASC
	`, string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list active strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		s, err := scanStrategyRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Update rewrites a strategy's editable fields (name, symbol, schedule,
// parameters) — status transitions go through SetStatus.
func (r *StrategyRepository) Update(ctx context.Context, s *domain.Strategy) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE strategies SET name = ?, symbol = ?, schedule_interval = ?, parameters = ? WHERE id = ?
	`, s.Name, s.Symbol, s.ScheduleInterval, s.Parameters, s.ID)
	if err != nil {
		return fmt.Errorf("update strategy %d: %w", s.ID, err)
	}
	return nil
}

// SetStatus transitions a strategy's status — the only state the scheduler
// itself mutates (besides last_run_at).
func (r *StrategyRepository) SetStatus(ctx context.Context, id int64, status domain.StrategyStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE strategies SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set status for strategy %d: %w", id, err)
	}
	return nil
}

// SetLastRunAt records when a strategy's most recent tick completed.
func (r *StrategyRepository) SetLastRunAt(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE strategies SET last_run_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("set last_run_at for strategy %d: %w", id, err)
	}
	return nil
}

// SetParameters overwrites a strategy's opaque parameters blob — used by
// the grid evaluator to persist its level_index between ticks.
func (r *StrategyRepository) SetParameters(ctx context.Context, id int64, parameters string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE strategies SET parameters = ? WHERE id = ?`, parameters, id)
	if err != nil {
		return fmt.Errorf("set parameters for strategy %d: %w", id, err)
	}
	return nil
}

// Delete removes a strategy and cascades to its run logs, trace steps, and
// signals — but never to trades, which remain in the immutable ledger.
func (r *StrategyRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete strategy: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM trace_steps WHERE run_log_id IN (SELECT id FROM run_logs WHERE strategy_id = ?)
	`, id); err != nil {
		return fmt.Errorf("cascade delete trace steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_logs WHERE strategy_id = ?`, id); err != nil {
		return fmt.Errorf("cascade delete run logs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM signals WHERE strategy_id = ?`, id); err != nil {
		return fmt.Errorf("cascade delete signals: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete strategy: %w", err)
	}

	return tx.Commit()
}

func (r *StrategyRepository) scanOne(row *sql.Row) (*domain.Strategy, error) {
	var s domain.Strategy
	var kind, status string
	var lastRunAt sql.NullTime
	if err := row.Scan(&s.ID, &s.Name, &kind, &s.Symbol, &status, &s.ScheduleInterval, &s.Parameters, &lastRunAt, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("strategy not found: %w", err)
		}
		return nil, fmt.Errorf("get strategy: %w", err)
	}
	s.Kind = domain.StrategyKind(kind)
	s.Status = domain.StrategyStatus(status)
	if lastRunAt.Valid {
		s.LastRunAt = &lastRunAt.Time
	}
	return &s, nil
}

func scanStrategyRow(rows *sql.Rows) (*domain.Strategy, error) {
	var s domain.Strategy
	var kind, status string
	var lastRunAt sql.NullTime
	if err := rows.Scan(&s.ID, &s.Name, &kind, &s.Symbol, &status, &s.ScheduleInterval, &s.Parameters, &lastRunAt, &s.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan strategy: %w", err)
	}
	s.Kind = domain.StrategyKind(kind)
	s.Status = domain.StrategyStatus(status)
	if lastRunAt.Valid {
		s.LastRunAt = &lastRunAt.Time
	}
	return &s, nil
}
