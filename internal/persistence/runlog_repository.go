package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kryptotron/engine/internal/domain"
)

// RunLogRepository persists RunLog rows and their nested TraceStep
// children. Both are append-only; a run log is never updated after being
// closed except for its own single open→closed transition.
type RunLogRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRunLogRepository constructs a RunLogRepository.
func NewRunLogRepository(db *sql.DB, log zerolog.Logger) *RunLogRepository {
	return &RunLogRepository{db: db, log: log.With().Str("repo", "run_log").Logger()}
}

// Open inserts a new RunLog row with outcome OK provisionally and returns
// its ID.
func (r *RunLogRepository) Open(ctx context.Context, strategyID int64, startedAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO run_logs (strategy_id, started_at, outcome) VALUES (?, ?, ?)
	`, strategyID, startedAt, string(domain.OutcomeOK))
	if err != nil {
		return 0, fmt.Errorf("open run log: %w", err)
	}
	return res.LastInsertId()
}

// Close sets the terminal outcome and finished_at for a RunLog, and
// persists its full ordered trace in one transaction.
func (r *RunLogRepository) Close(ctx context.Context, runLogID int64, finishedAt time.Time, outcome domain.RunOutcome, reason string, steps []domain.TraceStep) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin close run log: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE run_logs SET finished_at = ?, outcome = ?, reason = ? WHERE id = ?
	`, finishedAt, string(outcome), reason, runLogID); err != nil {
		return fmt.Errorf("update run log: %w", err)
	}

	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trace_steps (run_log_id, step_index, kind, label, input_digest, output_digest, details, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, runLogID, step.StepIndex, string(step.Kind), step.Label, step.InputDigest, step.OutputDigest, step.Details, step.Duration.Nanoseconds()); err != nil {
			return fmt.Errorf("insert trace step %d: %w", step.StepIndex, err)
		}
	}

	return tx.Commit()
}

// LastStartedAt returns the started_at of the most recent RunLog for a
// strategy, or nil when the strategy has no run logs.
func (r *RunLogRepository) LastStartedAt(ctx context.Context, strategyID int64) (*time.Time, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT started_at FROM run_logs WHERE strategy_id = ? ORDER BY started_at DESC LIMIT 1
	`, strategyID)
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("last started_at: %w", err)
	}
	return &t, nil
}

// RecentFailures counts FAILED run logs for a strategy started within the
// given window, ending at now — the 1-hour sliding window the scheduler
// uses for the ERROR transition.
func (r *RunLogRepository) RecentFailures(ctx context.Context, strategyID int64, since time.Time) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM run_logs WHERE strategy_id = ? AND outcome = ? AND started_at >= ?
	`, strategyID, string(domain.OutcomeFailed), since)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("recent failures: %w", err)
	}
	return n, nil
}

// ForStrategy returns the most recent run logs for a strategy, with their
// trace steps attached, newest first.
func (r *RunLogRepository) ForStrategy(ctx context.Context, strategyID int64, limit int) ([]domain.RunLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, strategy_id, started_at, finished_at, outcome, reason
		FROM run_logs WHERE strategy_id = ? ORDER BY started_at DESC LIMIT ?
	`, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("run logs for strategy %d: %w", strategyID, err)
	}
	defer rows.Close()

	out := []domain.RunLog{}
	for rows.Next() {
		var rl domain.RunLog
		var outcome string
		if err := rows.Scan(&rl.ID, &rl.StrategyID, &rl.StartedAt, &rl.FinishedAt, &outcome, &rl.Reason); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		rl.Outcome = domain.RunOutcome(outcome)
		out = append(out, rl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		steps, err := r.steps(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Steps = steps
	}
	return out, nil
}

func (r *RunLogRepository) steps(ctx context.Context, runLogID int64) ([]domain.TraceStep, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT step_index, kind, label, input_digest, output_digest, details, duration_ns
		FROM trace_steps WHERE run_log_id = ? ORDER BY step_index ASC
	`, runLogID)
	if err != nil {
		return nil, fmt.Errorf("trace steps for run %d: %w", runLogID, err)
	}
	defer rows.Close()

	var out []domain.TraceStep
	for rows.Next() {
		var s domain.TraceStep
		var kind string
		var durationNs int64
		if err := rows.Scan(&s.StepIndex, &kind, &s.Label, &s.InputDigest, &s.OutputDigest, &s.Details, &durationNs); err != nil {
			return nil, fmt.Errorf("scan trace step: %w", err)
		}
		s.Kind = domain.TraceStepKind(kind)
		s.Duration = time.Duration(durationNs)
		out = append(out, s)
	}
	return out, rows.Err()
}
