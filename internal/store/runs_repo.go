package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"syncwarden/internal/core"
)

var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, task_id, outcome, final_state, started_at, ended_at, error`

func (s *Store) InsertRun(ctx context.Context, run *core.Run) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, outcome, final_state, started_at, ended_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.TaskID, string(run.Outcome), run.FinalState, formatTime(run.StartedAt),
		nullableTime(run.EndedAt), nullableString(run.Error))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// CompleteRun stores the outcome and step list of a finished run.
func (s *Store) CompleteRun(ctx context.Context, run *core.Run) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete run: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE runs
		SET outcome = ?, final_state = ?, ended_at = ?, error = ?
		WHERE id = ?
	`, string(run.Outcome), run.FinalState, nullableTime(run.EndedAt), nullableString(run.Error), run.ID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRunNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_steps WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clear run steps: %w", err)
	}
	for i, step := range run.Steps {
		var errMsg *string
		if step.Error != "" {
			errMsg = &step.Error
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_steps (run_id, position, name, outcome, duration_ms, error)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, i, step.Name, string(step.Outcome), step.Duration.Milliseconds(), nullableString(errMsg)); err != nil {
			return fmt.Errorf("insert run step: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetRun(ctx context.Context, id string) (*core.Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if err := s.attachSteps(ctx, []*core.Run{run}, `SELECT run_id, name, outcome, duration_ms, error
		FROM run_steps WHERE run_id = ? ORDER BY position`, id); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRecentRuns returns up to limit runs across all tasks, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]*core.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return runs, nil
	}
	err = s.attachSteps(ctx, runs, `
		SELECT run_id, name, outcome, duration_ms, error
		FROM run_steps
		WHERE run_id IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)
		ORDER BY run_id, position
	`, limit)
	return runs, err
}

// PruneRuns deletes all but the keep most recent runs of taskID.
func (s *Store) PruneRuns(ctx context.Context, taskID string, keep int) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()
	const stale = `SELECT id FROM runs WHERE task_id = ? ORDER BY started_at DESC LIMIT -1 OFFSET ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_steps WHERE run_id IN (`+stale+`)`, taskID, keep); err != nil {
		return fmt.Errorf("prune run steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id IN (`+stale+`)`, taskID, keep); err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return tx.Commit()
}

func (s *Store) attachSteps(ctx context.Context, runs []*core.Run, query string, args ...any) error {
	byID := make(map[string]*core.Run, len(runs))
	for _, run := range runs {
		byID[run.ID] = run
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("list run steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			runID, name, outcome string
			durationMS           int64
			errMsg               sql.NullString
		)
		if err := rows.Scan(&runID, &name, &outcome, &durationMS, &errMsg); err != nil {
			return fmt.Errorf("scan run step: %w", err)
		}
		run, ok := byID[runID]
		if !ok {
			continue
		}
		run.Steps = append(run.Steps, core.Step{
			Name:     name,
			Outcome:  core.StepOutcome(outcome),
			Duration: time.Duration(durationMS) * time.Millisecond,
			Error:    errMsg.String,
		})
	}
	return rows.Err()
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*core.Run, error) {
	var (
		id         string
		taskID     string
		outcome    string
		finalState sql.NullString
		startedAt  string
		endedAt    sql.NullString
		errMsg     sql.NullString
	)
	if err := scanner.Scan(&id, &taskID, &outcome, &finalState, &startedAt, &endedAt, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	started, err := parseTime(startedAt)
	if err != nil {
		return nil, err
	}
	run := &core.Run{
		ID:         id,
		TaskID:     taskID,
		Outcome:    core.Outcome(outcome),
		FinalState: finalState.String,
		StartedAt:  started,
	}
	if run.EndedAt, err = parseNullableTime(endedAt); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	return run, nil
}
