package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"syncwarden/internal/core"
)

// UpsertRecord writes the execution record of a task.
func (s *Store) UpsertRecord(ctx context.Context, rec core.ExecutionRecord) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO execution_records (task_id, last_run_at, last_outcome, run_count, running, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_outcome = excluded.last_outcome,
			run_count = excluded.run_count,
			running = excluded.running,
			updated_at = excluded.updated_at
	`, rec.TaskID, nullableTime(rec.LastRunAt), string(rec.LastOutcome), rec.RunCount, rec.Running, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// ListRecords returns every stored execution record.
func (s *Store) ListRecords(ctx context.Context) ([]core.ExecutionRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT task_id, last_run_at, last_outcome, run_count, running
		FROM execution_records
		ORDER BY task_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	var records []core.ExecutionRecord
	for rows.Next() {
		var (
			rec       core.ExecutionRecord
			lastRunAt sql.NullString
			outcome   string
		)
		if err := rows.Scan(&rec.TaskID, &lastRunAt, &outcome, &rec.RunCount, &rec.Running); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if rec.LastRunAt, err = parseNullableTime(lastRunAt); err != nil {
			return nil, err
		}
		rec.LastOutcome = core.Outcome(outcome)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteRecord removes a task's record and its runs.
func (s *Store) DeleteRecord(ctx context.Context, taskID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete record: %w", err)
	}
	defer tx.Rollback()
	stmts := []string{
		`DELETE FROM run_steps WHERE run_id IN (SELECT id FROM runs WHERE task_id = ?)`,
		`DELETE FROM runs WHERE task_id = ?`,
		`DELETE FROM execution_records WHERE task_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, taskID); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
	}
	return tx.Commit()
}
