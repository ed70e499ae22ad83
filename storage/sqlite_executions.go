package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"argus/core"
)

// SQLiteExecutionStorage persists playbook executions and owns the
// playbook's aggregate run statistics.
type SQLiteExecutionStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteExecutionStorage creates an execution storage backed by SQLite.
func NewSQLiteExecutionStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteExecutionStorage {
	return &SQLiteExecutionStorage{db: db, logger: logger}
}

const executionColumns = `id, playbook_id, playbook_name, triggered_by_alert_id, triggered_by_event_id,
	status, started_by, steps_data, current_step, started_at, completed_at, result, duration_ms, version`

// CreateExecution inserts the execution and increments the playbook's
// triggered_count/last_run in the same transaction, re-checking the
// playbook's status inside it so concurrent archive/toggle cannot race a
// stale read.
func (s *SQLiteExecutionStorage) CreateExecution(ctx context.Context, exec *core.Execution) error {
	stepsJSON, err := json.Marshal(exec.StepsData)
	if err != nil {
		return fmt.Errorf("failed to marshal execution steps: %w", err)
	}

	err = s.db.WithTransaction(func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			"SELECT status FROM playbooks WHERE id = ?", exec.PlaybookID).Scan(&status)
		if err == sql.ErrNoRows {
			return fmt.Errorf("playbook %s: %w", exec.PlaybookID, ErrPlaybookNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to check playbook status: %w", err)
		}
		if core.PlaybookStatus(status) != core.PlaybookStatusActive {
			return fmt.Errorf("playbook %s is %s, only active playbooks can be executed: %w",
				exec.PlaybookID, status, core.ErrInvalidState)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO playbook_executions (`+executionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			exec.ID, exec.PlaybookID, exec.PlaybookName,
			nullIfEmpty(exec.TriggeredByAlertID), nullIfEmpty(exec.TriggeredByEventID),
			string(exec.Status), nullIfEmpty(exec.StartedBy), string(stepsJSON),
			exec.CurrentStep, exec.StartedAt.UTC().Format(time.RFC3339Nano),
			nullIfZeroTime(exec.CompletedAt), nullIfEmpty(exec.Result),
			exec.DurationMs, exec.Version)
		if err != nil {
			return fmt.Errorf("failed to insert execution: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE playbooks SET triggered_count = triggered_count + 1, last_run = ?
			WHERE id = ?`,
			exec.StartedAt.UTC().Format(time.RFC3339Nano), exec.PlaybookID)
		if err != nil {
			return fmt.Errorf("failed to update playbook stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Infow("Execution stored", "execution_id", exec.ID, "playbook_id", exec.PlaybookID)
	return nil
}

func scanExecution(row rowScanner) (*core.Execution, error) {
	var e core.Execution
	var alertID, eventID, startedBy, stepsData, completedAt, result sql.NullString
	var startedAt string

	err := row.Scan(&e.ID, &e.PlaybookID, &e.PlaybookName, &alertID, &eventID,
		(*string)(&e.Status), &startedBy, &stepsData, &e.CurrentStep,
		&startedAt, &completedAt, &result, &e.DurationMs, &e.Version)
	if err != nil {
		return nil, err
	}

	e.TriggeredByAlertID = alertID.String
	e.TriggeredByEventID = eventID.String
	e.StartedBy = startedBy.String
	e.Result = result.String
	e.StepsData = make([]core.ExecutionStep, 0)
	if stepsData.Valid && stepsData.String != "" {
		if err := json.Unmarshal([]byte(stepsData.String), &e.StepsData); err != nil {
			return nil, fmt.Errorf("corrupted steps data for execution %s: %w", e.ID, err)
		}
	}
	if e.StartedAt, err = parseTimestamp(startedAt); err != nil {
		return nil, fmt.Errorf("corrupted started_at timestamp for execution %s: %w", e.ID, err)
	}
	if completedAt.Valid && completedAt.String != "" {
		t, err := parseTimestamp(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("corrupted completed_at timestamp for execution %s: %w", e.ID, err)
		}
		e.CompletedAt = &t
	}
	return &e, nil
}

// GetExecution retrieves an execution by ID.
func (s *SQLiteExecutionStorage) GetExecution(ctx context.Context, id string) (*core.Execution, error) {
	row := s.db.ReadDB.QueryRowContext(ctx,
		"SELECT "+executionColumns+" FROM playbook_executions WHERE id = ?", id)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution %s: %w", id, ErrExecutionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns executions matching the filters, newest first,
// plus the total match count.
func (s *SQLiteExecutionStorage) ListExecutions(ctx context.Context, filters ExecutionFilters, limit, offset int) ([]core.Execution, int64, error) {
	whereClauses := []string{}
	params := []interface{}{}

	if filters.ActiveOnly {
		whereClauses = append(whereClauses, "status = ?")
		params = append(params, string(core.ExecutionStatusInProgress))
	} else if filters.Status != "" {
		whereClauses = append(whereClauses, "status = ?")
		params = append(params, filters.Status)
	}
	if filters.PlaybookID != "" {
		whereClauses = append(whereClauses, "playbook_id = ?")
		params = append(params, filters.PlaybookID)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM playbook_executions" + whereSQL // #nosec G201 -- whereSQL built from fixed clauses, values parameterized
	if err := s.db.ReadDB.QueryRowContext(ctx, countQuery, params...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	query := "SELECT " + executionColumns + " FROM playbook_executions" + whereSQL +
		" ORDER BY started_at DESC LIMIT ? OFFSET ?" // #nosec G201 -- whereSQL built from fixed clauses, values parameterized
	rows, err := s.db.ReadDB.QueryContext(ctx, query, append(params, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	executions := make([]core.Execution, 0)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		executions = append(executions, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate executions: %w", err)
	}
	return executions, total, nil
}

// UpdateExecution persists execution state with a compare-and-swap on the
// version counter. A lost race returns core.ErrExecutionConflict. When the
// execution lands in completed state, the parent playbook's rolling average
// duration is recomputed in the same transaction.
func (s *SQLiteExecutionStorage) UpdateExecution(ctx context.Context, exec *core.Execution, expectedVersion int64) error {
	stepsJSON, err := json.Marshal(exec.StepsData)
	if err != nil {
		return fmt.Errorf("failed to marshal execution steps: %w", err)
	}

	err = s.db.WithTransaction(func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE playbook_executions
			SET status = ?, steps_data = ?, current_step = ?, completed_at = ?,
			    result = ?, duration_ms = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			string(exec.Status), string(stepsJSON), exec.CurrentStep,
			nullIfZeroTime(exec.CompletedAt), nullIfEmpty(exec.Result),
			exec.DurationMs, exec.ID, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update execution: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if affected == 0 {
			var count int
			if err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM playbook_executions WHERE id = ?", exec.ID).Scan(&count); err != nil {
				return fmt.Errorf("failed to check execution existence: %w", err)
			}
			if count == 0 {
				return fmt.Errorf("execution %s: %w", exec.ID, ErrExecutionNotFound)
			}
			return fmt.Errorf("execution %s version %d: %w", exec.ID, expectedVersion, core.ErrExecutionConflict)
		}

		if exec.Status == core.ExecutionStatusCompleted {
			_, err = tx.ExecContext(ctx, `
				UPDATE playbooks
				SET avg_duration_ms = COALESCE((
					SELECT AVG((JULIANDAY(completed_at) - JULIANDAY(started_at)) * 86400000)
					FROM playbook_executions
					WHERE playbook_id = ? AND status = 'completed' AND completed_at IS NOT NULL
				), 0)
				WHERE id = ?`,
				exec.PlaybookID, exec.PlaybookID)
			if err != nil {
				return fmt.Errorf("failed to update playbook average duration: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	exec.Version = expectedVersion + 1
	return nil
}

// CountExecutionsByStatus returns execution counts grouped by status.
func (s *SQLiteExecutionStorage) CountExecutionsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM playbook_executions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan execution count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

var _ ExecutionStorageInterface = (*SQLiteExecutionStorage)(nil)
