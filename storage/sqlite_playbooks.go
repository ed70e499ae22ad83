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

// SQLitePlaybookStorage persists playbook definitions.
type SQLitePlaybookStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLitePlaybookStorage creates a playbook storage backed by SQLite.
func NewSQLitePlaybookStorage(db *SQLite, logger *zap.SugaredLogger) *SQLitePlaybookStorage {
	return &SQLitePlaybookStorage{db: db, logger: logger}
}

// nullIfEmpty converts empty strings to NULL for optional TEXT columns.
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullIfZeroTime converts nil/zero times to NULL, otherwise RFC3339.
func nullIfZeroTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp parses an RFC3339 column value, tolerating the second
// precision variant.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	return t, err
}

// escapeLike escapes LIKE wildcards so user search terms match literally.
// Queries using it must specify ESCAPE '\'.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

const playbookColumns = `id, name, description, status, trigger_type, trigger_config, category, steps,
	triggered_count, last_run, avg_duration_ms, created_by, created_at, updated_at`

// CreatePlaybook inserts a playbook. Names are not unique; the duplicate
// flow deliberately produces same-named copies.
func (s *SQLitePlaybookStorage) CreatePlaybook(ctx context.Context, p *core.Playbook) error {
	stepsJSON, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal playbook steps: %w", err)
	}
	triggerJSON, err := json.Marshal(p.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	_, err = s.db.WriteDB.ExecContext(ctx, `
		INSERT INTO playbooks (`+playbookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, nullIfEmpty(p.Description), string(p.Status),
		string(p.Trigger), string(triggerJSON), string(p.Category), string(stepsJSON),
		p.TriggeredCount, nullIfZeroTime(p.LastRun), p.AvgDurationMs,
		nullIfEmpty(p.CreatedBy),
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
		p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert playbook: %w", err)
	}

	s.logger.Infow("Playbook stored", "playbook_id", p.ID, "name", p.Name)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlaybook(row rowScanner) (*core.Playbook, error) {
	var p core.Playbook
	var description, triggerConfig, steps, createdBy, lastRun sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.Name, &description, (*string)(&p.Status), (*string)(&p.Trigger),
		&triggerConfig, (*string)(&p.Category), &steps, &p.TriggeredCount, &lastRun,
		&p.AvgDurationMs, &createdBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.Description = description.String
	p.CreatedBy = createdBy.String
	p.Steps = make([]core.PlaybookStep, 0)
	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &p.Steps); err != nil {
			return nil, fmt.Errorf("corrupted steps for playbook %s: %w", p.ID, err)
		}
	}
	if triggerConfig.Valid && triggerConfig.String != "" {
		if err := json.Unmarshal([]byte(triggerConfig.String), &p.TriggerConfig); err != nil {
			return nil, fmt.Errorf("corrupted trigger config for playbook %s: %w", p.ID, err)
		}
	}
	if lastRun.Valid && lastRun.String != "" {
		t, err := parseTimestamp(lastRun.String)
		if err != nil {
			return nil, fmt.Errorf("corrupted last_run timestamp for playbook %s: %w", p.ID, err)
		}
		p.LastRun = &t
	}
	if p.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("corrupted created_at timestamp for playbook %s: %w", p.ID, err)
	}
	if p.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("corrupted updated_at timestamp for playbook %s: %w", p.ID, err)
	}
	return &p, nil
}

// GetPlaybook retrieves a playbook by ID.
func (s *SQLitePlaybookStorage) GetPlaybook(ctx context.Context, id string) (*core.Playbook, error) {
	row := s.db.ReadDB.QueryRowContext(ctx,
		"SELECT "+playbookColumns+" FROM playbooks WHERE id = ?", id)
	p, err := scanPlaybook(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("playbook %s: %w", id, ErrPlaybookNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get playbook: %w", err)
	}
	return p, nil
}

// ListPlaybooks returns playbooks matching the filters, newest first, plus
// the total match count for pagination.
func (s *SQLitePlaybookStorage) ListPlaybooks(ctx context.Context, filters PlaybookFilters, limit, offset int) ([]core.Playbook, int64, error) {
	whereClauses := []string{}
	params := []interface{}{}

	if filters.Status != "" {
		whereClauses = append(whereClauses, "status = ?")
		params = append(params, filters.Status)
	}
	if filters.Category != "" {
		whereClauses = append(whereClauses, "category = ?")
		params = append(params, filters.Category)
	}
	if filters.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(filters.Search)) + "%"
		whereClauses = append(whereClauses, `(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`)
		params = append(params, pattern, pattern)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM playbooks" + whereSQL // #nosec G201 -- whereSQL built from fixed clauses, values parameterized
	if err := s.db.ReadDB.QueryRowContext(ctx, countQuery, params...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count playbooks: %w", err)
	}

	query := "SELECT " + playbookColumns + " FROM playbooks" + whereSQL +
		" ORDER BY created_at DESC LIMIT ? OFFSET ?" // #nosec G201 -- whereSQL built from fixed clauses, values parameterized
	rows, err := s.db.ReadDB.QueryContext(ctx, query, append(params, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query playbooks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	playbooks := make([]core.Playbook, 0)
	for rows.Next() {
		p, err := scanPlaybook(rows)
		if err != nil {
			return nil, 0, err
		}
		playbooks = append(playbooks, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate playbooks: %w", err)
	}
	return playbooks, total, nil
}

// ListPlaybooksByTrigger returns playbooks with the given trigger type and
// status, used by the alert engine to find rule-bound playbooks.
func (s *SQLitePlaybookStorage) ListPlaybooksByTrigger(ctx context.Context, trigger core.TriggerType, status core.PlaybookStatus) ([]core.Playbook, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx,
		"SELECT "+playbookColumns+" FROM playbooks WHERE trigger_type = ? AND status = ?",
		string(trigger), string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query playbooks by trigger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	playbooks := make([]core.Playbook, 0)
	for rows.Next() {
		p, err := scanPlaybook(rows)
		if err != nil {
			return nil, err
		}
		playbooks = append(playbooks, *p)
	}
	return playbooks, rows.Err()
}

// UpdatePlaybook rewrites a playbook row. Engine-owned stats columns are
// not touched here; they move only through the execution storage.
func (s *SQLitePlaybookStorage) UpdatePlaybook(ctx context.Context, p *core.Playbook) error {
	stepsJSON, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal playbook steps: %w", err)
	}
	triggerJSON, err := json.Marshal(p.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	result, err := s.db.WriteDB.ExecContext(ctx, `
		UPDATE playbooks
		SET name = ?, description = ?, status = ?, trigger_type = ?, trigger_config = ?,
		    category = ?, steps = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, nullIfEmpty(p.Description), string(p.Status), string(p.Trigger),
		string(triggerJSON), string(p.Category), string(stepsJSON),
		p.UpdatedAt.UTC().Format(time.RFC3339Nano), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update playbook: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("playbook %s: %w", p.ID, ErrPlaybookNotFound)
	}
	return nil
}

// DeletePlaybook hard-deletes a playbook. Executions keep their
// denormalized playbook_name snapshot and are not touched.
func (s *SQLitePlaybookStorage) DeletePlaybook(ctx context.Context, id string) error {
	result, err := s.db.WriteDB.ExecContext(ctx, "DELETE FROM playbooks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete playbook: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("playbook %s: %w", id, ErrPlaybookNotFound)
	}
	s.logger.Infow("Playbook deleted", "playbook_id", id)
	return nil
}

var _ PlaybookStorageInterface = (*SQLitePlaybookStorage)(nil)
