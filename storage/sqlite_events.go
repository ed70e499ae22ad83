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

// SQLiteEventStorage persists security events.
type SQLiteEventStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteEventStorage creates an event storage backed by SQLite.
func NewSQLiteEventStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteEventStorage {
	return &SQLiteEventStorage{db: db, logger: logger}
}

const eventColumns = `id, timestamp, source, event_type, severity, description, raw_log, metadata,
	status, assigned_to, site_id, created_at, updated_at`

func insertEventTx(ctx context.Context, tx *sql.Tx, e *core.Event) error {
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.Source), e.EventType,
		string(e.Severity), nullIfEmpty(e.Description), nullIfEmpty(e.RawLog),
		string(metadataJSON), string(e.Status), nullIfEmpty(e.AssignedTo),
		nullIfEmpty(e.SiteID),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// CreateEvent inserts a single event.
func (s *SQLiteEventStorage) CreateEvent(ctx context.Context, e *core.Event) error {
	return s.db.WithTransaction(func(tx *sql.Tx) error {
		return insertEventTx(ctx, tx, e)
	})
}

// CreateEvents inserts a batch of events in one transaction.
func (s *SQLiteEventStorage) CreateEvents(ctx context.Context, events []*core.Event) error {
	if len(events) == 0 {
		return nil
	}
	err := s.db.WithTransaction(func(tx *sql.Tx) error {
		for _, e := range events {
			if err := insertEventTx(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Infow("Event batch stored", "count", len(events))
	return nil
}

func scanEvent(row rowScanner) (*core.Event, error) {
	var e core.Event
	var description, rawLog, metadata, assignedTo, siteID sql.NullString
	var timestamp, createdAt, updatedAt string

	err := row.Scan(&e.ID, &timestamp, (*string)(&e.Source), &e.EventType,
		(*string)(&e.Severity), &description, &rawLog, &metadata,
		(*string)(&e.Status), &assignedTo, &siteID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.Description = description.String
	e.RawLog = rawLog.String
	e.AssignedTo = assignedTo.String
	e.SiteID = siteID.String
	e.Metadata = map[string]interface{}{}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("corrupted metadata for event %s: %w", e.ID, err)
		}
	}
	if e.Timestamp, err = parseTimestamp(timestamp); err != nil {
		return nil, fmt.Errorf("corrupted timestamp for event %s: %w", e.ID, err)
	}
	if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("corrupted created_at timestamp for event %s: %w", e.ID, err)
	}
	if e.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("corrupted updated_at timestamp for event %s: %w", e.ID, err)
	}
	return &e, nil
}

// GetEvent retrieves an event by ID.
func (s *SQLiteEventStorage) GetEvent(ctx context.Context, id string) (*core.Event, error) {
	row := s.db.ReadDB.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE id = ?", id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// ListEvents returns events matching the filters, newest first, plus the
// total match count.
func (s *SQLiteEventStorage) ListEvents(ctx context.Context, filters EventFilters, limit, offset int) ([]core.Event, int64, error) {
	whereClauses := []string{}
	params := []interface{}{}

	if filters.Severity != "" {
		whereClauses = append(whereClauses, "severity = ?")
		params = append(params, filters.Severity)
	}
	if filters.Status != "" {
		whereClauses = append(whereClauses, "status = ?")
		params = append(params, filters.Status)
	}
	if filters.Source != "" {
		whereClauses = append(whereClauses, "source = ?")
		params = append(params, filters.Source)
	}
	if filters.SiteID != "" {
		whereClauses = append(whereClauses, "site_id = ?")
		params = append(params, filters.SiteID)
	}
	if filters.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(filters.Search)) + "%"
		whereClauses = append(whereClauses, `(LOWER(event_type) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`)
		params = append(params, pattern, pattern)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM events" + whereSQL // #nosec G201 -- whereSQL built from fixed clauses, values parameterized
	if err := s.db.ReadDB.QueryRowContext(ctx, countQuery, params...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	query := "SELECT " + eventColumns + " FROM events" + whereSQL +
		" ORDER BY timestamp DESC LIMIT ? OFFSET ?" // #nosec G201 -- whereSQL built from fixed clauses, values parameterized
	rows, err := s.db.ReadDB.QueryContext(ctx, query, append(params, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]core.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, total, nil
}

// UpdateEvent rewrites the triage fields of an event.
func (s *SQLiteEventStorage) UpdateEvent(ctx context.Context, e *core.Event) error {
	return s.db.WithTransaction(func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE events SET status = ?, assigned_to = ?, updated_at = ?
			WHERE id = ?`,
			string(e.Status), nullIfEmpty(e.AssignedTo),
			e.UpdatedAt.UTC().Format(time.RFC3339Nano), e.ID)
		if err != nil {
			return fmt.Errorf("failed to update event: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("event %s: %w", e.ID, ErrEventNotFound)
		}
		return nil
	})
}

// CountMatchingSince counts events matching a rule condition's non-wildcard
// fields with timestamps at or after since. Used by the alert engine's
// threshold window.
func (s *SQLiteEventStorage) CountMatchingSince(ctx context.Context, cond core.RuleCondition, since time.Time) (int64, error) {
	whereClauses := []string{"timestamp >= ?"}
	params := []interface{}{since.UTC().Format(time.RFC3339Nano)}

	addField := func(column, value string) {
		if value != "" && value != core.MatchAny {
			whereClauses = append(whereClauses, column+" = ?")
			params = append(params, value)
		}
	}
	addField("event_type", cond.EventType)
	addField("source", cond.Source)
	addField("severity", cond.Severity)
	addField("site_id", cond.SiteID)

	query := "SELECT COUNT(*) FROM events WHERE " + strings.Join(whereClauses, " AND ") // #nosec G201 -- clauses are fixed strings, values parameterized
	var count int64
	if err := s.db.ReadDB.QueryRowContext(ctx, query, params...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count matching events: %w", err)
	}
	return count, nil
}

func (s *SQLiteEventStorage) countGroupedBy(ctx context.Context, column string) (map[string]int64, error) {
	query := "SELECT " + column + ", COUNT(*) FROM events GROUP BY " + column // #nosec G201 -- column is a fixed identifier
	rows, err := s.db.ReadDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

// CountEventsBySeverity returns event counts grouped by severity.
func (s *SQLiteEventStorage) CountEventsBySeverity(ctx context.Context) (map[string]int64, error) {
	return s.countGroupedBy(ctx, "severity")
}

// CountEventsByStatus returns event counts grouped by triage status.
func (s *SQLiteEventStorage) CountEventsByStatus(ctx context.Context) (map[string]int64, error) {
	return s.countGroupedBy(ctx, "status")
}

var _ EventStorageInterface = (*SQLiteEventStorage)(nil)
