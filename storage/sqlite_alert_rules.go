package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"argus/core"
)

// SQLiteAlertRuleStorage persists alert rules.
type SQLiteAlertRuleStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAlertRuleStorage creates an alert rule storage backed by SQLite.
func NewSQLiteAlertRuleStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteAlertRuleStorage {
	return &SQLiteAlertRuleStorage{db: db, logger: logger}
}

const ruleColumns = `id, name, description, enabled, condition, action, action_config, severity,
	last_triggered, trigger_count, created_at, updated_at`

// CreateRule inserts an alert rule, enforcing name uniqueness in the same
// transaction.
func (s *SQLiteAlertRuleStorage) CreateRule(ctx context.Context, r *core.AlertRule) error {
	conditionJSON, err := json.Marshal(r.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal rule condition: %w", err)
	}
	actionConfigJSON, err := json.Marshal(r.ActionConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal rule action config: %w", err)
	}

	err = s.db.WithTransaction(func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM alert_rules WHERE name = ?", r.Name).Scan(&count); err != nil {
			return fmt.Errorf("failed to check rule name: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("alert rule %q: %w", r.Name, ErrRuleNameExists)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO alert_rules (`+ruleColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Name, nullIfEmpty(r.Description), boolToInt(r.Enabled),
			string(conditionJSON), string(r.Action), string(actionConfigJSON),
			string(r.Severity), nullIfZeroTime(r.LastTriggered), r.TriggerCount,
			r.CreatedAt.UTC().Format(time.RFC3339Nano),
			r.UpdatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to insert alert rule: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Infow("Alert rule stored", "rule_id", r.ID, "name", r.Name)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanRule(row rowScanner) (*core.AlertRule, error) {
	var r core.AlertRule
	var description, actionConfig, lastTriggered sql.NullString
	var condition, createdAt, updatedAt string
	var enabled int

	err := row.Scan(&r.ID, &r.Name, &description, &enabled, &condition,
		(*string)(&r.Action), &actionConfig, (*string)(&r.Severity),
		&lastTriggered, &r.TriggerCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.Description = description.String
	r.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(condition), &r.Condition); err != nil {
		return nil, fmt.Errorf("corrupted condition for alert rule %s: %w", r.ID, err)
	}
	if actionConfig.Valid && actionConfig.String != "" {
		if err := json.Unmarshal([]byte(actionConfig.String), &r.ActionConfig); err != nil {
			return nil, fmt.Errorf("corrupted action config for alert rule %s: %w", r.ID, err)
		}
	}
	if lastTriggered.Valid && lastTriggered.String != "" {
		t, err := parseTimestamp(lastTriggered.String)
		if err != nil {
			return nil, fmt.Errorf("corrupted last_triggered timestamp for alert rule %s: %w", r.ID, err)
		}
		r.LastTriggered = &t
	}
	if r.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("corrupted created_at timestamp for alert rule %s: %w", r.ID, err)
	}
	if r.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("corrupted updated_at timestamp for alert rule %s: %w", r.ID, err)
	}
	return &r, nil
}

// GetRule retrieves an alert rule by ID.
func (s *SQLiteAlertRuleStorage) GetRule(ctx context.Context, id string) (*core.AlertRule, error) {
	row := s.db.ReadDB.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM alert_rules WHERE id = ?", id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert rule: %w", err)
	}
	return r, nil
}

// ListRules returns all alert rules, optionally only enabled ones.
func (s *SQLiteAlertRuleStorage) ListRules(ctx context.Context, enabledOnly bool) ([]core.AlertRule, error) {
	query := "SELECT " + ruleColumns + " FROM alert_rules"
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.ReadDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	rules := make([]core.AlertRule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// UpdateRule rewrites an alert rule. TriggerCount and LastTriggered move
// only through RecordRuleTrigger.
func (s *SQLiteAlertRuleStorage) UpdateRule(ctx context.Context, r *core.AlertRule) error {
	conditionJSON, err := json.Marshal(r.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal rule condition: %w", err)
	}
	actionConfigJSON, err := json.Marshal(r.ActionConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal rule action config: %w", err)
	}

	return s.db.WithTransaction(func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM alert_rules WHERE name = ? AND id != ?", r.Name, r.ID).Scan(&count); err != nil {
			return fmt.Errorf("failed to check rule name: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("alert rule %q: %w", r.Name, ErrRuleNameExists)
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE alert_rules
			SET name = ?, description = ?, enabled = ?, condition = ?, action = ?,
			    action_config = ?, severity = ?, updated_at = ?
			WHERE id = ?`,
			r.Name, nullIfEmpty(r.Description), boolToInt(r.Enabled),
			string(conditionJSON), string(r.Action), string(actionConfigJSON),
			string(r.Severity), r.UpdatedAt.UTC().Format(time.RFC3339Nano), r.ID)
		if err != nil {
			return fmt.Errorf("failed to update alert rule: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("alert rule %s: %w", r.ID, ErrRuleNotFound)
		}
		return nil
	})
}

// DeleteRule hard-deletes an alert rule.
func (s *SQLiteAlertRuleStorage) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.WriteDB.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("alert rule %s: %w", id, ErrRuleNotFound)
	}
	s.logger.Infow("Alert rule deleted", "rule_id", id)
	return nil
}

// RecordRuleTrigger bumps the server-owned fire bookkeeping atomically.
func (s *SQLiteAlertRuleStorage) RecordRuleTrigger(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.WriteDB.ExecContext(ctx, `
		UPDATE alert_rules
		SET trigger_count = trigger_count + 1, last_triggered = ?, updated_at = ?
		WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to record rule trigger: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("alert rule %s: %w", id, ErrRuleNotFound)
	}
	return nil
}

var _ AlertRuleStorageInterface = (*SQLiteAlertRuleStorage)(nil)
