package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
)

func setupRuleStorage(t *testing.T) *SQLiteAlertRuleStorage {
	t.Helper()
	return NewSQLiteAlertRuleStorage(setupTestDB(t), zap.NewNop().Sugar())
}

func testRule(name string) *core.AlertRule {
	return core.NewAlertRule(name, core.RuleCondition{
		EventType: "failed_login",
		Source:    "active_directory",
		Severity:  core.MatchAny,
		Count:     5,
		Timeframe: "10m",
	}, core.RuleActionLog, core.SeverityHigh)
}

func TestCreateAndGetRule(t *testing.T) {
	s := setupRuleStorage(t)
	ctx := context.Background()

	r := testRule("Brute Force")
	require.NoError(t, s.CreateRule(ctx, r))

	got, err := s.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Brute Force", got.Name)
	assert.True(t, got.Enabled)
	assert.Equal(t, 5, got.Condition.Count)
	assert.Equal(t, "10m", got.Condition.Timeframe)
	assert.Equal(t, int64(0), got.TriggerCount)

	_, err = s.GetRule(ctx, "rule-missing")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestCreateRule_DuplicateName(t *testing.T) {
	s := setupRuleStorage(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRule(ctx, testRule("Brute Force")))
	err := s.CreateRule(ctx, testRule("Brute Force"))
	assert.ErrorIs(t, err, ErrRuleNameExists)
}

func TestListRules_EnabledOnly(t *testing.T) {
	s := setupRuleStorage(t)
	ctx := context.Background()

	enabled := testRule("Brute Force")
	require.NoError(t, s.CreateRule(ctx, enabled))

	disabled := testRule("Dormant")
	disabled.Enabled = false
	require.NoError(t, s.CreateRule(ctx, disabled))

	all, err := s.ListRules(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	live, err := s.ListRules(ctx, true)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, enabled.ID, live[0].ID)
}

func TestUpdateRule(t *testing.T) {
	s := setupRuleStorage(t)
	ctx := context.Background()

	r := testRule("Brute Force")
	require.NoError(t, s.CreateRule(ctx, r))

	r.Enabled = false
	r.Condition.Count = 10
	r.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.UpdateRule(ctx, r))

	got, err := s.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, 10, got.Condition.Count)
}

func TestDeleteRule(t *testing.T) {
	s := setupRuleStorage(t)
	ctx := context.Background()

	r := testRule("Brute Force")
	require.NoError(t, s.CreateRule(ctx, r))
	require.NoError(t, s.DeleteRule(ctx, r.ID))
	assert.ErrorIs(t, s.DeleteRule(ctx, r.ID), ErrRuleNotFound)
}

func TestRecordRuleTrigger(t *testing.T) {
	s := setupRuleStorage(t)
	ctx := context.Background()

	r := testRule("Brute Force")
	require.NoError(t, s.CreateRule(ctx, r))

	at := time.Now().UTC()
	require.NoError(t, s.RecordRuleTrigger(ctx, r.ID, at))
	require.NoError(t, s.RecordRuleTrigger(ctx, r.ID, at.Add(time.Minute)))

	got, err := s.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TriggerCount)
	require.NotNil(t, got.LastTriggered)

	assert.ErrorIs(t, s.RecordRuleTrigger(ctx, "rule-missing", at), ErrRuleNotFound)
}
