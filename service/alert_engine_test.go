package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
	"argus/storage"
)

type alertFixture struct {
	alerts    *AlertEngine
	engine    *Engine
	registry  *Registry
	rules     storage.AlertRuleStorageInterface
	events    storage.EventStorageInterface
	playbooks storage.PlaybookStorageInterface
	hub       *recordingHub
}

func setupAlertEngine(t *testing.T) *alertFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	playbooks := storage.NewSQLitePlaybookStorage(db, logger)
	executions := storage.NewSQLiteExecutionStorage(db, logger)
	events := storage.NewSQLiteEventStorage(db, logger)
	rules := storage.NewSQLiteAlertRuleStorage(db, logger)
	hub := &recordingHub{}
	engine := NewEngine(playbooks, executions, nil, hub, logger)
	return &alertFixture{
		alerts:    NewAlertEngine(rules, events, playbooks, engine, nil, hub, logger),
		engine:    engine,
		registry:  NewRegistry(playbooks, logger),
		rules:     rules,
		events:    events,
		playbooks: playbooks,
		hub:       hub,
	}
}

// ingest persists an event and runs the rules against it, the way the API
// ingestion path does.
func (f *alertFixture) ingest(t *testing.T, evt *core.Event) {
	t.Helper()
	require.NoError(t, f.events.CreateEvent(context.Background(), evt))
	f.alerts.HandleEvent(context.Background(), evt)
}

func bruteForceRule(t *testing.T, f *alertFixture, count int) *core.AlertRule {
	t.Helper()
	rule := core.NewAlertRule("Brute Force Detection", core.RuleCondition{
		EventType: "failed_login",
		Source:    string(core.SourceActiveDirectory),
		Count:     count,
		Timeframe: "10m",
	}, core.RuleActionLog, core.SeverityHigh)
	require.NoError(t, f.rules.CreateRule(context.Background(), rule))
	return rule
}

func failedLogin(at time.Time) *core.Event {
	return core.NewEvent(core.SourceActiveDirectory, "failed_login", core.SeverityMedium, at)
}

func TestAlertEngine_FiresAtThreshold(t *testing.T) {
	f := setupAlertEngine(t)
	ctx := context.Background()
	rule := bruteForceRule(t, f, 3)

	now := time.Now().UTC()
	f.ingest(t, failedLogin(now.Add(-2*time.Minute)))
	f.ingest(t, failedLogin(now.Add(-time.Minute)))

	got, err := f.rules.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TriggerCount)
	assert.Equal(t, 0, f.hub.count("alert:triggered"))

	f.ingest(t, failedLogin(now))

	got, err = f.rules.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TriggerCount)
	require.NotNil(t, got.LastTriggered)
	assert.Equal(t, 1, f.hub.count("alert:triggered"))
}

func TestAlertEngine_EventsOutsideWindowIgnored(t *testing.T) {
	f := setupAlertEngine(t)
	ctx := context.Background()
	rule := bruteForceRule(t, f, 3)

	now := time.Now().UTC()
	// two stale events outside the 10m window
	f.ingest(t, failedLogin(now.Add(-time.Hour)))
	f.ingest(t, failedLogin(now.Add(-30*time.Minute)))
	f.ingest(t, failedLogin(now))

	got, err := f.rules.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TriggerCount)
}

func TestAlertEngine_NonMatchingEventSkipped(t *testing.T) {
	f := setupAlertEngine(t)
	ctx := context.Background()
	rule := bruteForceRule(t, f, 1)

	evt := core.NewEvent(core.SourceFirewall, "port_scan", core.SeverityLow, time.Now().UTC())
	f.ingest(t, evt)

	got, err := f.rules.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TriggerCount)
}

func TestAlertEngine_DisabledRuleNeverFires(t *testing.T) {
	f := setupAlertEngine(t)
	ctx := context.Background()
	rule := bruteForceRule(t, f, 1)
	rule.Enabled = false
	require.NoError(t, f.rules.UpdateRule(ctx, rule))

	f.ingest(t, failedLogin(time.Now().UTC()))

	got, err := f.rules.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TriggerCount)
}

// A fired rule starts every active playbook bound to it by name, recording
// the triggering rule and event on the execution.
func TestAlertEngine_LaunchesBoundPlaybooks(t *testing.T) {
	f := setupAlertEngine(t)
	ctx := context.Background()
	rule := bruteForceRule(t, f, 1)

	bound := core.NewPlaybook("Account Lockdown", "lock accounts", core.CategoryIncident, "alice")
	bound.Trigger = core.TriggerAlertRule
	bound.TriggerConfig = core.TriggerConfig{RuleName: rule.Name}
	bound.Steps = []core.PlaybookStep{
		{Order: 1, Name: "Disable account", Type: core.StepTypeAction, Config: core.StepConfig{ActionID: "disable-account"}},
	}
	require.NoError(t, f.registry.Create(ctx, bound))
	_, err := f.registry.Toggle(ctx, bound.ID)
	require.NoError(t, err)

	// bound to a different rule, must not start
	other := core.NewPlaybook("Other Response", "unrelated", core.CategoryIncident, "alice")
	other.Trigger = core.TriggerAlertRule
	other.TriggerConfig = core.TriggerConfig{RuleName: "Some Other Rule"}
	other.Steps = []core.PlaybookStep{
		{Order: 1, Name: "Noop", Type: core.StepTypeAction, Config: core.StepConfig{ActionID: "noop"}},
	}
	require.NoError(t, f.registry.Create(ctx, other))
	_, err = f.registry.Toggle(ctx, other.ID)
	require.NoError(t, err)

	evt := failedLogin(time.Now().UTC())
	f.ingest(t, evt)

	execs, total, err := f.engine.List(ctx, storage.ExecutionFilters{}, 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	exec := execs[0]
	assert.Equal(t, bound.ID, exec.PlaybookID)
	assert.Equal(t, "system", exec.StartedBy)
	assert.Equal(t, rule.ID, exec.TriggeredByAlertID)
	assert.Equal(t, evt.ID, exec.TriggeredByEventID)
}

// A draft playbook bound to the rule stays untouched even when the rule
// fires.
func TestAlertEngine_DraftBoundPlaybookNotLaunched(t *testing.T) {
	f := setupAlertEngine(t)
	ctx := context.Background()
	rule := bruteForceRule(t, f, 1)

	bound := core.NewPlaybook("Account Lockdown", "lock accounts", core.CategoryIncident, "alice")
	bound.Trigger = core.TriggerAlertRule
	bound.TriggerConfig = core.TriggerConfig{RuleName: rule.Name}
	bound.Steps = []core.PlaybookStep{
		{Order: 1, Name: "Disable account", Type: core.StepTypeAction, Config: core.StepConfig{ActionID: "disable-account"}},
	}
	require.NoError(t, f.registry.Create(ctx, bound))

	f.ingest(t, failedLogin(time.Now().UTC()))

	_, total, err := f.engine.List(ctx, storage.ExecutionFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	// the rule itself still fired
	got, err := f.rules.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TriggerCount)
}
