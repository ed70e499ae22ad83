package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
	"argus/service"
	"argus/storage"
)

const sampleSeed = `
playbooks:
  - name: Phishing Response
    description: Standard phishing triage
    category: incident
    status: active
    trigger: alert_rule
    trigger_config:
      rule_name: Brute Force Detection
    steps:
      - name: Isolate host
        type: action
        config:
          action_id: isolate-host
      - name: Confirm containment
        type: manual
        config:
          instructions: Verify the host is off the network

alert_rules:
  - name: Brute Force Detection
    description: Repeated failed logins
    condition:
      event_type: failed_login
      source: active_directory
      count: 5
      timeframe: 10m
    action: log
    severity: high
  - name: Disabled Rule
    enabled: false
    condition:
      event_type: any
      count: 1
      timeframe: 1h
    action: log
    severity: low

events:
  - source: firewall
    event_type: port_scan
    severity: medium
    site_id: hq
  - source: active_directory
    event_type: failed_login
    severity: low
`

func seedTestStores(t *testing.T) *seedStores {
	t.Helper()
	sugar := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(":memory:", sugar)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return &seedStores{
		registry: service.NewRegistry(storage.NewSQLitePlaybookStorage(db, sugar), sugar),
		rules:    storage.NewSQLiteAlertRuleStorage(db, sugar),
		events:   storage.NewSQLiteEventStorage(db, sugar),
	}
}

func TestParseSeedFile(t *testing.T) {
	seed, err := parseSeedFile([]byte(sampleSeed))
	require.NoError(t, err)

	require.Len(t, seed.Playbooks, 1)
	require.Len(t, seed.AlertRules, 2)
	require.Len(t, seed.Events, 2)

	pb := seed.Playbooks[0]
	assert.Equal(t, "Phishing Response", pb.Name)
	assert.Equal(t, "active", pb.Status)
	assert.Equal(t, "Brute Force Detection", pb.TriggerConfig.RuleName)
	require.Len(t, pb.Steps, 2)
	assert.Equal(t, "isolate-host", pb.Steps[0].Config.ActionID)

	require.NotNil(t, seed.AlertRules[1].Enabled)
	assert.False(t, *seed.AlertRules[1].Enabled)
}

func TestParseSeedFile_Invalid(t *testing.T) {
	_, err := parseSeedFile([]byte("playbooks: [not: {valid"))
	assert.Error(t, err)
}

func TestApplySeed(t *testing.T) {
	stores := seedTestStores(t)
	ctx := context.Background()

	seed, err := parseSeedFile([]byte(sampleSeed))
	require.NoError(t, err)

	summary := applySeed(ctx, seed, stores, "seed")
	assert.Equal(t, 1, summary.Playbooks)
	assert.Equal(t, 2, summary.Rules)
	assert.Equal(t, 2, summary.Events)
	assert.Equal(t, 0, summary.Failed)

	playbooks, total, err := stores.registry.List(ctx, storage.PlaybookFilters{}, 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, core.PlaybookStatusActive, playbooks[0].Status)
	assert.Equal(t, "seed", playbooks[0].CreatedBy)
	assert.Equal(t, core.TriggerAlertRule, playbooks[0].Trigger)

	rules, err := stores.rules.ListRules(ctx, false)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	enabled, err := stores.rules.ListRules(ctx, true)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "Brute Force Detection", enabled[0].Name)

	_, eventTotal, err := stores.events.ListEvents(ctx, storage.EventFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), eventTotal)
}

func TestApplySeed_CountsFailures(t *testing.T) {
	stores := seedTestStores(t)
	ctx := context.Background()

	seed := &seedFile{
		AlertRules: []seedAlertRule{
			{Name: ""}, // missing everything
		},
		Events: []seedEvent{
			{Source: "carrier_pigeon", EventType: "port_scan", Severity: "high"},
		},
	}

	summary := applySeed(ctx, seed, stores, "seed")
	assert.Equal(t, 0, summary.Rules)
	assert.Equal(t, 0, summary.Events)
	assert.Equal(t, 2, summary.Failed)
}

func TestApplySeed_DraftByDefault(t *testing.T) {
	stores := seedTestStores(t)
	ctx := context.Background()

	seed := &seedFile{
		Playbooks: []seedPlaybook{
			{Name: "Draft Playbook", Category: "incident"},
		},
	}

	summary := applySeed(ctx, seed, stores, "seed")
	require.Equal(t, 1, summary.Playbooks)

	playbooks, _, err := stores.registry.List(ctx, storage.PlaybookFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, core.PlaybookStatusDraft, playbooks[0].Status)
}

func TestValidateFilePath(t *testing.T) {
	assert.NoError(t, validateFilePath("seed.yaml"))
	assert.NoError(t, validateFilePath("./testdata/seed.yaml"))
	assert.Error(t, validateFilePath("../outside.yaml"))
	assert.Error(t, validateFilePath("%2e%2e/outside.yaml"))
	assert.Error(t, validateFilePath("/etc/passwd"))
}
