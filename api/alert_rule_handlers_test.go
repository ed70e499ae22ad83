package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/core"
)

func rulePayload(name string, count int) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"description": "repeated failed logins",
		"condition": map[string]interface{}{
			"event_type": "failed_login",
			"source":     "active_directory",
			"count":      count,
			"timeframe":  "10m",
		},
		"action":   "log",
		"severity": "high",
	}
}

func (ta *testAPI) createRule(t *testing.T, name string, count int) *core.AlertRule {
	t.Helper()
	var rule core.AlertRule
	rec := ta.do(t, http.MethodPost, "/api/alert-rules", rulePayload(name, count), &rule)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return &rule
}

func TestCreateAlertRule(t *testing.T) {
	ta := newTestAPI(t)

	rule := ta.createRule(t, "Brute Force Detection", 5)
	assert.True(t, rule.Enabled)
	assert.Equal(t, int64(0), rule.TriggerCount)
	assert.Equal(t, core.RuleActionLog, rule.Action)
}

func TestCreateAlertRule_Validation(t *testing.T) {
	ta := newTestAPI(t)

	payload := rulePayload("", 5)
	rec := ta.do(t, http.MethodPost, "/api/alert-rules", payload, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload = rulePayload("Bad Timeframe", 5)
	payload["condition"].(map[string]interface{})["timeframe"] = "fortnight"
	rec = ta.do(t, http.MethodPost, "/api/alert-rules", payload, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload = rulePayload("Webhook Without URL", 5)
	payload["action"] = "webhook"
	rec = ta.do(t, http.MethodPost, "/api/alert-rules", payload, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAlertRule_DuplicateName(t *testing.T) {
	ta := newTestAPI(t)

	ta.createRule(t, "Brute Force Detection", 5)
	rec := ta.do(t, http.MethodPost, "/api/alert-rules", rulePayload("Brute Force Detection", 5), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateAlertRule(t *testing.T) {
	ta := newTestAPI(t)
	rule := ta.createRule(t, "Brute Force Detection", 5)

	payload := rulePayload("Brute Force Detection", 10)
	payload["severity"] = "critical"
	var updated core.AlertRule
	rec := ta.do(t, http.MethodPut, "/api/alert-rules/"+rule.ID, payload, &updated)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 10, updated.Condition.Count)
	assert.Equal(t, core.SeverityCritical, updated.Severity)
}

func TestToggleAlertRule(t *testing.T) {
	ta := newTestAPI(t)
	rule := ta.createRule(t, "Brute Force Detection", 5)

	var toggled core.AlertRule
	rec := ta.do(t, http.MethodPost, "/api/alert-rules/"+rule.ID+"/toggle", nil, &toggled)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, toggled.Enabled)

	rec = ta.do(t, http.MethodPost, "/api/alert-rules/"+rule.ID+"/toggle", nil, &toggled)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, toggled.Enabled)
}

func TestDeleteAlertRule(t *testing.T) {
	ta := newTestAPI(t)
	rule := ta.createRule(t, "Brute Force Detection", 5)

	rec := ta.do(t, http.MethodDelete, "/api/alert-rules/"+rule.ID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(t, http.MethodGet, "/api/alert-rules/"+rule.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Ingesting events through the API runs the alert engine: reaching the rule
// threshold fires the rule and starts the bound playbook as "system".
func TestIngestFiresRuleAndStartsPlaybook(t *testing.T) {
	ta := newTestAPI(t)
	rule := ta.createRule(t, "Brute Force Detection", 3)

	payload := playbookPayload("Account Lockdown")
	payload["trigger"] = "alert_rule"
	payload["trigger_config"] = map[string]interface{}{"rule_name": rule.Name}
	var bound core.Playbook
	rec := ta.do(t, http.MethodPost, "/api/playbooks", payload, &bound)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ta.activatePlaybook(t, bound.ID)

	failedLogin := map[string]interface{}{
		"source":     "active_directory",
		"event_type": "failed_login",
		"severity":   "medium",
	}
	for i := 0; i < 3; i++ {
		rec = ta.do(t, http.MethodPost, "/api/ingest", failedLogin, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	var got core.AlertRule
	rec = ta.do(t, http.MethodGet, "/api/alert-rules/"+rule.ID, nil, &got)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), got.TriggerCount)

	var list struct {
		Items []core.Execution `json:"items"`
		Total int64            `json:"total"`
	}
	rec = ta.do(t, http.MethodGet, "/api/playbook-executions?playbook_id="+bound.ID, nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), list.Total)
	assert.Equal(t, "system", list.Items[0].StartedBy)
	assert.Equal(t, rule.ID, list.Items[0].TriggeredByAlertID)
	assert.NotEmpty(t, list.Items[0].TriggeredByEventID)
}
