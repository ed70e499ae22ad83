package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
)

func webhookRule(url string) *core.AlertRule {
	rule := core.NewAlertRule("Brute Force", core.RuleCondition{Count: 5, Timeframe: "10m"}, core.RuleActionWebhook, core.SeverityHigh)
	rule.ActionConfig.URL = url
	return rule
}

func TestNotifyRuleAction_Webhook(t *testing.T) {
	var received map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(nil, zap.NewNop().Sugar())
	rule := webhookRule(srv.URL)
	evt := core.NewEvent(core.SourceActiveDirectory, "failed_login", core.SeverityHigh, time.Time{})

	require.NoError(t, n.NotifyRuleAction(context.Background(), rule, evt))
	assert.Equal(t, rule.ID, received["rule_id"])
	assert.Equal(t, evt.ID, received["event_id"])
}

func TestNotifyRuleAction_Log(t *testing.T) {
	n := NewNotifier(nil, zap.NewNop().Sugar())
	rule := core.NewAlertRule("Quiet", core.RuleCondition{Count: 1, Timeframe: "1h"}, core.RuleActionLog, core.SeverityLow)
	evt := core.NewEvent(core.SourceFirewall, "port_scan", core.SeverityLow, time.Time{})

	require.NoError(t, n.NotifyRuleAction(context.Background(), rule, evt))
}

func TestNotifyRuleAction_WebhookFailureOpensCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(nil, zap.NewNop().Sugar())
	rule := webhookRule(srv.URL)
	evt := core.NewEvent(core.SourceFirewall, "port_scan", core.SeverityHigh, time.Time{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.Error(t, n.NotifyRuleAction(ctx, rule, evt))
	}

	err := n.NotifyRuleAction(ctx, rule, evt)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCircuitBreakerOpen)
}

func TestNotifyChannel(t *testing.T) {
	n := NewNotifier(nil, zap.NewNop().Sugar())

	require.NoError(t, n.NotifyChannel(context.Background(), "log", "subject", "message"))
	assert.Error(t, n.NotifyChannel(context.Background(), "slack", "subject", "message"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n = NewNotifier([]NotificationConfig{
		{Type: NotificationTypeSlack, Enabled: true, WebhookURL: srv.URL},
	}, zap.NewNop().Sugar())
	require.NoError(t, n.NotifyChannel(context.Background(), "slack", "subject", "message"))
}
