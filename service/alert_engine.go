package service

import (
	"context"

	"go.uber.org/zap"

	"argus/core"
	"argus/metrics"
	"argus/notify"
	"argus/storage"
)

// AlertEngine evaluates enabled alert rules against freshly ingested
// events. A rule fires when the event matches its condition and the number
// of matching events inside the rule's timeframe reaches the threshold;
// firing dispatches the rule's action and starts every active playbook
// bound to the rule.
type AlertEngine struct {
	rules     storage.AlertRuleStorageInterface
	events    storage.EventStorageInterface
	playbooks storage.PlaybookStorageInterface
	engine    *Engine
	notifier  *notify.Notifier
	hub       Broadcaster
	logger    *zap.SugaredLogger
}

// NewAlertEngine creates an alert engine. notifier and hub may be nil.
func NewAlertEngine(rules storage.AlertRuleStorageInterface, events storage.EventStorageInterface,
	playbooks storage.PlaybookStorageInterface, engine *Engine, notifier *notify.Notifier,
	hub Broadcaster, logger *zap.SugaredLogger) *AlertEngine {
	return &AlertEngine{
		rules:     rules,
		events:    events,
		playbooks: playbooks,
		engine:    engine,
		notifier:  notifier,
		hub:       hub,
		logger:    logger,
	}
}

// HandleEvent runs every enabled rule against the event. The event must
// already be persisted so the timeframe count includes it. Rule failures
// are logged and do not block other rules.
func (a *AlertEngine) HandleEvent(ctx context.Context, evt *core.Event) {
	rules, err := a.rules.ListRules(ctx, true)
	if err != nil {
		a.logger.Errorw("Failed to load alert rules", "error", err)
		return
	}

	for i := range rules {
		rule := &rules[i]
		if !rule.Condition.Matches(evt) {
			continue
		}
		window, err := rule.Condition.Window()
		if err != nil {
			a.logger.Warnw("Alert rule has invalid timeframe, skipping",
				"rule_id", rule.ID, "timeframe", rule.Condition.Timeframe)
			continue
		}
		count, err := a.events.CountMatchingSince(ctx, rule.Condition, evt.Timestamp.Add(-window))
		if err != nil {
			a.logger.Errorw("Failed to count events for rule", "rule_id", rule.ID, "error", err)
			continue
		}
		if count < int64(rule.Condition.Count) {
			continue
		}
		a.fire(ctx, rule, evt)
	}
}

func (a *AlertEngine) fire(ctx context.Context, rule *core.AlertRule, evt *core.Event) {
	if err := a.rules.RecordRuleTrigger(ctx, rule.ID, evt.Timestamp); err != nil {
		a.logger.Errorw("Failed to record rule trigger", "rule_id", rule.ID, "error", err)
	}
	metrics.AlertsTriggered.WithLabelValues(string(rule.Severity)).Inc()
	a.logger.Infow("Alert rule fired",
		"rule_id", rule.ID, "rule_name", rule.Name, "event_id", evt.ID, "severity", rule.Severity)

	if a.notifier != nil {
		if err := a.notifier.NotifyRuleAction(ctx, rule, evt); err != nil {
			a.logger.Warnw("Rule action delivery failed", "rule_id", rule.ID, "error", err)
		}
		a.notifier.NotifyRuleTriggered(ctx, rule, evt)
	}
	if a.hub != nil {
		if err := a.hub.BroadcastMessage("alert:triggered", map[string]interface{}{
			"rule_id":   rule.ID,
			"rule_name": rule.Name,
			"severity":  rule.Severity,
			"event_id":  evt.ID,
		}); err != nil {
			a.logger.Debugw("Alert broadcast failed", "rule_id", rule.ID, "error", err)
		}
	}

	a.launchBoundPlaybooks(ctx, rule, evt)
}

// launchBoundPlaybooks starts every active playbook whose alert_rule
// trigger names this rule.
func (a *AlertEngine) launchBoundPlaybooks(ctx context.Context, rule *core.AlertRule, evt *core.Event) {
	playbooks, err := a.playbooks.ListPlaybooksByTrigger(ctx, core.TriggerAlertRule, core.PlaybookStatusActive)
	if err != nil {
		a.logger.Errorw("Failed to load rule-bound playbooks", "rule_id", rule.ID, "error", err)
		return
	}
	for _, p := range playbooks {
		if p.TriggerConfig.RuleName != rule.Name {
			continue
		}
		exec, err := a.engine.Execute(ctx, p.ID, rule.ID, evt.ID, "system")
		if err != nil {
			a.logger.Errorw("Failed to start rule-triggered execution",
				"playbook_id", p.ID, "rule_id", rule.ID, "error", err)
			continue
		}
		a.logger.Infow("Rule-triggered execution started",
			"execution_id", exec.ID, "playbook_id", p.ID, "rule_id", rule.ID, "event_id", evt.ID)
	}
}
