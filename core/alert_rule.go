package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RuleAction is the response an alert rule takes when it fires.
type RuleAction string

const (
	RuleActionLog     RuleAction = "log"
	RuleActionWebhook RuleAction = "webhook"
	RuleActionEmail   RuleAction = "email"
)

// IsValid checks if the rule action is a recognized value.
func (a RuleAction) IsValid() bool {
	switch a {
	case RuleActionLog, RuleActionWebhook, RuleActionEmail:
		return true
	}
	return false
}

// MatchAny is the wildcard value for rule condition fields.
const MatchAny = "any"

var timeframePattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseTimeframe converts a rule timeframe like "30s", "10m", "1h" or "1d"
// into a duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	m := timeframePattern.FindStringSubmatch(tf)
	if m == nil {
		return 0, NewValidationError("condition.timeframe", "invalid timeframe %q, expected <n>[smhd]", tf)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, NewValidationError("condition.timeframe", "invalid timeframe %q", tf)
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	default:
		return time.Duration(n) * 24 * time.Hour, nil
	}
}

// RuleCondition is the matching predicate of an alert rule: an event must
// match every non-wildcard field, and Count matching events must occur
// within Timeframe for the rule to fire.
type RuleCondition struct {
	EventType string `json:"event_type"`
	Source    string `json:"source"`
	Severity  string `json:"severity"`
	SiteID    string `json:"site_id"`
	Count     int    `json:"count"`
	Timeframe string `json:"timeframe"`
}

func matchesField(want, got string) bool {
	return want == "" || want == MatchAny || want == got
}

// Matches reports whether the event satisfies every non-wildcard field.
func (c RuleCondition) Matches(e *Event) bool {
	return matchesField(c.EventType, e.EventType) &&
		matchesField(c.Source, string(e.Source)) &&
		matchesField(c.Severity, string(e.Severity)) &&
		matchesField(c.SiteID, e.SiteID)
}

// Window returns the condition's timeframe as a duration.
func (c RuleCondition) Window() (time.Duration, error) {
	return ParseTimeframe(c.Timeframe)
}

// Validate checks the condition fields.
func (c RuleCondition) Validate() error {
	if c.Count < 1 {
		return NewValidationError("condition.count", "count must be at least 1")
	}
	if _, err := c.Window(); err != nil {
		return err
	}
	if c.Severity != "" && c.Severity != MatchAny && !Severity(c.Severity).IsValid() {
		return NewValidationError("condition.severity", "invalid severity %q", c.Severity)
	}
	if c.Source != "" && c.Source != MatchAny && !EventSource(c.Source).IsValid() {
		return NewValidationError("condition.source", "invalid source %q", c.Source)
	}
	return nil
}

// RuleActionConfig carries action-specific parameters.
type RuleActionConfig struct {
	// webhook
	URL string `json:"url,omitempty"`
	// email
	Recipients []string `json:"recipients,omitempty"`
}

// AlertRule is a threshold rule evaluated against ingested events.
// TriggerCount and LastTriggered are server-owned bookkeeping.
type AlertRule struct {
	ID            string           `json:"id"`
	Name          string           `json:"name" validate:"required,max=200"`
	Description   string           `json:"description,omitempty" validate:"max=2000"`
	Enabled       bool             `json:"enabled"`
	Condition     RuleCondition    `json:"condition"`
	Action        RuleAction       `json:"action"`
	ActionConfig  RuleActionConfig `json:"action_config"`
	Severity      Severity         `json:"severity"`
	LastTriggered *time.Time       `json:"last_triggered,omitempty"`
	TriggerCount  int64            `json:"trigger_count"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// GenerateRuleID returns a new short alert rule identifier.
func GenerateRuleID() string {
	return fmt.Sprintf("rule-%s", uuid.New().String()[:8])
}

// NewAlertRule creates an enabled rule with bookkeeping zeroed.
func NewAlertRule(name string, condition RuleCondition, action RuleAction, severity Severity) *AlertRule {
	now := time.Now().UTC()
	return &AlertRule{
		ID:        GenerateRuleID(),
		Name:      name,
		Enabled:   true,
		Condition: condition,
		Action:    action,
		Severity:  severity,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the rule definition.
func (r *AlertRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return NewValidationError("name", "name is required")
	}
	if err := checkTags(r); err != nil {
		return err
	}
	if !r.Action.IsValid() {
		return NewValidationError("action", "invalid action %q", r.Action)
	}
	if !r.Severity.IsValid() {
		return NewValidationError("severity", "invalid severity %q", r.Severity)
	}
	if err := r.Condition.Validate(); err != nil {
		return err
	}
	switch r.Action {
	case RuleActionWebhook:
		if strings.TrimSpace(r.ActionConfig.URL) == "" {
			return NewValidationError("action_config.url", "webhook actions require a url")
		}
	case RuleActionEmail:
		if len(r.ActionConfig.Recipients) == 0 {
			return NewValidationError("action_config.recipients", "email actions require recipients")
		}
	}
	return nil
}

// RecordTrigger bumps the server-owned fire bookkeeping.
func (r *AlertRule) RecordTrigger(at time.Time) {
	r.TriggerCount++
	t := at.UTC()
	r.LastTriggered = &t
	r.UpdatedAt = t
}
