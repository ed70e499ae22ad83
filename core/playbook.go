package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlaybookStatus represents the lifecycle state of a playbook.
type PlaybookStatus string

const (
	PlaybookStatusDraft    PlaybookStatus = "draft"
	PlaybookStatusActive   PlaybookStatus = "active"
	PlaybookStatusArchived PlaybookStatus = "archived"
)

// IsValid checks if the playbook status is a recognized value.
func (s PlaybookStatus) IsValid() bool {
	switch s {
	case PlaybookStatusDraft, PlaybookStatusActive, PlaybookStatusArchived:
		return true
	}
	return false
}

// TriggerType represents how a playbook execution is started.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerAlertRule TriggerType = "alert_rule"
	TriggerScheduled TriggerType = "scheduled"
)

// IsValid checks if the trigger type is a recognized value.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerManual, TriggerAlertRule, TriggerScheduled:
		return true
	}
	return false
}

// PlaybookCategory classifies a playbook for filtering in the UI.
type PlaybookCategory string

const (
	CategoryIncident      PlaybookCategory = "incident"
	CategoryInvestigation PlaybookCategory = "investigation"
	CategoryRemediation   PlaybookCategory = "remediation"
	CategoryCompliance    PlaybookCategory = "compliance"
)

// IsValid checks if the category is a recognized value.
func (c PlaybookCategory) IsValid() bool {
	switch c {
	case CategoryIncident, CategoryInvestigation, CategoryRemediation, CategoryCompliance:
		return true
	}
	return false
}

// StepType represents the kind of work a playbook step performs.
type StepType string

const (
	StepTypeAction       StepType = "action"
	StepTypeCondition    StepType = "condition"
	StepTypeNotification StepType = "notification"
	StepTypeManual       StepType = "manual"
)

// IsValid checks if the step type is a recognized value.
func (t StepType) IsValid() bool {
	switch t {
	case StepTypeAction, StepTypeCondition, StepTypeNotification, StepTypeManual:
		return true
	}
	return false
}

// StepConfig carries the type-specific parameters of a playbook step.
// Only the fields matching the step's type are meaningful; ValidateFor
// enforces the required ones.
type StepConfig struct {
	// action
	ActionID string `json:"action_id,omitempty"`
	// condition
	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    string `json:"value,omitempty"`
	// notification
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`
	// manual
	Instructions string `json:"instructions,omitempty"`
	AssigneeRole string `json:"assignee_role,omitempty"`
}

var conditionOperators = map[string]bool{
	"equals":       true,
	"not_equals":   true,
	"contains":     true,
	"greater_than": true,
	"less_than":    true,
}

// ValidateFor checks that the config carries the fields the step type requires.
func (c StepConfig) ValidateFor(t StepType) error {
	switch t {
	case StepTypeAction:
		if strings.TrimSpace(c.ActionID) == "" {
			return NewValidationError("config.action_id", "action steps require an action_id")
		}
	case StepTypeCondition:
		if strings.TrimSpace(c.Field) == "" {
			return NewValidationError("config.field", "condition steps require a field")
		}
		if !conditionOperators[c.Operator] {
			return NewValidationError("config.operator", "unknown condition operator %q", c.Operator)
		}
	case StepTypeNotification:
		if strings.TrimSpace(c.Channel) == "" {
			return NewValidationError("config.channel", "notification steps require a channel")
		}
	case StepTypeManual:
		if strings.TrimSpace(c.Instructions) == "" {
			return NewValidationError("config.instructions", "manual steps require instructions")
		}
	}
	return nil
}

// TriggerConfig carries trigger-specific parameters for a playbook.
type TriggerConfig struct {
	// alert_rule
	RuleName string `json:"rule_name,omitempty"`
	// scheduled
	Cron string `json:"cron,omitempty"`
}

// ValidateFor checks that the config matches the trigger type.
func (c TriggerConfig) ValidateFor(t TriggerType) error {
	switch t {
	case TriggerAlertRule:
		if strings.TrimSpace(c.RuleName) == "" {
			return NewValidationError("trigger_config.rule_name", "alert_rule triggers require a rule_name")
		}
	case TriggerScheduled:
		if strings.TrimSpace(c.Cron) == "" {
			return NewValidationError("trigger_config.cron", "scheduled triggers require a cron expression")
		}
	}
	return nil
}

// PlaybookStep is a single ordered step within a playbook definition.
type PlaybookStep struct {
	Order       int        `json:"order" validate:"min=1"`
	Name        string     `json:"name" validate:"required,max=200"`
	Type        StepType   `json:"type"`
	Description string     `json:"description,omitempty" validate:"max=2000"`
	Config      StepConfig `json:"config"`
}

// Playbook is an incident-response runbook: an ordered list of steps plus
// trigger and lifecycle metadata. TriggeredCount, LastRun and AvgDurationMs
// are owned by the execution engine and ignored on client writes.
type Playbook struct {
	ID             string           `json:"id"`
	Name           string           `json:"name" validate:"required,max=200"`
	Description    string           `json:"description,omitempty" validate:"max=2000"`
	Status         PlaybookStatus   `json:"status"`
	Trigger        TriggerType      `json:"trigger"`
	TriggerConfig  TriggerConfig    `json:"trigger_config"`
	Category       PlaybookCategory `json:"category"`
	Steps          []PlaybookStep   `json:"steps"`
	TriggeredCount int64            `json:"triggered_count"`
	LastRun        *time.Time       `json:"last_run,omitempty"`
	AvgDurationMs  float64          `json:"avg_duration_ms"`
	CreatedBy      string           `json:"created_by"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// GeneratePlaybookID returns a new short playbook identifier.
func GeneratePlaybookID() string {
	return fmt.Sprintf("pb-%s", uuid.New().String()[:8])
}

// NewPlaybook creates a draft playbook with engine-owned stats zeroed.
func NewPlaybook(name, description string, category PlaybookCategory, createdBy string) *Playbook {
	now := time.Now().UTC()
	return &Playbook{
		ID:          GeneratePlaybookID(),
		Name:        name,
		Description: description,
		Status:      PlaybookStatusDraft,
		Trigger:     TriggerManual,
		Category:    category,
		Steps:       []PlaybookStep{},
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NormalizeSteps sorts steps by order and renumbers them contiguously from 1.
func (p *Playbook) NormalizeSteps() {
	sort.SliceStable(p.Steps, func(i, j int) bool {
		return p.Steps[i].Order < p.Steps[j].Order
	})
	for i := range p.Steps {
		p.Steps[i].Order = i + 1
	}
}

// Validate checks the playbook definition. Steps must already be normalized;
// callers use NormalizeSteps before validating client input.
func (p *Playbook) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return NewValidationError("name", "name is required")
	}
	if err := checkTags(p); err != nil {
		return err
	}
	if !p.Status.IsValid() {
		return NewValidationError("status", "invalid status %q", p.Status)
	}
	if !p.Trigger.IsValid() {
		return NewValidationError("trigger", "invalid trigger %q", p.Trigger)
	}
	if err := p.TriggerConfig.ValidateFor(p.Trigger); err != nil {
		return err
	}
	if !p.Category.IsValid() {
		return NewValidationError("category", "invalid category %q", p.Category)
	}
	for i, step := range p.Steps {
		if step.Order != i+1 {
			return NewValidationError("steps", "step orders must be contiguous starting at 1")
		}
		if strings.TrimSpace(step.Name) == "" {
			return NewValidationError("steps", "step %d: name is required", step.Order)
		}
		if !step.Type.IsValid() {
			return NewValidationError("steps", "step %d: invalid type %q", step.Order, step.Type)
		}
		if err := step.Config.ValidateFor(step.Type); err != nil {
			return NewValidationError("steps", "step %d: %s", step.Order, err.Error())
		}
	}
	return nil
}

// IsActive reports whether the playbook can be executed.
func (p *Playbook) IsActive() bool {
	return p.Status == PlaybookStatusActive
}

// Toggle flips the playbook between draft and active. Archived playbooks
// cannot be toggled back into rotation.
func (p *Playbook) Toggle() error {
	switch p.Status {
	case PlaybookStatusDraft:
		p.Status = PlaybookStatusActive
	case PlaybookStatusActive:
		p.Status = PlaybookStatusDraft
	case PlaybookStatusArchived:
		return fmt.Errorf("playbook %s is archived: %w", p.ID, ErrInvalidState)
	default:
		return fmt.Errorf("playbook %s has unknown status %q: %w", p.ID, p.Status, ErrInvalidState)
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Archive moves the playbook to archived status. Archiving is idempotent.
func (p *Playbook) Archive() {
	p.Status = PlaybookStatusArchived
	p.UpdatedAt = time.Now().UTC()
}

// Duplicate returns a deep copy with a new ID, "<name> (Copy)" name, draft
// status and zeroed execution stats.
func (p *Playbook) Duplicate(createdBy string) *Playbook {
	now := time.Now().UTC()
	steps := make([]PlaybookStep, len(p.Steps))
	copy(steps, p.Steps)
	return &Playbook{
		ID:            GeneratePlaybookID(),
		Name:          fmt.Sprintf("%s (Copy)", p.Name),
		Description:   p.Description,
		Status:        PlaybookStatusDraft,
		Trigger:       p.Trigger,
		TriggerConfig: p.TriggerConfig,
		Category:      p.Category,
		Steps:         steps,
		CreatedBy:     createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
