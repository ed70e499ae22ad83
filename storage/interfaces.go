package storage

import (
	"context"
	"time"

	"argus/core"
)

// PlaybookFilters narrows playbook listings. Zero values mean "no filter";
// Search does a case-insensitive substring match on name and description.
type PlaybookFilters struct {
	Status   string
	Category string
	Search   string
}

// ExecutionFilters narrows execution listings. ActiveOnly is shorthand for
// Status = in_progress.
type ExecutionFilters struct {
	Status     string
	PlaybookID string
	ActiveOnly bool
}

// EventFilters narrows event listings.
type EventFilters struct {
	Severity string
	Status   string
	Source   string
	SiteID   string
	Search   string
}

// PlaybookStorageInterface defines playbook persistence operations.
type PlaybookStorageInterface interface {
	CreatePlaybook(ctx context.Context, p *core.Playbook) error
	GetPlaybook(ctx context.Context, id string) (*core.Playbook, error)
	ListPlaybooks(ctx context.Context, filters PlaybookFilters, limit, offset int) ([]core.Playbook, int64, error)
	ListPlaybooksByTrigger(ctx context.Context, trigger core.TriggerType, status core.PlaybookStatus) ([]core.Playbook, error)
	UpdatePlaybook(ctx context.Context, p *core.Playbook) error
	DeletePlaybook(ctx context.Context, id string) error
}

// ExecutionStorageInterface defines execution persistence operations.
// CreateExecution atomically inserts the run and bumps the parent
// playbook's triggered_count/last_run; UpdateExecution is a compare-and-swap
// on the execution's version counter.
type ExecutionStorageInterface interface {
	CreateExecution(ctx context.Context, exec *core.Execution) error
	GetExecution(ctx context.Context, id string) (*core.Execution, error)
	ListExecutions(ctx context.Context, filters ExecutionFilters, limit, offset int) ([]core.Execution, int64, error)
	UpdateExecution(ctx context.Context, exec *core.Execution, expectedVersion int64) error
	CountExecutionsByStatus(ctx context.Context) (map[string]int64, error)
}

// EventStorageInterface defines security event persistence operations.
type EventStorageInterface interface {
	CreateEvent(ctx context.Context, e *core.Event) error
	CreateEvents(ctx context.Context, events []*core.Event) error
	GetEvent(ctx context.Context, id string) (*core.Event, error)
	ListEvents(ctx context.Context, filters EventFilters, limit, offset int) ([]core.Event, int64, error)
	UpdateEvent(ctx context.Context, e *core.Event) error
	CountMatchingSince(ctx context.Context, cond core.RuleCondition, since time.Time) (int64, error)
	CountEventsBySeverity(ctx context.Context) (map[string]int64, error)
	CountEventsByStatus(ctx context.Context) (map[string]int64, error)
}

// AlertRuleStorageInterface defines alert rule persistence operations.
type AlertRuleStorageInterface interface {
	CreateRule(ctx context.Context, r *core.AlertRule) error
	GetRule(ctx context.Context, id string) (*core.AlertRule, error)
	ListRules(ctx context.Context, enabledOnly bool) ([]core.AlertRule, error)
	UpdateRule(ctx context.Context, r *core.AlertRule) error
	DeleteRule(ctx context.Context, id string) error
	RecordRuleTrigger(ctx context.Context, id string, at time.Time) error
}
