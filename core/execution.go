package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the lifecycle state of a playbook execution.
// in_progress is the only non-terminal state.
type ExecutionStatus string

const (
	ExecutionStatusInProgress ExecutionStatus = "in_progress"
	ExecutionStatusCompleted  ExecutionStatus = "completed"
	ExecutionStatusAborted    ExecutionStatus = "aborted"
	ExecutionStatusFailed     ExecutionStatus = "failed"
)

// IsValid checks if the execution status is a recognized value.
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionStatusInProgress, ExecutionStatusCompleted, ExecutionStatusAborted, ExecutionStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status is final.
func (s ExecutionStatus) IsTerminal() bool {
	return s.IsValid() && s != ExecutionStatusInProgress
}

// StepRunStatus represents the state of a single step within an execution.
type StepRunStatus string

const (
	StepRunPending   StepRunStatus = "pending"
	StepRunRunning   StepRunStatus = "running"
	StepRunCompleted StepRunStatus = "completed"
	StepRunFailed    StepRunStatus = "failed"
	StepRunSkipped   StepRunStatus = "skipped"
)

// IsValid checks if the step run status is a recognized value.
func (s StepRunStatus) IsValid() bool {
	switch s {
	case StepRunPending, StepRunRunning, StepRunCompleted, StepRunFailed, StepRunSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether the step status resolves the step.
func (s StepRunStatus) IsTerminal() bool {
	switch s {
	case StepRunCompleted, StepRunFailed, StepRunSkipped:
		return true
	}
	return false
}

// ExecutionStep is the mutable run-state of one step, cloned from the
// playbook's step template when the execution starts.
type ExecutionStep struct {
	Order       int           `json:"order"`
	Name        string        `json:"name"`
	Type        StepType      `json:"type"`
	Description string        `json:"description,omitempty"`
	Config      StepConfig    `json:"config"`
	Status      StepRunStatus `json:"status"`
	Result      string        `json:"result,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	CompletedBy string        `json:"completed_by,omitempty"`
}

// Execution is one concrete run of a playbook. StepsData is an independent
// deep copy of the playbook's steps at start time; later playbook edits never
// affect it. Version is an optimistic lock counter incremented on every
// persisted write.
type Execution struct {
	ID                 string          `json:"id"`
	PlaybookID         string          `json:"playbook_id"`
	PlaybookName       string          `json:"playbook_name"`
	TriggeredByAlertID string          `json:"triggered_by_alert_id,omitempty"`
	TriggeredByEventID string          `json:"triggered_by_event_id,omitempty"`
	Status             ExecutionStatus `json:"status"`
	StartedBy          string          `json:"started_by"`
	StepsData          []ExecutionStep `json:"steps_data"`
	CurrentStep        int             `json:"current_step"`
	StartedAt          time.Time       `json:"started_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	Result             string          `json:"result,omitempty"`
	DurationMs         int64           `json:"duration_ms"`
	Version            int64           `json:"version"`
}

// GenerateExecutionID returns a new short execution identifier.
func GenerateExecutionID() string {
	return fmt.Sprintf("exec-%s", uuid.New().String()[:8])
}

// NewExecution instantiates a run of the given playbook: every step cloned
// as pending, currentStep at the first index.
func NewExecution(p *Playbook, alertID, eventID, startedBy string) *Execution {
	steps := make([]ExecutionStep, 0, len(p.Steps))
	for _, tmpl := range p.Steps {
		steps = append(steps, ExecutionStep{
			Order:       tmpl.Order,
			Name:        tmpl.Name,
			Type:        tmpl.Type,
			Description: tmpl.Description,
			Config:      tmpl.Config,
			Status:      StepRunPending,
		})
	}
	return &Execution{
		ID:                 GenerateExecutionID(),
		PlaybookID:         p.ID,
		PlaybookName:       p.Name,
		TriggeredByAlertID: alertID,
		TriggeredByEventID: eventID,
		Status:             ExecutionStatusInProgress,
		StartedBy:          startedBy,
		StepsData:          steps,
		CurrentStep:        0,
		StartedAt:          time.Now().UTC(),
		Version:            1,
	}
}

// IsTerminal reports whether the execution has reached a final state.
func (e *Execution) IsTerminal() bool {
	return e.Status.IsTerminal()
}

func (e *Execution) finish(status ExecutionStatus, at time.Time) {
	e.Status = status
	e.CompletedAt = &at
	e.DurationMs = at.Sub(e.StartedAt).Milliseconds()
}

// ApplyStepUpdate transitions the step at stepIndex. Only the current step
// may be touched; a terminal step status advances currentStep, and resolving
// the final step closes the whole run as completed regardless of the step's
// own outcome.
func (e *Execution) ApplyStepUpdate(stepIndex int, status StepRunStatus, result, actor string) error {
	if e.IsTerminal() {
		return fmt.Errorf("execution %s is %s: %w", e.ID, e.Status, ErrInvalidState)
	}
	if stepIndex < 0 || stepIndex >= len(e.StepsData) {
		return fmt.Errorf("step index %d outside 0..%d: %w", stepIndex, len(e.StepsData)-1, ErrStepOutOfRange)
	}
	if stepIndex != e.CurrentStep {
		return fmt.Errorf("step index %d is not the current step %d: %w", stepIndex, e.CurrentStep, ErrStepOutOfRange)
	}
	if !status.IsValid() || status == StepRunPending {
		return NewValidationError("status", "invalid step status %q", status)
	}

	now := time.Now().UTC()
	step := &e.StepsData[stepIndex]
	step.Status = status
	if result != "" {
		step.Result = result
	}
	if step.StartedAt == nil {
		step.StartedAt = &now
	}
	if !status.IsTerminal() {
		// running: the step is claimed but not resolved, no advancement
		return nil
	}

	step.CompletedAt = &now
	step.CompletedBy = actor
	if stepIndex == len(e.StepsData)-1 {
		e.finish(ExecutionStatusCompleted, now)
		if e.Result == "" {
			e.Result = "All steps resolved"
		}
		return nil
	}
	e.CurrentStep++
	return nil
}

// Abort terminates an in-progress execution. Unresolved steps are left
// untouched; abort freezes progress rather than cascading a skip.
func (e *Execution) Abort(actor, reason string) error {
	if e.IsTerminal() {
		return fmt.Errorf("execution %s is %s: %w", e.ID, e.Status, ErrInvalidState)
	}
	now := time.Now().UTC()
	e.finish(ExecutionStatusAborted, now)
	if reason != "" {
		e.Result = reason
	} else {
		e.Result = fmt.Sprintf("Aborted by %s", actor)
	}
	return nil
}

// Complete force-closes an in-progress execution regardless of how many
// steps remain pending.
func (e *Execution) Complete(result string) error {
	if e.IsTerminal() {
		return fmt.Errorf("execution %s is %s: %w", e.ID, e.Status, ErrInvalidState)
	}
	now := time.Now().UTC()
	e.finish(ExecutionStatusCompleted, now)
	if result != "" {
		e.Result = result
	}
	return nil
}
