package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"argus/core"
	"argus/metrics"
	"argus/notify"
	"argus/storage"
)

// Broadcaster pushes state changes to connected dashboard clients. The
// WebSocket hub satisfies it; a nil broadcaster disables push.
type Broadcaster interface {
	BroadcastMessage(messageType string, data interface{}) error
}

// Engine drives playbook executions through their state machine. Writes to
// a single execution are serialized through a per-execution mutex on top of
// the storage layer's optimistic version check, so a racing caller gets a
// conflict error instead of corrupting the current step pointer.
type Engine struct {
	playbooks  storage.PlaybookStorageInterface
	executions storage.ExecutionStorageInterface
	notifier   *notify.Notifier
	hub        Broadcaster
	logger     *zap.SugaredLogger
	locks      sync.Map // execution ID -> *sync.Mutex
}

// NewEngine creates an execution engine. notifier and hub may be nil.
func NewEngine(playbooks storage.PlaybookStorageInterface, executions storage.ExecutionStorageInterface,
	notifier *notify.Notifier, hub Broadcaster, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		playbooks:  playbooks,
		executions: executions,
		notifier:   notifier,
		hub:        hub,
		logger:     logger,
	}
}

func (e *Engine) lockFor(executionID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(executionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (e *Engine) broadcast(messageType string, data interface{}) {
	if e.hub == nil {
		return
	}
	if err := e.hub.BroadcastMessage(messageType, data); err != nil {
		e.logger.Debugw("Broadcast failed", "type", messageType, "error", err)
	}
}

// Execute starts a run of an active playbook. The storage layer re-checks
// the playbook's status and bumps its triggered_count inside the insert
// transaction, so concurrent executes count exactly.
func (e *Engine) Execute(ctx context.Context, playbookID, alertID, eventID, startedBy string) (*core.Execution, error) {
	p, err := e.playbooks.GetPlaybook(ctx, playbookID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive() {
		return nil, fmt.Errorf("playbook %s is %s, only active playbooks can be executed: %w",
			playbookID, p.Status, core.ErrInvalidState)
	}

	exec := core.NewExecution(p, alertID, eventID, startedBy)
	if err := e.executions.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	metrics.ExecutionsStarted.WithLabelValues(string(p.Trigger)).Inc()
	e.logger.Infow("Execution started",
		"execution_id", exec.ID, "playbook_id", playbookID, "started_by", startedBy)
	e.broadcast("execution:updated", exec)
	return exec, nil
}

// Get retrieves an execution by ID.
func (e *Engine) Get(ctx context.Context, id string) (*core.Execution, error) {
	return e.executions.GetExecution(ctx, id)
}

// List returns executions matching the filters plus the total match count.
func (e *Engine) List(ctx context.Context, filters storage.ExecutionFilters, limit, offset int) ([]core.Execution, int64, error) {
	return e.executions.ListExecutions(ctx, filters, limit, offset)
}

// CountByStatus returns execution counts grouped by status.
func (e *Engine) CountByStatus(ctx context.Context) (map[string]int64, error) {
	return e.executions.CountExecutionsByStatus(ctx)
}

// mutate loads an execution under its lock, applies fn and persists with a
// version CAS.
func (e *Engine) mutate(ctx context.Context, executionID string, fn func(*core.Execution) error) (*core.Execution, error) {
	mu := e.lockFor(executionID)
	mu.Lock()
	defer mu.Unlock()

	exec, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if err := fn(exec); err != nil {
		return nil, err
	}
	if err := e.executions.UpdateExecution(ctx, exec, exec.Version); err != nil {
		return nil, err
	}
	return exec, nil
}

// UpdateStep transitions the current step of an in-progress execution.
func (e *Engine) UpdateStep(ctx context.Context, executionID string, stepIndex int, status core.StepRunStatus, result, actor string) (*core.Execution, error) {
	exec, err := e.mutate(ctx, executionID, func(exec *core.Execution) error {
		return exec.ApplyStepUpdate(stepIndex, status, result, actor)
	})
	if err != nil {
		return nil, err
	}

	metrics.StepUpdates.WithLabelValues(string(status)).Inc()
	step := exec.StepsData[stepIndex]
	if step.Type == core.StepTypeNotification && status == core.StepRunCompleted && e.notifier != nil {
		subject := fmt.Sprintf("Playbook %s: %s", exec.PlaybookName, step.Name)
		if err := e.notifier.NotifyChannel(ctx, step.Config.Channel, subject, step.Config.Message); err != nil {
			e.logger.Warnw("Notification step delivery failed",
				"execution_id", executionID, "channel", step.Config.Channel, "error", err)
		}
	}
	e.logger.Infow("Execution step updated",
		"execution_id", executionID, "step_index", stepIndex, "status", status, "actor", actor)
	e.finishMetrics(exec)
	e.broadcast("execution:updated", exec)
	return exec, nil
}

// Abort terminates an in-progress execution, leaving unresolved steps as
// they were.
func (e *Engine) Abort(ctx context.Context, executionID, actor, reason string) (*core.Execution, error) {
	exec, err := e.mutate(ctx, executionID, func(exec *core.Execution) error {
		return exec.Abort(actor, reason)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Infow("Execution aborted", "execution_id", executionID, "actor", actor)
	e.finishMetrics(exec)
	e.broadcast("execution:updated", exec)
	return exec, nil
}

// Complete force-closes an in-progress execution.
func (e *Engine) Complete(ctx context.Context, executionID, result string) (*core.Execution, error) {
	exec, err := e.mutate(ctx, executionID, func(exec *core.Execution) error {
		return exec.Complete(result)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Infow("Execution completed", "execution_id", executionID)
	e.finishMetrics(exec)
	e.broadcast("execution:updated", exec)
	return exec, nil
}

func (e *Engine) finishMetrics(exec *core.Execution) {
	if !exec.IsTerminal() {
		return
	}
	metrics.ExecutionsFinished.WithLabelValues(string(exec.Status)).Inc()
	metrics.ExecutionDuration.Observe(float64(exec.DurationMs) / 1000)
	e.locks.Delete(exec.ID)
}
