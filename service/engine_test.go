package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
	"argus/storage"
)

// recordingHub captures broadcast messages for assertions.
type recordingHub struct {
	mu       sync.Mutex
	messages []string
}

func (h *recordingHub) BroadcastMessage(messageType string, data interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, messageType)
	return nil
}

func (h *recordingHub) count(messageType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.messages {
		if m == messageType {
			n++
		}
	}
	return n
}

type engineFixture struct {
	engine    *Engine
	registry  *Registry
	playbooks storage.PlaybookStorageInterface
	hub       *recordingHub
	db        *storage.SQLite
}

func setupEngine(t *testing.T) *engineFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	playbooks := storage.NewSQLitePlaybookStorage(db, logger)
	executions := storage.NewSQLiteExecutionStorage(db, logger)
	hub := &recordingHub{}
	return &engineFixture{
		engine:    NewEngine(playbooks, executions, nil, hub, logger),
		registry:  NewRegistry(playbooks, logger),
		playbooks: playbooks,
		hub:       hub,
		db:        db,
	}
}

// activePlaybook stores an active three-step playbook.
func (f *engineFixture) activePlaybook(t *testing.T, name string) *core.Playbook {
	t.Helper()
	p := core.NewPlaybook(name, "test", core.CategoryIncident, "alice")
	p.Steps = []core.PlaybookStep{
		{Order: 1, Name: "Isolate host", Type: core.StepTypeAction, Config: core.StepConfig{ActionID: "isolate-host"}},
		{Order: 2, Name: "Check severity", Type: core.StepTypeCondition, Config: core.StepConfig{Field: "severity", Operator: "equals", Value: "critical"}},
		{Order: 3, Name: "Review", Type: core.StepTypeManual, Config: core.StepConfig{Instructions: "confirm containment"}},
	}
	require.NoError(t, f.registry.Create(context.Background(), p))
	got, err := f.registry.Toggle(context.Background(), p.ID)
	require.NoError(t, err)
	return got
}

func TestEngineExecute(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	p := f.activePlaybook(t, "Ransomware Response")

	exec, err := f.engine.Execute(ctx, p.ID, "", "", "analyst")
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionStatusInProgress, exec.Status)
	assert.Equal(t, 0, exec.CurrentStep)
	assert.Equal(t, p.Name, exec.PlaybookName)
	require.Len(t, exec.StepsData, 3)
	for _, s := range exec.StepsData {
		assert.Equal(t, core.StepRunPending, s.Status)
	}
	assert.Equal(t, 1, f.hub.count("execution:updated"))
}

func TestEngineExecute_DraftPlaybookRejected(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	p := core.NewPlaybook("Draft Only", "test", core.CategoryIncident, "alice")
	p.Steps = []core.PlaybookStep{
		{Order: 1, Name: "Isolate", Type: core.StepTypeAction, Config: core.StepConfig{ActionID: "isolate-host"}},
	}
	require.NoError(t, f.registry.Create(ctx, p))

	_, err := f.engine.Execute(ctx, p.ID, "", "", "analyst")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

// Walking every step to a terminal status closes the run as completed even
// when the final step itself failed.
func TestEngineStepProgression(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	p := f.activePlaybook(t, "Ransomware Response")

	exec, err := f.engine.Execute(ctx, p.ID, "", "", "analyst")
	require.NoError(t, err)

	exec, err = f.engine.UpdateStep(ctx, exec.ID, 0, core.StepRunCompleted, "host isolated", "analyst")
	require.NoError(t, err)
	assert.Equal(t, 1, exec.CurrentStep)
	assert.Equal(t, core.ExecutionStatusInProgress, exec.Status)
	assert.Equal(t, "analyst", exec.StepsData[0].CompletedBy)
	assert.NotNil(t, exec.StepsData[0].CompletedAt)

	// running marks the step but does not advance
	exec, err = f.engine.UpdateStep(ctx, exec.ID, 1, core.StepRunRunning, "", "analyst")
	require.NoError(t, err)
	assert.Equal(t, 1, exec.CurrentStep)
	assert.Equal(t, core.StepRunRunning, exec.StepsData[1].Status)

	exec, err = f.engine.UpdateStep(ctx, exec.ID, 1, core.StepRunSkipped, "not critical", "analyst")
	require.NoError(t, err)
	assert.Equal(t, 2, exec.CurrentStep)

	exec, err = f.engine.UpdateStep(ctx, exec.ID, 2, core.StepRunFailed, "containment not confirmed", "analyst")
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionStatusCompleted, exec.Status)
	assert.NotNil(t, exec.CompletedAt)
	assert.GreaterOrEqual(t, exec.DurationMs, int64(0))
}

func TestEngineUpdateStep_NotCurrentStep(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	p := f.activePlaybook(t, "Ransomware Response")

	exec, err := f.engine.Execute(ctx, p.ID, "", "", "analyst")
	require.NoError(t, err)

	_, err = f.engine.UpdateStep(ctx, exec.ID, 2, core.StepRunCompleted, "", "analyst")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStepOutOfRange)

	_, err = f.engine.UpdateStep(ctx, exec.ID, 5, core.StepRunCompleted, "", "analyst")
	assert.ErrorIs(t, err, core.ErrStepOutOfRange)
}

func TestEngineAbort_LeavesRemainingSteps(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	p := f.activePlaybook(t, "Ransomware Response")

	exec, err := f.engine.Execute(ctx, p.ID, "", "", "analyst")
	require.NoError(t, err)
	exec, err = f.engine.UpdateStep(ctx, exec.ID, 0, core.StepRunCompleted, "done", "analyst")
	require.NoError(t, err)

	exec, err = f.engine.Abort(ctx, exec.ID, "analyst", "false positive")
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionStatusAborted, exec.Status)
	assert.NotNil(t, exec.CompletedAt)
	assert.Equal(t, core.StepRunCompleted, exec.StepsData[0].Status)
	assert.Equal(t, core.StepRunPending, exec.StepsData[1].Status)
	assert.Equal(t, core.StepRunPending, exec.StepsData[2].Status)
}

func TestEngineTerminalExecutionImmutable(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	p := f.activePlaybook(t, "Ransomware Response")

	exec, err := f.engine.Execute(ctx, p.ID, "", "", "analyst")
	require.NoError(t, err)
	_, err = f.engine.Abort(ctx, exec.ID, "analyst", "drill over")
	require.NoError(t, err)

	_, err = f.engine.Abort(ctx, exec.ID, "analyst", "again")
	assert.ErrorIs(t, err, core.ErrInvalidState)
	_, err = f.engine.UpdateStep(ctx, exec.ID, 0, core.StepRunCompleted, "", "analyst")
	assert.ErrorIs(t, err, core.ErrInvalidState)
	_, err = f.engine.Complete(ctx, exec.ID, "closing")
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestEngineComplete_ForceCloses(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	p := f.activePlaybook(t, "Ransomware Response")

	exec, err := f.engine.Execute(ctx, p.ID, "", "", "analyst")
	require.NoError(t, err)

	exec, err = f.engine.Complete(ctx, exec.ID, "resolved out of band")
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, "resolved out of band", exec.Result)
	// unresolved steps stay pending
	assert.Equal(t, core.StepRunPending, exec.StepsData[0].Status)
}

// Concurrent executes on one playbook must yield exactly N runs and bump
// triggered_count by exactly N.
func TestEngineExecute_ConcurrentCountsExactly(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	p := f.activePlaybook(t, "Ransomware Response")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Execute(ctx, p.ID, "", "", fmt.Sprintf("analyst-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	_, total, err := f.engine.List(ctx, storage.ExecutionFilters{PlaybookID: p.ID}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(n), total)

	got, err := f.registry.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.TriggeredCount)
}

func TestEngineConcurrentStepUpdates_OneWinner(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	p := f.activePlaybook(t, "Ransomware Response")

	exec, err := f.engine.Execute(ctx, p.ID, "", "", "analyst")
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.UpdateStep(ctx, exec.ID, 0, core.StepRunCompleted, "done", "analyst")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, core.ErrStepOutOfRange)
		}
	}
	assert.Equal(t, 1, wins)

	got, err := f.engine.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStep)
}
