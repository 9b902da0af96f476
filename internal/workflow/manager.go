package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/tbcv/internal/workflow"

// Signal is the result of a control-signal check. Step executors must check
// the returned value between units of work and abandon their loop on
// SignalStop.
type Signal int

const (
	// SignalContinue means the executor may process the next unit of work.
	SignalContinue Signal = iota
	// SignalStop means the executor must stop without processing further units.
	SignalStop
)

// controlState is the in-memory control record for one executing workflow.
// All access goes through the manager mutex.
type controlState struct {
	shouldPause  bool
	shouldCancel bool
	isRunning    bool
}

// Config configures the manager.
type Config struct {
	// CheckpointEvery creates a checkpoint after every N completed units of
	// work. Zero disables automatic checkpoints.
	CheckpointEvery int

	// CheckpointRetention is the default number of checkpoints kept per
	// workflow by Cleanup.
	CheckpointRetention int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CheckpointEvery:     1,
		CheckpointRetention: 3,
	}
}

// Manager owns the registry of currently executing workflows and their
// control flags. Construct one manager per process and pass it explicitly;
// Execute calls for different workflows may run concurrently with each other
// and with control calls for any workflow.
type Manager struct {
	store       Store
	content     ContentService
	config      *Config
	logger      *zap.Logger
	checkpoints *CheckpointService
	executors   map[Type]StepExecutor

	// Telemetry
	tracer           trace.Tracer
	meter            metric.Meter
	startedCounter   metric.Int64Counter
	finishedCounter  metric.Int64Counter
	controlCounter   metric.Int64Counter
	checkpointsSaved metric.Int64Counter

	// mu guards control; cond is signalled by resume/cancel and by control
	// record removal so a paused executor never waits on a stale flag.
	mu      sync.Mutex
	cond    *sync.Cond
	control map[string]*controlState
}

// NewManager creates a workflow manager.
func NewManager(store Store, content ContentService, cfg *Config, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if content == nil {
		return nil, fmt.Errorf("content service is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		store:   store,
		content: content,
		config:  cfg,
		logger:  logger,
		control: make(map[string]*controlState),
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	m.cond = sync.NewCond(&m.mu)
	m.checkpoints = NewCheckpointService(store, logger)
	m.executors = map[Type]StepExecutor{
		TypeDirectoryValidation: &directoryValidationExecutor{m: m},
		TypeBatchEnhance:        &batchEnhanceExecutor{m: m},
		TypeFullAudit:           &fullAuditExecutor{m: m},
		TypeRecommendationBatch: &recommendationBatchExecutor{m: m},
	}
	m.initMetrics()

	return m, nil
}

func (m *Manager) initMetrics() {
	var err error

	m.startedCounter, err = m.meter.Int64Counter(
		"tbcv.workflow.started_total",
		metric.WithDescription("Total number of workflow executions started"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		m.logger.Warn("failed to create started counter", zap.Error(err))
	}

	m.finishedCounter, err = m.meter.Int64Counter(
		"tbcv.workflow.finished_total",
		metric.WithDescription("Total number of workflow executions finished, labeled by final state"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		m.logger.Warn("failed to create finished counter", zap.Error(err))
	}

	m.controlCounter, err = m.meter.Int64Counter(
		"tbcv.workflow.control_calls_total",
		metric.WithDescription("Total number of pause/resume/cancel calls, labeled by operation"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		m.logger.Warn("failed to create control counter", zap.Error(err))
	}

	m.checkpointsSaved, err = m.meter.Int64Counter(
		"tbcv.workflow.checkpoints_total",
		metric.WithDescription("Total number of checkpoints created by step executors"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		m.logger.Warn("failed to create checkpoint counter", zap.Error(err))
	}
}

// Checkpoints returns the checkpoint subsystem.
func (m *Manager) Checkpoints() *CheckpointService {
	return m.checkpoints
}

// Active returns the ids of workflows this manager is currently driving,
// sorted for deterministic output.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.control))
	for id := range m.control {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Execute runs a workflow to completion on the calling goroutine. It is a
// background entry point: callers are expected to invoke it on its own
// goroutine, so failures are captured into workflow state and logged rather
// than returned.
func (m *Manager) Execute(ctx context.Context, workflowID string) {
	ctx, span := m.tracer.Start(ctx, "workflow.execute")
	defer span.End()
	span.SetAttributes(attribute.String("workflow_id", workflowID))

	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		m.logger.Error("failed to load workflow", zap.String("workflow_id", workflowID), zap.Error(err))
		return
	}
	if wf == nil {
		m.logger.Warn("workflow not found, nothing to execute", zap.String("workflow_id", workflowID))
		return
	}

	m.mu.Lock()
	m.control[workflowID] = &controlState{isRunning: true}
	m.mu.Unlock()

	// The control record must never outlive the execution, whatever the
	// outcome. Waiters are woken so a concurrent pause check observes removal.
	defer func() {
		m.mu.Lock()
		delete(m.control, workflowID)
		m.cond.Broadcast()
		m.mu.Unlock()
	}()

	// A workflow re-executed after checkpoint rollback is already RUNNING.
	if wf.State != StateRunning {
		if err := m.transition(ctx, wf, StateRunning); err != nil {
			m.logger.Error("cannot start workflow",
				zap.String("workflow_id", workflowID),
				zap.String("state", string(wf.State)),
				zap.Error(err))
			return
		}
	}

	if m.startedCounter != nil {
		m.startedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(wf.Type))))
	}
	m.logger.Info("workflow started",
		zap.String("workflow_id", wf.ID),
		zap.String("type", string(wf.Type)),
		zap.Int("current_step", wf.CurrentStep))

	var runErr error
	if exec, ok := m.executors[wf.Type]; ok {
		runErr = exec.Run(ctx, wf)
	} else {
		runErr = &UnknownTypeError{Type: wf.Type}
	}

	// Re-read persisted state: a concurrent cancel may have landed after the
	// executor's last signal check.
	if fresh, err := m.store.GetWorkflow(ctx, wf.ID); err == nil && fresh != nil {
		wf = fresh
	}
	if wf.State == StateCancelled || m.cancelRequested(workflowID) {
		m.logger.Info("workflow cancelled", zap.String("workflow_id", wf.ID))
		m.recordFinished(ctx, StateCancelled)
		return
	}

	if runErr != nil {
		m.fail(ctx, wf, runErr)
		return
	}

	if err := m.transition(ctx, wf, StateCompleted); err != nil {
		// A cancel landing after the re-read above loses no work but wins the
		// state; the guarded transition refreshes wf with the stored row.
		if wf.State == StateCancelled {
			m.logger.Info("workflow cancelled", zap.String("workflow_id", wf.ID))
			m.recordFinished(ctx, StateCancelled)
			return
		}
		m.logger.Error("failed to complete workflow", zap.String("workflow_id", wf.ID), zap.Error(err))
		return
	}
	m.recordFinished(ctx, StateCompleted)
	m.logger.Info("workflow completed",
		zap.String("workflow_id", wf.ID),
		zap.Int("total_steps", wf.TotalSteps))
}

// Pause requests a cooperative pause of a RUNNING workflow. The executor
// observes the request at its next control-signal check; this call only sets
// the flag and persists the PAUSED state.
func (m *Manager) Pause(ctx context.Context, workflowID string) (State, error) {
	wf, err := m.lookup(ctx, workflowID)
	if err != nil {
		return "", err
	}
	if wf.State != StateRunning {
		return "", &IllegalTransitionError{WorkflowID: workflowID, From: wf.State, To: StatePaused}
	}

	m.mu.Lock()
	cs, ok := m.control[workflowID]
	if !ok {
		m.mu.Unlock()
		return "", &NotRunningError{WorkflowID: workflowID}
	}
	cs.shouldPause = true
	m.mu.Unlock()

	if err := m.transition(ctx, wf, StatePaused); err != nil {
		// Persisting failed; clear the flag so the executor is not suspended
		// against a state the store never recorded.
		m.mu.Lock()
		if cs, ok := m.control[workflowID]; ok {
			cs.shouldPause = false
		}
		m.cond.Broadcast()
		m.mu.Unlock()
		return "", err
	}

	m.recordControl(ctx, "pause")
	m.logger.Info("workflow paused", zap.String("workflow_id", workflowID), zap.Int("current_step", wf.CurrentStep))
	return StatePaused, nil
}

// Resume clears a pause request on a PAUSED workflow and wakes the suspended
// executor.
func (m *Manager) Resume(ctx context.Context, workflowID string) (State, error) {
	wf, err := m.lookup(ctx, workflowID)
	if err != nil {
		return "", err
	}
	if wf.State != StatePaused {
		return "", &IllegalTransitionError{WorkflowID: workflowID, From: wf.State, To: StateRunning}
	}

	if err := m.transition(ctx, wf, StateRunning); err != nil {
		return "", err
	}

	m.mu.Lock()
	if cs, ok := m.control[workflowID]; ok {
		cs.shouldPause = false
	}
	m.cond.Broadcast()
	m.mu.Unlock()

	m.recordControl(ctx, "resume")
	m.logger.Info("workflow resumed", zap.String("workflow_id", workflowID))
	return StateRunning, nil
}

// Cancel requests cooperative cancellation of a PENDING, RUNNING, or PAUSED
// workflow. A unit of work already in flight is allowed to finish; the
// executor stops at its next control-signal check.
func (m *Manager) Cancel(ctx context.Context, workflowID string) (State, error) {
	wf, err := m.lookup(ctx, workflowID)
	if err != nil {
		return "", err
	}
	if wf.State.Terminal() {
		return "", &IllegalTransitionError{WorkflowID: workflowID, From: wf.State, To: StateCancelled}
	}

	if err := m.transition(ctx, wf, StateCancelled); err != nil {
		return "", err
	}

	m.mu.Lock()
	if cs, ok := m.control[workflowID]; ok {
		cs.shouldCancel = true
	}
	m.cond.Broadcast()
	m.mu.Unlock()

	m.recordControl(ctx, "cancel")
	m.logger.Info("workflow cancelled", zap.String("workflow_id", workflowID))
	return StateCancelled, nil
}

// CheckControl is the control-signal check step executors call between units
// of work. Cancellation always wins over pause: a thread suspended on a pause
// request that is then cancelled observes SignalStop, never resumes into more
// work. This is the only suspension point in the system; the wait releases the
// manager mutex so concurrent resume/cancel calls cannot deadlock.
func (m *Manager) CheckControl(workflowID string) Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		cs, ok := m.control[workflowID]
		if !ok {
			// Record removed while waiting: the execution is being torn down.
			return SignalStop
		}
		if cs.shouldCancel {
			return SignalStop
		}
		if !cs.shouldPause {
			return SignalContinue
		}
		m.cond.Wait()
	}
}

// cancelRequested reports whether a cancel flag is set for the workflow.
func (m *Manager) cancelRequested(workflowID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.control[workflowID]
	return ok && cs.shouldCancel
}

// lookup loads a workflow, mapping absence to NotFoundError.
func (m *Manager) lookup(ctx context.Context, workflowID string) (*Workflow, error) {
	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	if wf == nil {
		return nil, &NotFoundError{Kind: "workflow", ID: workflowID}
	}
	return wf, nil
}

// transition validates the state-machine edge, persists the new state, and
// refreshes wf from the stored row. Terminal transitions stamp completed_at.
// The update is guarded on the from-state so a concurrent transition that won
// the race is never overwritten; the lost race refreshes wf and retries
// against the stored state, failing once the edge is no longer legal.
func (m *Manager) transition(ctx context.Context, wf *Workflow, to State) error {
	for {
		if !wf.State.CanTransitionTo(to) {
			return &IllegalTransitionError{WorkflowID: wf.ID, From: wf.State, To: to}
		}

		from := wf.State
		upd := Update{State: &to, ExpectState: &from}
		if to.Terminal() {
			now := time.Now().UTC()
			upd.CompletedAt = &now
		}

		updated, err := m.store.UpdateWorkflow(ctx, wf.ID, upd)
		if err != nil {
			return fmt.Errorf("persist state %s: %w", to, err)
		}
		if updated != nil {
			*wf = *updated
			return nil
		}

		fresh, err := m.store.GetWorkflow(ctx, wf.ID)
		if err != nil {
			return fmt.Errorf("reload workflow %s: %w", wf.ID, err)
		}
		if fresh == nil {
			return &NotFoundError{Kind: "workflow", ID: wf.ID}
		}
		*wf = *fresh
	}
}

// fail marks the workflow FAILED with the executor's error message. The
// executor is the authority on failure, so the update is applied from any
// non-terminal state.
func (m *Manager) fail(ctx context.Context, wf *Workflow, runErr error) {
	state := StateFailed
	msg := runErr.Error()
	for {
		if wf.State.Terminal() {
			m.logger.Warn("workflow already terminal, not marking failed",
				zap.String("workflow_id", wf.ID),
				zap.String("state", string(wf.State)),
				zap.Error(runErr))
			return
		}

		from := wf.State
		now := time.Now().UTC()
		updated, err := m.store.UpdateWorkflow(ctx, wf.ID, Update{
			State:        &state,
			ErrorMessage: &msg,
			CompletedAt:  &now,
			ExpectState:  &from,
		})
		if err != nil {
			m.logger.Error("failed to persist FAILED state", zap.String("workflow_id", wf.ID), zap.Error(err))
			return
		}
		if updated != nil {
			*wf = *updated
			break
		}

		// Lost a state race, typically to a concurrent cancel; re-read and
		// let the terminal check above decide.
		fresh, err := m.store.GetWorkflow(ctx, wf.ID)
		if err != nil || fresh == nil {
			m.logger.Error("failed to reload workflow while marking failed",
				zap.String("workflow_id", wf.ID), zap.Error(err))
			return
		}
		*wf = *fresh
	}

	m.recordFinished(ctx, StateFailed)
	m.logger.Error("workflow failed",
		zap.String("workflow_id", wf.ID),
		zap.Int("current_step", wf.CurrentStep),
		zap.Error(runErr))
}

// updateProgress persists current/total step counts and the derived percent
// in one update. Called by step executors after each unit of work.
func (m *Manager) updateProgress(ctx context.Context, wf *Workflow, current, total int) error {
	percent := 0
	if total > 0 {
		percent = current * 100 / total
	}

	updated, err := m.store.UpdateWorkflow(ctx, wf.ID, Update{
		CurrentStep:     &current,
		TotalSteps:      &total,
		ProgressPercent: &percent,
	})
	if err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	if updated == nil {
		return &NotFoundError{Kind: "workflow", ID: wf.ID}
	}
	*wf = *updated
	return nil
}

// updateMetadata merges fields into the workflow metadata map and persists it.
func (m *Manager) updateMetadata(ctx context.Context, wf *Workflow, fields map[string]any) error {
	merged := make(map[string]any, len(wf.Metadata)+len(fields))
	for k, v := range wf.Metadata {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	updated, err := m.store.UpdateWorkflow(ctx, wf.ID, Update{Metadata: merged})
	if err != nil {
		return fmt.Errorf("persist metadata: %w", err)
	}
	if updated == nil {
		return &NotFoundError{Kind: "workflow", ID: wf.ID}
	}
	*wf = *updated
	return nil
}

func (m *Manager) recordFinished(ctx context.Context, state State) {
	if m.finishedCounter != nil {
		m.finishedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(state))))
	}
}

func (m *Manager) recordControl(ctx context.Context, op string) {
	if m.controlCounter != nil {
		m.controlCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
	}
}
