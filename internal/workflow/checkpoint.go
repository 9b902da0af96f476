package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CheckpointService creates, validates, and recovers from workflow
// checkpoints. Checkpoints are the only recovery mechanism: they are never
// updated after creation, only created, read, or deleted.
type CheckpointService struct {
	store  Store
	logger *zap.Logger
	tracer trace.Tracer
}

// NewCheckpointService creates a checkpoint service.
func NewCheckpointService(store Store, logger *zap.Logger) *CheckpointService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointService{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}
}

// Create persists a new checkpoint snapshotting step-local state at the given
// step number.
func (s *CheckpointService) Create(ctx context.Context, workflowID, name string, stepNumber int, state *StepState) (*Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.Int("step_number", stepNumber),
	)

	data, err := state.Encode()
	if err != nil {
		return nil, err
	}

	cp := &Checkpoint{
		ID:             uuid.New().String(),
		WorkflowID:     workflowID,
		Name:           name,
		StepNumber:     stepNumber,
		StateData:      data,
		ValidationHash: HashStateData(data),
		CanResumeFrom:  true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateCheckpoint(ctx, cp); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint created",
		zap.String("checkpoint_id", cp.ID),
		zap.String("workflow_id", workflowID),
		zap.Int("step_number", stepNumber))
	return cp, nil
}

// List returns a workflow's checkpoints ordered by step number ascending.
func (s *CheckpointService) List(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	return s.store.ListCheckpoints(ctx, workflowID)
}

// Validate checks a checkpoint before recovery use: the stored hash must match
// a recomputed digest of the state data, the checkpoint must be marked
// resumable, and the state data must deserialize. It returns the decoded
// state on success and CheckpointInvalidError otherwise.
func (s *CheckpointService) Validate(cp *Checkpoint) (*StepState, error) {
	if HashStateData(cp.StateData) != cp.ValidationHash {
		return nil, &CheckpointInvalidError{CheckpointID: cp.ID, Reason: "validation hash mismatch"}
	}
	if !cp.CanResumeFrom {
		return nil, &CheckpointInvalidError{CheckpointID: cp.ID, Reason: "not marked resumable"}
	}
	state, err := DecodeStepState(cp.StateData)
	if err != nil {
		return nil, &CheckpointInvalidError{CheckpointID: cp.ID, Reason: err.Error()}
	}
	return state, nil
}

// LatestValid returns the checkpoint with the highest step number that passes
// validation, or ErrNoUsableCheckpoint when none does. Invalid checkpoints
// are skipped with a warning, never used.
func (s *CheckpointService) LatestValid(ctx context.Context, workflowID string) (*Checkpoint, *StepState, error) {
	cps, err := s.store.ListCheckpoints(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("list checkpoints: %w", err)
	}

	for i := len(cps) - 1; i >= 0; i-- {
		state, err := s.Validate(cps[i])
		if err != nil {
			s.logger.Warn("skipping invalid checkpoint",
				zap.String("checkpoint_id", cps[i].ID),
				zap.String("workflow_id", workflowID),
				zap.Error(err))
			continue
		}
		return cps[i], state, nil
	}
	return nil, nil, ErrNoUsableCheckpoint
}

// Rollback restores a workflow to the state captured by one of its
// checkpoints: current_step is set back to the checkpoint's step number, the
// state becomes RUNNING, and any error message is cleared. Checkpoints newer
// than the target are left in place; retention is a separate operation.
func (s *CheckpointService) Rollback(ctx context.Context, workflowID, checkpointID string) (*Workflow, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.rollback")
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("checkpoint_id", checkpointID),
	)

	cp, err := s.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", checkpointID, err)
	}
	if cp == nil {
		return nil, &NotFoundError{Kind: "checkpoint", ID: checkpointID}
	}
	if cp.WorkflowID != workflowID {
		return nil, &CheckpointInvalidError{CheckpointID: checkpointID, Reason: "belongs to a different workflow"}
	}

	state, err := s.Validate(cp)
	if err != nil {
		return nil, err
	}

	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	if wf == nil {
		return nil, &NotFoundError{Kind: "workflow", ID: workflowID}
	}
	if cp.StepNumber > wf.CurrentStep {
		return nil, &CheckpointInvalidError{
			CheckpointID: checkpointID,
			Reason:       fmt.Sprintf("step %d is newer than workflow step %d", cp.StepNumber, wf.CurrentStep),
		}
	}

	running := StateRunning
	empty := ""
	percent := 0
	if wf.TotalSteps > 0 {
		percent = cp.StepNumber * 100 / wf.TotalSteps
	}
	meta := map[string]any{}
	for k, v := range wf.Metadata {
		meta[k] = v
	}
	meta["files_processed"] = state.UnitsProcessed
	meta["errors_count"] = state.ErrorsCount

	updated, err := s.store.UpdateWorkflow(ctx, workflowID, Update{
		State:           &running,
		CurrentStep:     &cp.StepNumber,
		ProgressPercent: &percent,
		ErrorMessage:    &empty,
		Metadata:        meta,
	})
	if err != nil {
		return nil, fmt.Errorf("roll back workflow: %w", err)
	}

	s.logger.Info("workflow rolled back to checkpoint",
		zap.String("workflow_id", workflowID),
		zap.String("checkpoint_id", checkpointID),
		zap.Int("step_number", cp.StepNumber))
	return updated, nil
}

// Recover rolls a FAILED (or crashed-while-RUNNING) workflow back to its most
// recent valid resumable checkpoint. When no usable checkpoint exists the
// workflow is reset to the beginning (step 0, PENDING, error cleared) and
// ErrNoUsableCheckpoint is returned alongside a nil checkpoint so the caller
// knows a full restart happened.
func (s *CheckpointService) Recover(ctx context.Context, workflowID string) (*Checkpoint, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	if wf == nil {
		return nil, &NotFoundError{Kind: "workflow", ID: workflowID}
	}
	if wf.State != StateFailed && wf.State != StateRunning {
		return nil, &IllegalTransitionError{WorkflowID: workflowID, From: wf.State, To: StateRunning}
	}

	cp, _, err := s.LatestValid(ctx, workflowID)
	if errors.Is(err, ErrNoUsableCheckpoint) {
		pending := StatePending
		zero := 0
		empty := ""
		if _, uerr := s.store.UpdateWorkflow(ctx, workflowID, Update{
			State:           &pending,
			CurrentStep:     &zero,
			ProgressPercent: &zero,
			ErrorMessage:    &empty,
		}); uerr != nil {
			return nil, fmt.Errorf("reset workflow: %w", uerr)
		}
		s.logger.Warn("no usable checkpoint, workflow reset to start",
			zap.String("workflow_id", workflowID))
		return nil, ErrNoUsableCheckpoint
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.Rollback(ctx, workflowID, cp.ID); err != nil {
		return nil, err
	}
	return cp, nil
}

// Cleanup keeps only the keep most recent checkpoints per workflow, ordered
// by step number, and deletes the rest. It must be invoked deliberately:
// checkpoints are the only recovery mechanism, so pruning is never automatic.
func (s *CheckpointService) Cleanup(ctx context.Context, workflowID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	cps, err := s.store.ListCheckpoints(ctx, workflowID)
	if err != nil {
		return 0, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(cps) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, cp := range cps[:len(cps)-keep] {
		if err := s.store.DeleteCheckpoint(ctx, cp.ID); err != nil {
			return deleted, fmt.Errorf("delete checkpoint %s: %w", cp.ID, err)
		}
		deleted++
	}

	s.logger.Info("checkpoints pruned",
		zap.String("workflow_id", workflowID),
		zap.Int("deleted", deleted),
		zap.Int("kept", keep))
	return deleted, nil
}
