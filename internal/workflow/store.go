package workflow

import (
	"context"
	"time"
)

// Update is a partial update applied atomically to a workflow row. Nil fields
// are left untouched.
type Update struct {
	State           *State
	CurrentStep     *int
	TotalSteps      *int
	ProgressPercent *int
	ErrorMessage    *string
	CompletedAt     *time.Time
	Metadata        map[string]any

	// ExpectState, when set, makes the update conditional: it applies only if
	// the stored state still matches. A mismatch returns (nil, nil), same as
	// an unknown id, so state transitions cannot overwrite a concurrent one.
	ExpectState *State
}

// Store is the persistence capability the manager relies on. Every mutation is
// committed immediately; there is no in-memory staging of workflow state.
type Store interface {
	// CreateWorkflow persists a new workflow row.
	CreateWorkflow(ctx context.Context, wf *Workflow) error

	// GetWorkflow returns the workflow, or (nil, nil) if the id is unknown.
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)

	// ListWorkflows returns workflows newest first, optionally filtered by state.
	ListWorkflows(ctx context.Context, state State) ([]*Workflow, error)

	// UpdateWorkflow applies a partial update and returns the updated row, or
	// (nil, nil) if the id is unknown or an ExpectState guard does not match.
	UpdateWorkflow(ctx context.Context, id string, upd Update) (*Workflow, error)

	// CreateCheckpoint persists a new immutable checkpoint row.
	CreateCheckpoint(ctx context.Context, cp *Checkpoint) error

	// GetCheckpoint returns the checkpoint, or (nil, nil) if the id is unknown.
	GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error)

	// ListCheckpoints returns a workflow's checkpoints ordered by step number
	// ascending.
	ListCheckpoints(ctx context.Context, workflowID string) ([]*Checkpoint, error)

	// DeleteCheckpoint removes a checkpoint row.
	DeleteCheckpoint(ctx context.Context, id string) error
}
