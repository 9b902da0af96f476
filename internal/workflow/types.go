package workflow

import (
	"time"
)

// State is the lifecycle state of a workflow.
type State string

const (
	// StatePending is the initial state of a created workflow.
	StatePending State = "pending"
	// StateRunning means a step executor is actively processing units of work.
	StateRunning State = "running"
	// StatePaused means a pause was requested and the executor is suspended.
	StatePaused State = "paused"
	// StateCompleted means all units of work finished. Terminal.
	StateCompleted State = "completed"
	// StateFailed means the executor raised an unrecoverable error. Terminal.
	StateFailed State = "failed"
	// StateCancelled means the workflow was cancelled by a caller. Terminal.
	StateCancelled State = "cancelled"
)

// transitions lists the legal state-machine edges.
var transitions = map[State][]State{
	StatePending: {StateRunning, StateCancelled},
	StateRunning: {StatePaused, StateCompleted, StateFailed, StateCancelled},
	StatePaused:  {StateRunning, StateCancelled},
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransitionTo reports whether the edge s -> target is legal.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Type identifies the step executor that drives a workflow.
type Type string

const (
	// TypeDirectoryValidation validates every markdown file under a directory.
	TypeDirectoryValidation Type = "validate_directory"
	// TypeBatchEnhance derives recommendations for a list of validation results.
	TypeBatchEnhance Type = "batch_enhance"
	// TypeFullAudit runs directory validation followed by an enhancement phase.
	TypeFullAudit Type = "full_audit"
	// TypeRecommendationBatch applies a list of approved recommendations.
	TypeRecommendationBatch Type = "recommendation_batch"
)

// Workflow is a persisted, resumable unit of long-running work.
type Workflow struct {
	ID              string         `json:"id"`
	Type            Type           `json:"type"`
	State           State          `json:"state"`
	Params          map[string]any `json:"input_params"`
	TotalSteps      int            `json:"total_steps"`
	CurrentStep     int            `json:"current_step"`
	ProgressPercent int            `json:"progress_percent"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// Checkpoint is an immutable snapshot of step-local state for one workflow.
// StateData is written once at creation and never mutated; ValidationHash is
// the SHA-256 digest of StateData and is re-verified before any recovery use.
type Checkpoint struct {
	ID             string    `json:"id"`
	WorkflowID     string    `json:"workflow_id"`
	Name           string    `json:"name"`
	StepNumber     int       `json:"step_number"`
	StateData      []byte    `json:"state_data"`
	ValidationHash string    `json:"validation_hash"`
	CanResumeFrom  bool      `json:"can_resume_from"`
	CreatedAt      time.Time `json:"created_at"`
}
