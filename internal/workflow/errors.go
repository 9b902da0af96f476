package workflow

import (
	"errors"
	"fmt"
)

// ErrNoUsableCheckpoint is returned by recovery when every checkpoint for a
// workflow is corrupted, non-resumable, or absent.
var ErrNoUsableCheckpoint = errors.New("no usable checkpoint")

// NotFoundError indicates a workflow or checkpoint id that does not exist.
type NotFoundError struct {
	Kind string // "workflow" or "checkpoint"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IllegalTransitionError indicates a control call attempted from a state that
// does not permit it. The workflow's state is left unchanged.
type IllegalTransitionError struct {
	WorkflowID string
	From       State
	To         State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("workflow %s: illegal transition %s -> %s", e.WorkflowID, e.From, e.To)
}

// NotRunningError indicates a pause was requested for a workflow the manager
// is not actively driving (no in-memory control record).
type NotRunningError struct {
	WorkflowID string
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("workflow %s is not running in this process", e.WorkflowID)
}

// UnknownTypeError indicates a workflow type with no registered step executor.
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown workflow type %q", e.Type)
}

// MissingParamError indicates input_params lacks a key the step executor
// requires. This is fatal and non-retriable.
type MissingParamError struct {
	Key string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("input_params missing required key %q", e.Key)
}

// CheckpointInvalidError indicates a checkpoint failed validation and must not
// be used for recovery.
type CheckpointInvalidError struct {
	CheckpointID string
	Reason       string
}

func (e *CheckpointInvalidError) Error() string {
	return fmt.Sprintf("checkpoint %s invalid: %s", e.CheckpointID, e.Reason)
}
