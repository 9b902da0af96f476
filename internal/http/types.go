package http

import (
	"github.com/fyrsmithlabs/tbcv/internal/workflow"
)

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// CreateWorkflowRequest is the body of POST /api/v1/workflows.
type CreateWorkflowRequest struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// ListWorkflowsResponse lists workflows plus the ids currently executing in
// this process.
type ListWorkflowsResponse struct {
	Workflows []*workflow.Workflow `json:"workflows"`
	Active    []string             `json:"active"`
}

// StartWorkflowResponse acknowledges an accepted start request.
type StartWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
	State      string `json:"state"`
}

// StateResponse reports the workflow state after a control operation.
type StateResponse struct {
	State string `json:"state"`
}

// CleanupResponse reports the outcome of a checkpoint cleanup.
type CleanupResponse struct {
	Deleted int `json:"deleted"`
	Kept    int `json:"kept"`
}

// RecoverResponse reports the checkpoint a workflow was recovered to, or that
// no usable checkpoint existed and the workflow was reset for a restart.
type RecoverResponse struct {
	Checkpoint *workflow.Checkpoint `json:"checkpoint,omitempty"`
	Restarted  bool                 `json:"restarted,omitempty"`
}
