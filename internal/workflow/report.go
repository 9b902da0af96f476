package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

func newWorkflowID() string { return uuid.New().String() }

// Summary is the progress/timing view of one workflow.
type Summary struct {
	WorkflowID      string  `json:"workflow_id"`
	Type            Type    `json:"type"`
	State           State   `json:"state"`
	ProgressPercent int     `json:"progress_percent"`
	CurrentStep     int     `json:"current_step"`
	TotalSteps      int     `json:"total_steps"`
	FilesProcessed  int     `json:"files_processed"`
	FilesTotal      int     `json:"files_total"`
	ErrorsCount     int     `json:"errors_count"`
	DurationSeconds float64 `json:"duration_seconds"`
	ETASeconds      float64 `json:"eta_seconds"`
}

// Report is the full structured report for one workflow.
type Report struct {
	Workflow    *Workflow      `json:"workflow"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Summary     *Summary       `json:"summary,omitempty"`
	Checkpoints []*Checkpoint  `json:"checkpoints,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Summary computes elapsed duration and, while RUNNING with nonzero progress,
// a best-effort ETA by linear extrapolation. The ETA assumes uniform step
// cost and is clamped at zero; it is an estimate, not a bound.
func (m *Manager) Summary(ctx context.Context, workflowID string) (*Summary, error) {
	wf, err := m.lookup(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return m.summarize(wf), nil
}

func (m *Manager) summarize(wf *Workflow) *Summary {
	end := time.Now().UTC()
	if wf.CompletedAt != nil {
		end = *wf.CompletedAt
	}
	elapsed := end.Sub(wf.CreatedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	var eta float64
	if wf.State == StateRunning && wf.ProgressPercent > 0 {
		eta = elapsed/(float64(wf.ProgressPercent)/100) - elapsed
		if eta < 0 {
			eta = 0
		}
	}

	return &Summary{
		WorkflowID:      wf.ID,
		Type:            wf.Type,
		State:           wf.State,
		ProgressPercent: wf.ProgressPercent,
		CurrentStep:     wf.CurrentStep,
		TotalSteps:      wf.TotalSteps,
		FilesProcessed:  metaInt(wf.Metadata, "files_processed"),
		FilesTotal:      metaInt(wf.Metadata, "files_total"),
		ErrorsCount:     metaInt(wf.Metadata, "errors_count"),
		DurationSeconds: elapsed,
		ETASeconds:      eta,
	}
}

// GenerateReport layers workflow metadata and, when includeDetails is set,
// the summary metrics and checkpoint history onto the workflow row. It is a
// read-only query.
func (m *Manager) GenerateReport(ctx context.Context, workflowID string, includeDetails bool) (*Report, error) {
	wf, err := m.lookup(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Workflow:    wf,
		Metadata:    wf.Metadata,
		GeneratedAt: time.Now().UTC(),
	}
	if includeDetails {
		rep.Summary = m.summarize(wf)
		cps, err := m.checkpoints.List(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		rep.Checkpoints = cps
	}
	return rep, nil
}

// CreateWorkflow persists a new PENDING workflow and returns it. The id is
// generated here; callers hand it to Execute on a background goroutine.
func (m *Manager) CreateWorkflow(ctx context.Context, typ Type, params map[string]any) (*Workflow, error) {
	if _, ok := m.executors[typ]; !ok {
		return nil, &UnknownTypeError{Type: typ}
	}

	now := time.Now().UTC()
	wf := &Workflow{
		ID:        newWorkflowID(),
		Type:      typ,
		State:     StatePending,
		Params:    params,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// Get returns a workflow by id, mapping absence to NotFoundError.
func (m *Manager) Get(ctx context.Context, workflowID string) (*Workflow, error) {
	return m.lookup(ctx, workflowID)
}

// List returns workflows newest first, optionally filtered by state.
func (m *Manager) List(ctx context.Context, state State) ([]*Workflow, error) {
	return m.store.ListWorkflows(ctx, state)
}
