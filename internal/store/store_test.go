package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tbcv/internal/workflow"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tbcv.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleWorkflow(id string, created time.Time) *workflow.Workflow {
	return &workflow.Workflow{
		ID:        id,
		Type:      workflow.TypeDirectoryValidation,
		State:     workflow.StatePending,
		Params:    map[string]any{"directory_path": "/docs"},
		Metadata:  map[string]any{},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestWorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	created := time.Now().UTC().Truncate(time.Microsecond)
	wf := sampleWorkflow("wf-1", created)
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, workflow.TypeDirectoryValidation, got.Type)
	assert.Equal(t, workflow.StatePending, got.State)
	assert.Equal(t, "/docs", got.Params["directory_path"])
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Nil(t, got.CompletedAt)
}

func TestGetWorkflowUnknownID(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetWorkflow(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateWorkflowPartial(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	wf := sampleWorkflow("wf-1", time.Now().UTC())
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	running := workflow.StateRunning
	step := 2
	total := 5
	percent := 40
	updated, err := s.UpdateWorkflow(ctx, "wf-1", workflow.Update{
		State:           &running,
		CurrentStep:     &step,
		TotalSteps:      &total,
		ProgressPercent: &percent,
		Metadata:        map[string]any{"files_processed": 2},
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, workflow.StateRunning, updated.State)
	assert.Equal(t, 2, updated.CurrentStep)
	assert.Equal(t, 5, updated.TotalSteps)
	assert.Equal(t, 40, updated.ProgressPercent)
	assert.EqualValues(t, 2, updated.Metadata["files_processed"])

	// Untouched fields survive a later partial update.
	completed := workflow.StateCompleted
	now := time.Now().UTC()
	updated, err = s.UpdateWorkflow(ctx, "wf-1", workflow.Update{State: &completed, CompletedAt: &now})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.CurrentStep)
	assert.EqualValues(t, 2, updated.Metadata["files_processed"])
	require.NotNil(t, updated.CompletedAt)
	assert.True(t, updated.CompletedAt.Equal(now))
}

func TestUpdateWorkflowExpectState(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	wf := sampleWorkflow("wf-1", time.Now().UTC())
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	running := workflow.StateRunning
	pending := workflow.StatePending

	// Guard mismatch leaves the row untouched and reports no match.
	got, err := s.UpdateWorkflow(ctx, "wf-1", workflow.Update{State: &running, ExpectState: &running})
	require.NoError(t, err)
	assert.Nil(t, got)
	current, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatePending, current.State)

	got, err = s.UpdateWorkflow(ctx, "wf-1", workflow.Update{State: &running, ExpectState: &pending})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, workflow.StateRunning, got.State)
}

func TestUpdateWorkflowUnknownID(t *testing.T) {
	s := openTestStore(t)
	running := workflow.StateRunning
	got, err := s.UpdateWorkflow(context.Background(), "nope", workflow.Update{State: &running})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListWorkflowsNewestFirstWithFilter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Now().UTC()
	older := sampleWorkflow("wf-old", base.Add(-time.Hour))
	newer := sampleWorkflow("wf-new", base)
	newer.State = workflow.StateRunning
	require.NoError(t, s.CreateWorkflow(ctx, older))
	require.NoError(t, s.CreateWorkflow(ctx, newer))

	all, err := s.ListWorkflows(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "wf-new", all[0].ID)
	assert.Equal(t, "wf-old", all[1].ID)

	running, err := s.ListWorkflows(ctx, workflow.StateRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "wf-new", running[0].ID)
}

func TestCheckpointRoundTripAndOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	wf := sampleWorkflow("wf-1", time.Now().UTC())
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	for _, step := range []int{3, 1, 2} {
		data := []byte(fmt.Sprintf(`{"version":1,"units_processed":%d}`, step))
		cp := &workflow.Checkpoint{
			ID:             fmt.Sprintf("cp-%d", step),
			WorkflowID:     "wf-1",
			Name:           "auto",
			StepNumber:     step,
			StateData:      data,
			ValidationHash: workflow.HashStateData(data),
			CanResumeFrom:  true,
			CreatedAt:      time.Now().UTC(),
		}
		require.NoError(t, s.CreateCheckpoint(ctx, cp))
	}

	cps, err := s.ListCheckpoints(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, cps, 3)
	assert.Equal(t, 1, cps[0].StepNumber)
	assert.Equal(t, 2, cps[1].StepNumber)
	assert.Equal(t, 3, cps[2].StepNumber)

	got, err := s.GetCheckpoint(ctx, cps[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, workflow.HashStateData(got.StateData), got.ValidationHash)
	assert.True(t, got.CanResumeFrom)

	require.NoError(t, s.DeleteCheckpoint(ctx, cps[0].ID))
	remaining, err := s.ListCheckpoints(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestGetCheckpointUnknownID(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetCheckpoint(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteWorkflowCascadesCheckpoints(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	wf := sampleWorkflow("wf-1", time.Now().UTC())
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	data := []byte(`{"version":1}`)
	require.NoError(t, s.CreateCheckpoint(ctx, &workflow.Checkpoint{
		ID:             "cp-1",
		WorkflowID:     "wf-1",
		Name:           "auto",
		StepNumber:     1,
		StateData:      data,
		ValidationHash: workflow.HashStateData(data),
		CanResumeFrom:  true,
		CreatedAt:      time.Now().UTC(),
	}))

	require.NoError(t, s.DeleteWorkflow(ctx, "wf-1"))

	cps, err := s.ListCheckpoints(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, cps)
}
