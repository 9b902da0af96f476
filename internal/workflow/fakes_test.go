package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/tbcv/internal/validate"
)

// fakeStore is an in-memory Store for manager and checkpoint tests.
type fakeStore struct {
	mu          sync.Mutex
	workflows   map[string]*Workflow
	checkpoints map[string]*Checkpoint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workflows:   make(map[string]*Workflow),
		checkpoints: make(map[string]*Checkpoint),
	}
}

func copyWorkflow(wf *Workflow) *Workflow {
	out := *wf
	out.Params = copyMap(wf.Params)
	out.Metadata = copyMap(wf.Metadata)
	return &out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *fakeStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = copyWorkflow(wf)
	return nil
}

func (s *fakeStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, nil
	}
	return copyWorkflow(wf), nil
}

func (s *fakeStore) ListWorkflows(ctx context.Context, state State) ([]*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Workflow
	for _, wf := range s.workflows {
		if state != "" && wf.State != state {
			continue
		}
		out = append(out, copyWorkflow(wf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) UpdateWorkflow(ctx context.Context, id string, upd Update) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, nil
	}
	if upd.ExpectState != nil && wf.State != *upd.ExpectState {
		return nil, nil
	}
	if upd.State != nil {
		wf.State = *upd.State
	}
	if upd.CurrentStep != nil {
		wf.CurrentStep = *upd.CurrentStep
	}
	if upd.TotalSteps != nil {
		wf.TotalSteps = *upd.TotalSteps
	}
	if upd.ProgressPercent != nil {
		wf.ProgressPercent = *upd.ProgressPercent
	}
	if upd.ErrorMessage != nil {
		wf.ErrorMessage = *upd.ErrorMessage
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		wf.CompletedAt = &t
	}
	if upd.Metadata != nil {
		wf.Metadata = copyMap(upd.Metadata)
	}
	wf.UpdatedAt = time.Now().UTC()
	return copyWorkflow(wf), nil
}

func (s *fakeStore) CreateCheckpoint(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *cp
	s.checkpoints[cp.ID] = &stored
	return nil
}

func (s *fakeStore) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, nil
	}
	out := *cp
	return &out, nil
}

func (s *fakeStore) ListCheckpoints(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Checkpoint
	for _, cp := range s.checkpoints {
		if cp.WorkflowID == workflowID {
			c := *cp
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StepNumber != out[j].StepNumber {
			return out[i].StepNumber < out[j].StepNumber
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *fakeStore) DeleteCheckpoint(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, id)
	return nil
}

// corruptCheckpoint flips the stored state data without touching the hash.
func (s *fakeStore) corruptCheckpoint(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.checkpoints[id]; ok {
		cp.StateData = append([]byte(nil), cp.StateData...)
		cp.StateData[0] ^= 0xff
	}
}

// fakeContent is an in-memory ContentService. When gate is non-nil,
// ValidateFile consumes one token per call, letting tests hold an execution
// mid-flight.
type fakeContent struct {
	mu        sync.Mutex
	validated []string
	enhanced  []string
	applied   []string

	gate          chan struct{}
	errorsPerFile int
	recsPerResult int
	validateErr   error
	// failAfter delays validateErr until this many files have validated.
	failAfter  int
	enhanceErr error
	applyErr   error
}

func (f *fakeContent) ValidateFile(ctx context.Context, workflowID, path string) (*validate.Result, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.validateErr != nil && f.validatedCount() >= f.failAfter {
		return nil, f.validateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validated = append(f.validated, path)
	return &validate.Result{
		ID:         fmt.Sprintf("res-%d", len(f.validated)),
		WorkflowID: workflowID,
		FilePath:   path,
		Passed:     f.errorsPerFile == 0,
		ErrorCount: f.errorsPerFile,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (f *fakeContent) EnhanceValidation(ctx context.Context, validationID string) (int, error) {
	if f.enhanceErr != nil {
		return 0, f.enhanceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enhanced = append(f.enhanced, validationID)
	return f.recsPerResult, nil
}

func (f *fakeContent) ApplyRecommendation(ctx context.Context, recommendationID string) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, recommendationID)
	return nil
}

func (f *fakeContent) ResultIDs(ctx context.Context, workflowID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.validated))
	for i := range f.validated {
		ids = append(ids, fmt.Sprintf("res-%d", i+1))
	}
	return ids, nil
}

func (f *fakeContent) validatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.validated)
}
