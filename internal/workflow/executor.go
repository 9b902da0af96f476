package workflow

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tbcv/internal/validate"
)

// ContentService is the validation/enhancement collaborator step executors
// drive. Implemented by validate.Service.
type ContentService interface {
	// ValidateFile runs all validators over one file and persists the result.
	ValidateFile(ctx context.Context, workflowID, path string) (*validate.Result, error)

	// EnhanceValidation derives recommendations from one validation result and
	// returns how many were created.
	EnhanceValidation(ctx context.Context, validationID string) (int, error)

	// ApplyRecommendation applies one approved recommendation.
	ApplyRecommendation(ctx context.Context, recommendationID string) error

	// ResultIDs lists the validation result ids produced for a workflow.
	ResultIDs(ctx context.Context, workflowID string) ([]string, error)
}

// StepExecutor is the per-workflow-type loop that processes units of work.
// Run returns nil both on completion and on a cooperative stop; the manager
// distinguishes the two by the persisted state. Any non-nil error is fatal
// and transitions the workflow to FAILED.
type StepExecutor interface {
	Type() Type
	Run(ctx context.Context, wf *Workflow) error
}

// stringParam extracts a required string key from input_params.
func stringParam(wf *Workflow, key string) (string, error) {
	v, ok := wf.Params[key]
	if !ok {
		return "", &MissingParamError{Key: key}
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", &MissingParamError{Key: key}
	}
	return s, nil
}

// stringSliceParam extracts a required list-of-strings key from input_params.
// JSON round-trips deliver []any, so both forms are accepted.
func stringSliceParam(wf *Workflow, key string) ([]string, error) {
	v, ok := wf.Params[key]
	if !ok {
		return nil, &MissingParamError{Key: key}
	}
	switch vs := v.(type) {
	case []string:
		if len(vs) == 0 {
			return nil, &MissingParamError{Key: key}
		}
		return vs, nil
	case []any:
		out := make([]string, 0, len(vs))
		for _, e := range vs {
			s, ok := e.(string)
			if !ok {
				return nil, &MissingParamError{Key: key}
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil, &MissingParamError{Key: key}
		}
		return out, nil
	default:
		return nil, &MissingParamError{Key: key}
	}
}

// listMarkdownFiles returns the markdown files under dir, sorted so the unit
// order is deterministic across runs and after checkpoint rollback.
func listMarkdownFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".md") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list markdown files in %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// maybeCheckpoint creates a checkpoint after every CheckpointEvery units.
func (m *Manager) maybeCheckpoint(ctx context.Context, wf *Workflow, step int, state *StepState) {
	if m.config.CheckpointEvery <= 0 || step%m.config.CheckpointEvery != 0 {
		return
	}
	name := fmt.Sprintf("step-%d", step)
	if _, err := m.checkpoints.Create(ctx, wf.ID, name, step, state); err != nil {
		// Checkpointing is best effort; a failed snapshot must not fail the
		// workflow it exists to protect.
		m.logger.Warn("checkpoint creation failed",
			zap.String("workflow_id", wf.ID),
			zap.Int("step", step),
			zap.Error(err))
		return
	}
	if m.checkpointsSaved != nil {
		m.checkpointsSaved.Add(ctx, 1)
	}
}

// directoryValidationExecutor validates every markdown file under
// input_params["directory_path"], one file per unit of work.
type directoryValidationExecutor struct {
	m *Manager
}

func (e *directoryValidationExecutor) Type() Type { return TypeDirectoryValidation }

func (e *directoryValidationExecutor) Run(ctx context.Context, wf *Workflow) error {
	dir, err := stringParam(wf, "directory_path")
	if err != nil {
		return err
	}
	files, err := listMarkdownFiles(dir)
	if err != nil {
		return err
	}

	_, err = e.m.runValidationPhase(ctx, wf, files, len(files))
	return err
}

// runValidationPhase validates files[wf.CurrentStep:] against a step budget of
// total, resuming mid-list when the workflow was rolled back to a checkpoint.
// It returns the number of errors found across processed files.
func (m *Manager) runValidationPhase(ctx context.Context, wf *Workflow, files []string, total int) (int, error) {
	start := wf.CurrentStep
	if start > len(files) {
		start = len(files)
	}
	if err := m.updateProgress(ctx, wf, start, total); err != nil {
		return 0, err
	}

	errorsCount := metaInt(wf.Metadata, "errors_count")
	processed := metaInt(wf.Metadata, "files_processed")

	for i := start; i < len(files); i++ {
		if m.CheckControl(wf.ID) == SignalStop {
			return errorsCount, nil
		}

		res, err := m.content.ValidateFile(ctx, wf.ID, files[i])
		if err != nil {
			return errorsCount, fmt.Errorf("validate %s: %w", files[i], err)
		}
		processed++
		errorsCount += res.ErrorCount

		step := i + 1
		if err := m.updateProgress(ctx, wf, step, total); err != nil {
			return errorsCount, err
		}
		if err := m.updateMetadata(ctx, wf, map[string]any{
			"files_processed": processed,
			"files_total":     len(files),
			"errors_count":    errorsCount,
		}); err != nil {
			return errorsCount, err
		}

		m.maybeCheckpoint(ctx, wf, step, &StepState{
			UnitsProcessed: processed,
			LastUnit:       files[i],
			ErrorsCount:    errorsCount,
		})
	}
	return errorsCount, nil
}

// batchEnhanceExecutor derives recommendations for each id in
// input_params["validation_ids"].
type batchEnhanceExecutor struct {
	m *Manager
}

func (e *batchEnhanceExecutor) Type() Type { return TypeBatchEnhance }

func (e *batchEnhanceExecutor) Run(ctx context.Context, wf *Workflow) error {
	ids, err := stringSliceParam(wf, "validation_ids")
	if err != nil {
		return err
	}
	return e.m.runEnhancementPhase(ctx, wf, ids, 0, len(ids))
}

// runEnhancementPhase enhances validation results, mapping unit j to workflow
// step offset+j+1 so full audits compose it after a validation phase.
func (m *Manager) runEnhancementPhase(ctx context.Context, wf *Workflow, ids []string, offset, total int) error {
	start := wf.CurrentStep - offset
	if start < 0 {
		start = 0
	}
	if start > len(ids) {
		start = len(ids)
	}

	recommended := metaInt(wf.Metadata, "recommendations_created")

	for j := start; j < len(ids); j++ {
		if m.CheckControl(wf.ID) == SignalStop {
			return nil
		}

		n, err := m.content.EnhanceValidation(ctx, ids[j])
		if err != nil {
			return fmt.Errorf("enhance validation %s: %w", ids[j], err)
		}
		recommended += n

		step := offset + j + 1
		if err := m.updateProgress(ctx, wf, step, total); err != nil {
			return err
		}
		if err := m.updateMetadata(ctx, wf, map[string]any{
			"recommendations_created": recommended,
		}); err != nil {
			return err
		}

		m.maybeCheckpoint(ctx, wf, step, &StepState{
			UnitsProcessed: j + 1,
			LastUnit:       ids[j],
			ErrorsCount:    metaInt(wf.Metadata, "errors_count"),
		})
	}
	return nil
}

// fullAuditExecutor runs directory validation, then an enhancement phase over
// every validation result the first phase produced. The step budget is fixed
// at twice the file count up front so progress stays monotonic across phases.
type fullAuditExecutor struct {
	m *Manager
}

func (e *fullAuditExecutor) Type() Type { return TypeFullAudit }

func (e *fullAuditExecutor) Run(ctx context.Context, wf *Workflow) error {
	dir, err := stringParam(wf, "directory_path")
	if err != nil {
		return err
	}
	files, err := listMarkdownFiles(dir)
	if err != nil {
		return err
	}
	total := 2 * len(files)

	if wf.CurrentStep < len(files) {
		if _, err := e.m.runValidationPhase(ctx, wf, files, total); err != nil {
			return err
		}
		if e.m.CheckControl(wf.ID) == SignalStop {
			return nil
		}
	}

	ids, err := e.m.content.ResultIDs(ctx, wf.ID)
	if err != nil {
		return fmt.Errorf("list validation results: %w", err)
	}
	if err := e.m.runEnhancementPhase(ctx, wf, ids, len(files), total); err != nil {
		return err
	}
	if e.m.CheckControl(wf.ID) == SignalStop {
		return nil
	}

	// Fewer results than files leaves a gap in the fixed budget; close it.
	return e.m.updateProgress(ctx, wf, total, total)
}

// recommendationBatchExecutor applies each approved recommendation in
// input_params["recommendation_ids"].
type recommendationBatchExecutor struct {
	m *Manager
}

func (e *recommendationBatchExecutor) Type() Type { return TypeRecommendationBatch }

func (e *recommendationBatchExecutor) Run(ctx context.Context, wf *Workflow) error {
	ids, err := stringSliceParam(wf, "recommendation_ids")
	if err != nil {
		return err
	}

	start := wf.CurrentStep
	if start > len(ids) {
		start = len(ids)
	}
	total := len(ids)
	if err := e.m.updateProgress(ctx, wf, start, total); err != nil {
		return err
	}

	applied := metaInt(wf.Metadata, "recommendations_applied")

	for i := start; i < len(ids); i++ {
		if e.m.CheckControl(wf.ID) == SignalStop {
			return nil
		}

		if err := e.m.content.ApplyRecommendation(ctx, ids[i]); err != nil {
			return fmt.Errorf("apply recommendation %s: %w", ids[i], err)
		}
		applied++

		step := i + 1
		if err := e.m.updateProgress(ctx, wf, step, total); err != nil {
			return err
		}
		if err := e.m.updateMetadata(ctx, wf, map[string]any{
			"recommendations_applied": applied,
		}); err != nil {
			return err
		}

		e.m.maybeCheckpoint(ctx, wf, step, &StepState{
			UnitsProcessed: applied,
			LastUnit:       ids[i],
		})
	}
	return nil
}

// metaInt reads an integer metric from workflow metadata. JSON round-trips
// deliver float64.
func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
