package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/tbcv/internal/workflow"
)

// Store is the SQLite-backed persistence layer. It implements workflow.Store
// and validate.Store.
type Store struct {
	db     *sqlx.DB
	sb     sq.StatementBuilderType
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema. WAL mode and foreign keys are enabled; writers retry for up to 5s
// on lock contention.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:     db,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
		logger: logger,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type workflowRow struct {
	ID              string        `db:"id"`
	Type            string        `db:"type"`
	State           string        `db:"state"`
	InputParams     string        `db:"input_params"`
	TotalSteps      int           `db:"total_steps"`
	CurrentStep     int           `db:"current_step"`
	ProgressPercent int           `db:"progress_percent"`
	ErrorMessage    string        `db:"error_message"`
	Metadata        string        `db:"metadata"`
	CreatedAt       int64         `db:"created_at"`
	UpdatedAt       int64         `db:"updated_at"`
	CompletedAt     sql.NullInt64 `db:"completed_at"`
}

func (r *workflowRow) toWorkflow() (*workflow.Workflow, error) {
	params := map[string]any{}
	if err := json.Unmarshal([]byte(r.InputParams), &params); err != nil {
		return nil, fmt.Errorf("decode input_params for %s: %w", r.ID, err)
	}
	meta := map[string]any{}
	if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", r.ID, err)
	}

	wf := &workflow.Workflow{
		ID:              r.ID,
		Type:            workflow.Type(r.Type),
		State:           workflow.State(r.State),
		Params:          params,
		TotalSteps:      r.TotalSteps,
		CurrentStep:     r.CurrentStep,
		ProgressPercent: r.ProgressPercent,
		ErrorMessage:    r.ErrorMessage,
		Metadata:        meta,
		CreatedAt:       time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:       time.Unix(0, r.UpdatedAt).UTC(),
	}
	if r.CompletedAt.Valid {
		t := time.Unix(0, r.CompletedAt.Int64).UTC()
		wf.CompletedAt = &t
	}
	return wf, nil
}

// CreateWorkflow persists a new workflow row.
func (s *Store) CreateWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	params, err := json.Marshal(orEmptyMap(wf.Params))
	if err != nil {
		return fmt.Errorf("encode input_params: %w", err)
	}
	meta, err := json.Marshal(orEmptyMap(wf.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	query, args, err := s.sb.Insert("workflows").SetMap(sq.Eq{
		"id":               wf.ID,
		"type":             string(wf.Type),
		"state":            string(wf.State),
		"input_params":     string(params),
		"total_steps":      wf.TotalSteps,
		"current_step":     wf.CurrentStep,
		"progress_percent": wf.ProgressPercent,
		"error_message":    wf.ErrorMessage,
		"metadata":         string(meta),
		"created_at":       wf.CreatedAt.UnixNano(),
		"updated_at":       wf.UpdatedAt.UnixNano(),
	}).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow returns the workflow, or (nil, nil) when the id is unknown.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	query, args, err := s.sb.Select("*").From("workflows").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	var row workflowRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select workflow: %w", err)
	}
	return row.toWorkflow()
}

// ListWorkflows returns workflows newest first, optionally filtered by state.
func (s *Store) ListWorkflows(ctx context.Context, state workflow.State) ([]*workflow.Workflow, error) {
	b := s.sb.Select("*").From("workflows").OrderBy("created_at DESC")
	if state != "" {
		b = b.Where(sq.Eq{"state": string(state)})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []workflowRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select workflows: %w", err)
	}

	out := make([]*workflow.Workflow, 0, len(rows))
	for i := range rows {
		wf, err := rows[i].toWorkflow()
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

// UpdateWorkflow applies a partial update in one statement and returns the
// updated row, or (nil, nil) when the id is unknown or the ExpectState guard
// does not match the stored row.
func (s *Store) UpdateWorkflow(ctx context.Context, id string, upd workflow.Update) (*workflow.Workflow, error) {
	set := sq.Eq{"updated_at": time.Now().UTC().UnixNano()}
	if upd.State != nil {
		set["state"] = string(*upd.State)
	}
	if upd.CurrentStep != nil {
		set["current_step"] = *upd.CurrentStep
	}
	if upd.TotalSteps != nil {
		set["total_steps"] = *upd.TotalSteps
	}
	if upd.ProgressPercent != nil {
		set["progress_percent"] = *upd.ProgressPercent
	}
	if upd.ErrorMessage != nil {
		set["error_message"] = *upd.ErrorMessage
	}
	if upd.CompletedAt != nil {
		set["completed_at"] = upd.CompletedAt.UnixNano()
	}
	if upd.Metadata != nil {
		meta, err := json.Marshal(upd.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		set["metadata"] = string(meta)
	}

	where := sq.Eq{"id": id}
	if upd.ExpectState != nil {
		where["state"] = string(*upd.ExpectState)
	}
	query, args, err := s.sb.Update("workflows").SetMap(set).Where(where).ToSql()
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update workflow: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, nil
	}

	return s.GetWorkflow(ctx, id)
}

// DeleteWorkflow removes a workflow and, via the foreign key, its
// checkpoints. Administrative use only; the workflow core never deletes.
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	query, args, err := s.sb.Delete("workflows").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}

type checkpointRow struct {
	ID             string `db:"id"`
	WorkflowID     string `db:"workflow_id"`
	Name           string `db:"name"`
	StepNumber     int    `db:"step_number"`
	StateData      []byte `db:"state_data"`
	ValidationHash string `db:"validation_hash"`
	CanResumeFrom  bool   `db:"can_resume_from"`
	CreatedAt      int64  `db:"created_at"`
}

func (r *checkpointRow) toCheckpoint() *workflow.Checkpoint {
	return &workflow.Checkpoint{
		ID:             r.ID,
		WorkflowID:     r.WorkflowID,
		Name:           r.Name,
		StepNumber:     r.StepNumber,
		StateData:      r.StateData,
		ValidationHash: r.ValidationHash,
		CanResumeFrom:  r.CanResumeFrom,
		CreatedAt:      time.Unix(0, r.CreatedAt).UTC(),
	}
}

// CreateCheckpoint persists a new checkpoint row. Checkpoints are immutable:
// there is deliberately no update method.
func (s *Store) CreateCheckpoint(ctx context.Context, cp *workflow.Checkpoint) error {
	query, args, err := s.sb.Insert("checkpoints").SetMap(sq.Eq{
		"id":              cp.ID,
		"workflow_id":     cp.WorkflowID,
		"name":            cp.Name,
		"step_number":     cp.StepNumber,
		"state_data":      cp.StateData,
		"validation_hash": cp.ValidationHash,
		"can_resume_from": cp.CanResumeFrom,
		"created_at":      cp.CreatedAt.UnixNano(),
	}).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint returns the checkpoint, or (nil, nil) when the id is unknown.
func (s *Store) GetCheckpoint(ctx context.Context, id string) (*workflow.Checkpoint, error) {
	query, args, err := s.sb.Select("*").From("checkpoints").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	var row checkpointRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	return row.toCheckpoint(), nil
}

// ListCheckpoints returns a workflow's checkpoints ordered by step number
// ascending.
func (s *Store) ListCheckpoints(ctx context.Context, workflowID string) ([]*workflow.Checkpoint, error) {
	query, args, err := s.sb.Select("*").From("checkpoints").
		Where(sq.Eq{"workflow_id": workflowID}).
		OrderBy("step_number ASC", "created_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []checkpointRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}

	out := make([]*workflow.Checkpoint, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toCheckpoint())
	}
	return out, nil
}

// DeleteCheckpoint removes a checkpoint row.
func (s *Store) DeleteCheckpoint(ctx context.Context, id string) error {
	query, args, err := s.sb.Delete("checkpoints").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
