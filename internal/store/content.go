package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/fyrsmithlabs/tbcv/internal/validate"
)

type resultRow struct {
	ID         string `db:"id"`
	WorkflowID string `db:"workflow_id"`
	FilePath   string `db:"file_path"`
	Passed     bool   `db:"passed"`
	Issues     string `db:"issues"`
	ErrorCount int    `db:"error_count"`
	CreatedAt  int64  `db:"created_at"`
}

func (r *resultRow) toResult() (*validate.Result, error) {
	var issues []validate.Issue
	if err := json.Unmarshal([]byte(r.Issues), &issues); err != nil {
		return nil, fmt.Errorf("decode issues for %s: %w", r.ID, err)
	}
	return &validate.Result{
		ID:         r.ID,
		WorkflowID: r.WorkflowID,
		FilePath:   r.FilePath,
		Passed:     r.Passed,
		Issues:     issues,
		ErrorCount: r.ErrorCount,
		CreatedAt:  time.Unix(0, r.CreatedAt).UTC(),
	}, nil
}

// SaveResult persists one validation result.
func (s *Store) SaveResult(ctx context.Context, res *validate.Result) error {
	issues := res.Issues
	if issues == nil {
		issues = []validate.Issue{}
	}
	encoded, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("encode issues: %w", err)
	}

	query, args, err := s.sb.Insert("validation_results").SetMap(sq.Eq{
		"id":          res.ID,
		"workflow_id": res.WorkflowID,
		"file_path":   res.FilePath,
		"passed":      res.Passed,
		"issues":      string(encoded),
		"error_count": res.ErrorCount,
		"created_at":  res.CreatedAt.UnixNano(),
	}).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert validation result: %w", err)
	}
	return nil
}

// GetResult returns the validation result, or (nil, nil) when the id is
// unknown.
func (s *Store) GetResult(ctx context.Context, id string) (*validate.Result, error) {
	query, args, err := s.sb.Select("*").From("validation_results").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	var row resultRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select validation result: %w", err)
	}
	return row.toResult()
}

// ListResults returns a workflow's validation results in creation order.
func (s *Store) ListResults(ctx context.Context, workflowID string) ([]*validate.Result, error) {
	query, args, err := s.sb.Select("*").From("validation_results").
		Where(sq.Eq{"workflow_id": workflowID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []resultRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select validation results: %w", err)
	}

	out := make([]*validate.Result, 0, len(rows))
	for i := range rows {
		res, err := rows[i].toResult()
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

type recommendationRow struct {
	ID           string        `db:"id"`
	ValidationID string        `db:"validation_id"`
	FilePath     string        `db:"file_path"`
	IssueCode    string        `db:"issue_code"`
	Title        string        `db:"title"`
	Description  string        `db:"description"`
	Fixable      bool          `db:"fixable"`
	Status       string        `db:"status"`
	CreatedAt    int64         `db:"created_at"`
	AppliedAt    sql.NullInt64 `db:"applied_at"`
}

func (r *recommendationRow) toRecommendation() *validate.Recommendation {
	rec := &validate.Recommendation{
		ID:           r.ID,
		ValidationID: r.ValidationID,
		FilePath:     r.FilePath,
		IssueCode:    r.IssueCode,
		Title:        r.Title,
		Description:  r.Description,
		Fixable:      r.Fixable,
		Status:       validate.RecommendationStatus(r.Status),
		CreatedAt:    time.Unix(0, r.CreatedAt).UTC(),
	}
	if r.AppliedAt.Valid {
		t := time.Unix(0, r.AppliedAt.Int64).UTC()
		rec.AppliedAt = &t
	}
	return rec
}

// SaveRecommendation persists one recommendation.
func (s *Store) SaveRecommendation(ctx context.Context, rec *validate.Recommendation) error {
	query, args, err := s.sb.Insert("recommendations").SetMap(sq.Eq{
		"id":            rec.ID,
		"validation_id": rec.ValidationID,
		"file_path":     rec.FilePath,
		"issue_code":    rec.IssueCode,
		"title":         rec.Title,
		"description":   rec.Description,
		"fixable":       rec.Fixable,
		"status":        string(rec.Status),
		"created_at":    rec.CreatedAt.UnixNano(),
	}).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert recommendation: %w", err)
	}
	return nil
}

// GetRecommendation returns the recommendation, or (nil, nil) when the id is
// unknown.
func (s *Store) GetRecommendation(ctx context.Context, id string) (*validate.Recommendation, error) {
	query, args, err := s.sb.Select("*").From("recommendations").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	var row recommendationRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select recommendation: %w", err)
	}
	return row.toRecommendation(), nil
}

// ListRecommendations returns recommendations in creation order, optionally
// filtered by status.
func (s *Store) ListRecommendations(ctx context.Context, status validate.RecommendationStatus) ([]*validate.Recommendation, error) {
	b := s.sb.Select("*").From("recommendations").OrderBy("created_at ASC")
	if status != "" {
		b = b.Where(sq.Eq{"status": string(status)})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []recommendationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select recommendations: %w", err)
	}

	out := make([]*validate.Recommendation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecommendation())
	}
	return out, nil
}

// UpdateRecommendation applies a partial update and returns the updated row,
// or (nil, nil) when the id is unknown.
func (s *Store) UpdateRecommendation(ctx context.Context, id string, upd validate.RecommendationUpdate) (*validate.Recommendation, error) {
	set := sq.Eq{}
	if upd.Status != nil {
		set["status"] = string(*upd.Status)
	}
	if upd.AppliedAt != nil {
		set["applied_at"] = upd.AppliedAt.UnixNano()
	}
	if len(set) == 0 {
		return s.GetRecommendation(ctx, id)
	}

	query, args, err := s.sb.Update("recommendations").SetMap(set).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update recommendation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, nil
	}
	return s.GetRecommendation(ctx, id)
}
