package validate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/tbcv/internal/validate"

// NotFoundError indicates a validation result or recommendation id that does
// not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// StatusError indicates a review operation attempted from a status that does
// not permit it.
type StatusError struct {
	RecommendationID string
	From             RecommendationStatus
	To               RecommendationStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("recommendation %s: cannot move from %s to %s", e.RecommendationID, e.From, e.To)
}

// Service runs validators over files and manages the recommendation review
// lifecycle.
type Service struct {
	store      Store
	validators []Validator
	logger     *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	fileCounter metric.Int64Counter
}

// NewService creates a validation service with the default validator set.
func NewService(store Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:      store,
		validators: DefaultValidators(),
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
	}

	var err error
	s.fileCounter, err = s.meter.Int64Counter(
		"tbcv.validate.files_total",
		metric.WithDescription("Total number of files validated, labeled by outcome"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		s.logger.Warn("failed to create file counter", zap.Error(err))
	}

	return s, nil
}

// ValidateFile runs every validator over the file and persists one aggregated
// result.
func (s *Service) ValidateFile(ctx context.Context, workflowID, path string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "validate.file")
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("path", path),
	)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var issues []Issue
	for _, v := range s.validators {
		issues = append(issues, v.Check(path, string(content))...)
	}

	errorCount := 0
	for _, is := range issues {
		if is.Severity == SeverityError {
			errorCount++
		}
	}

	res := &Result{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		FilePath:   path,
		Passed:     errorCount == 0,
		Issues:     issues,
		ErrorCount: errorCount,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.SaveResult(ctx, res); err != nil {
		return nil, fmt.Errorf("save validation result: %w", err)
	}

	outcome := "pass"
	if !res.Passed {
		outcome = "fail"
	}
	if s.fileCounter != nil {
		s.fileCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	s.logger.Debug("file validated",
		zap.String("path", path),
		zap.Int("issues", len(issues)),
		zap.Int("errors", errorCount))

	return res, nil
}

// EnhanceValidation derives one pending recommendation per issue of a
// validation result and returns how many were created.
func (s *Service) EnhanceValidation(ctx context.Context, validationID string) (int, error) {
	res, err := s.store.GetResult(ctx, validationID)
	if err != nil {
		return 0, fmt.Errorf("load validation result %s: %w", validationID, err)
	}
	if res == nil {
		return 0, &NotFoundError{Kind: "validation result", ID: validationID}
	}

	created := 0
	for _, issue := range res.Issues {
		rec := &Recommendation{
			ID:           uuid.New().String(),
			ValidationID: res.ID,
			FilePath:     res.FilePath,
			IssueCode:    issue.Code,
			Title:        fmt.Sprintf("Fix %s in %s", issue.Code, res.FilePath),
			Description:  issue.Message,
			Fixable:      issue.Fixable,
			Status:       StatusPending,
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.store.SaveRecommendation(ctx, rec); err != nil {
			return created, fmt.Errorf("save recommendation: %w", err)
		}
		created++
	}
	return created, nil
}

// ResultIDs lists the validation result ids produced for a workflow, in
// creation order.
func (s *Service) ResultIDs(ctx context.Context, workflowID string) ([]string, error) {
	results, err := s.store.ListResults(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// Results lists the validation results for a workflow.
func (s *Service) Results(ctx context.Context, workflowID string) ([]*Result, error) {
	return s.store.ListResults(ctx, workflowID)
}

// Recommendations lists recommendations, optionally filtered by status.
func (s *Service) Recommendations(ctx context.Context, status RecommendationStatus) ([]*Recommendation, error) {
	return s.store.ListRecommendations(ctx, status)
}

// Approve moves a pending recommendation to approved.
func (s *Service) Approve(ctx context.Context, recommendationID string) (*Recommendation, error) {
	return s.review(ctx, recommendationID, StatusApproved)
}

// Reject moves a pending recommendation to rejected.
func (s *Service) Reject(ctx context.Context, recommendationID string) (*Recommendation, error) {
	return s.review(ctx, recommendationID, StatusRejected)
}

func (s *Service) review(ctx context.Context, recommendationID string, to RecommendationStatus) (*Recommendation, error) {
	rec, err := s.store.GetRecommendation(ctx, recommendationID)
	if err != nil {
		return nil, fmt.Errorf("load recommendation %s: %w", recommendationID, err)
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "recommendation", ID: recommendationID}
	}
	if rec.Status != StatusPending {
		return nil, &StatusError{RecommendationID: recommendationID, From: rec.Status, To: to}
	}

	updated, err := s.store.UpdateRecommendation(ctx, recommendationID, RecommendationUpdate{Status: &to})
	if err != nil {
		return nil, fmt.Errorf("update recommendation: %w", err)
	}

	s.logger.Info("recommendation reviewed",
		zap.String("recommendation_id", recommendationID),
		zap.String("status", string(to)))
	return updated, nil
}

// ApplyRecommendation applies one approved recommendation. When the issue has
// an automatic fix the target file is rewritten; either way the
// recommendation is marked applied.
func (s *Service) ApplyRecommendation(ctx context.Context, recommendationID string) error {
	ctx, span := s.tracer.Start(ctx, "validate.apply")
	defer span.End()
	span.SetAttributes(attribute.String("recommendation_id", recommendationID))

	rec, err := s.store.GetRecommendation(ctx, recommendationID)
	if err != nil {
		return fmt.Errorf("load recommendation %s: %w", recommendationID, err)
	}
	if rec == nil {
		return &NotFoundError{Kind: "recommendation", ID: recommendationID}
	}
	if rec.Status != StatusApproved {
		return &StatusError{RecommendationID: recommendationID, From: rec.Status, To: StatusApplied}
	}

	if rec.Fixable {
		content, err := os.ReadFile(rec.FilePath)
		if err != nil {
			return fmt.Errorf("read %s: %w", rec.FilePath, err)
		}
		fixed, ok := applyFix(rec.IssueCode, string(content))
		if ok && fixed != string(content) {
			if err := os.WriteFile(rec.FilePath, []byte(fixed), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", rec.FilePath, err)
			}
		}
	}

	applied := StatusApplied
	now := time.Now().UTC()
	if _, err := s.store.UpdateRecommendation(ctx, recommendationID, RecommendationUpdate{
		Status:    &applied,
		AppliedAt: &now,
	}); err != nil {
		return fmt.Errorf("update recommendation: %w", err)
	}

	s.logger.Info("recommendation applied",
		zap.String("recommendation_id", recommendationID),
		zap.String("path", rec.FilePath),
		zap.Bool("fixable", rec.Fixable))
	return nil
}
