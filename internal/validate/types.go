package validate

import (
	"context"
	"time"
)

// Severity scores a single validation issue.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is one finding produced by a validator.
type Issue struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Line     int      `json:"line,omitempty"`
	Severity Severity `json:"severity"`
	Fixable  bool     `json:"fixable,omitempty"`
}

// Result is the aggregated validation outcome for one file in one workflow
// run.
type Result struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	FilePath   string    `json:"file_path"`
	Passed     bool      `json:"passed"`
	Issues     []Issue   `json:"issues,omitempty"`
	ErrorCount int       `json:"error_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecommendationStatus is the review lifecycle of a recommendation.
type RecommendationStatus string

const (
	StatusPending  RecommendationStatus = "pending"
	StatusApproved RecommendationStatus = "approved"
	StatusRejected RecommendationStatus = "rejected"
	StatusApplied  RecommendationStatus = "applied"
)

// Recommendation is a reviewable enhancement derived from a validation issue.
// Reviewers approve or reject pending recommendations; approved ones may be
// applied, which rewrites the target file when the issue has an automatic fix.
type Recommendation struct {
	ID           string               `json:"id"`
	ValidationID string               `json:"validation_id"`
	FilePath     string               `json:"file_path"`
	IssueCode    string               `json:"issue_code"`
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	Fixable      bool                 `json:"fixable"`
	Status       RecommendationStatus `json:"status"`
	CreatedAt    time.Time            `json:"created_at"`
	AppliedAt    *time.Time           `json:"applied_at,omitempty"`
}

// RecommendationUpdate is a partial update to a recommendation row.
type RecommendationUpdate struct {
	Status    *RecommendationStatus
	AppliedAt *time.Time
}

// Store is the persistence capability for validation results and
// recommendations.
type Store interface {
	SaveResult(ctx context.Context, res *Result) error
	GetResult(ctx context.Context, id string) (*Result, error)
	ListResults(ctx context.Context, workflowID string) ([]*Result, error)

	SaveRecommendation(ctx context.Context, rec *Recommendation) error
	GetRecommendation(ctx context.Context, id string) (*Recommendation, error)
	ListRecommendations(ctx context.Context, status RecommendationStatus) ([]*Recommendation, error)
	UpdateRecommendation(ctx context.Context, id string, upd RecommendationUpdate) (*Recommendation, error)
}
