package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	recStatusFilter string
)

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	reviewCmd.AddCommand(reviewApplyCmd)

	rootCmd.AddCommand(validationsCmd)

	reviewListCmd.Flags().StringVar(&recStatusFilter, "status", "", "Filter by status (pending, approved, rejected, applied)")
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review enhancement recommendations",
	Long: `Review enhancement recommendations derived from validation results.

Recommendations start out pending. Approve or reject them, then apply
approved ones; applying a fixable recommendation rewrites the file.

Examples:
  # List pending recommendations
  tbcv review list --status pending

  # Approve and apply
  tbcv review approve <recommendation-id>
  tbcv review apply <recommendation-id>`,
}

// cliRecommendation mirrors the recommendation JSON emitted by tbcvd.
type cliRecommendation struct {
	ID           string     `json:"id"`
	ValidationID string     `json:"validation_id"`
	FilePath     string     `json:"file_path"`
	IssueCode    string     `json:"issue_code"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Fixable      bool       `json:"fixable"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	AppliedAt    *time.Time `json:"applied_at"`
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recommendations",
	RunE:  runReviewList,
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <recommendation-id>",
	Short: "Approve a pending recommendation",
	Args:  cobra.ExactArgs(1),
	RunE:  reviewAction("approve"),
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <recommendation-id>",
	Short: "Reject a pending recommendation",
	Args:  cobra.ExactArgs(1),
	RunE:  reviewAction("reject"),
}

var reviewApplyCmd = &cobra.Command{
	Use:   "apply <recommendation-id>",
	Short: "Apply an approved recommendation",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewApply,
}

func runReviewList(cmd *cobra.Command, args []string) error {
	path := "/api/v1/recommendations"
	if recStatusFilter != "" {
		path += "?status=" + url.QueryEscape(recStatusFilter)
	}

	var recs []cliRecommendation
	if err := getJSON(path, &recs); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(recs)
	}

	if len(recs) == 0 {
		fmt.Println("No recommendations found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tISSUE\tSTATUS\tFIXABLE")
	for _, rec := range recs {
		fixable := ""
		if rec.Fixable {
			fixable = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncate(rec.ID, 12),
			truncate(rec.FilePath, 40),
			rec.IssueCode,
			rec.Status,
			fixable,
		)
	}
	return w.Flush()
}

func reviewAction(action string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var rec cliRecommendation
		if err := postJSON("/api/v1/recommendations/"+args[0]+"/"+action, nil, &rec); err != nil {
			return err
		}

		if outputJSON {
			return printJSON(rec)
		}
		fmt.Printf("Recommendation %s is now %s\n", args[0], rec.Status)
		return nil
	}
}

func runReviewApply(cmd *cobra.Command, args []string) error {
	if err := postJSON("/api/v1/recommendations/"+args[0]+"/apply", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Recommendation %s applied\n", args[0])
	return nil
}

// validationsCmd lists a workflow's validation results.
var validationsCmd = &cobra.Command{
	Use:   "validations <workflow-id>",
	Short: "List a workflow's validation results",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidations,
}

type cliValidationResult struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	FilePath   string    `json:"file_path"`
	Passed     bool      `json:"passed"`
	ErrorCount int       `json:"error_count"`
	CreatedAt  time.Time `json:"created_at"`
	Issues     []struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Line     int    `json:"line"`
		Severity string `json:"severity"`
		Fixable  bool   `json:"fixable"`
	} `json:"issues"`
}

func runValidations(cmd *cobra.Command, args []string) error {
	var results []cliValidationResult
	if err := getJSON("/api/v1/workflows/"+args[0]+"/validations", &results); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(results)
	}

	if len(results) == 0 {
		fmt.Println("No validation results found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tPASSED\tISSUES\tERRORS")
	for _, res := range results {
		passed := "no"
		if res.Passed {
			passed = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
			truncate(res.ID, 12),
			truncate(res.FilePath, 40),
			passed,
			len(res.Issues),
			res.ErrorCount,
		)
	}
	return w.Flush()
}
