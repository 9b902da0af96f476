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
	// workflow command flags
	wfDirectory         string
	wfValidationIDs     []string
	wfRecommendationIDs []string
	wfStateFilter       string
	wfWait              bool
	wfReportDetails     bool
)

func init() {
	rootCmd.AddCommand(workflowCmd)
	workflowCmd.AddCommand(workflowRunCmd)
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowShowCmd)
	workflowCmd.AddCommand(workflowPauseCmd)
	workflowCmd.AddCommand(workflowResumeCmd)
	workflowCmd.AddCommand(workflowCancelCmd)
	workflowCmd.AddCommand(workflowStatusCmd)
	workflowCmd.AddCommand(workflowReportCmd)

	workflowRunCmd.Flags().StringVar(&wfDirectory, "dir", "", "Content directory for validate_directory and full_audit")
	workflowRunCmd.Flags().StringSliceVar(&wfValidationIDs, "validation-id", nil, "Validation result ids for batch_enhance")
	workflowRunCmd.Flags().StringSliceVar(&wfRecommendationIDs, "recommendation-id", nil, "Approved recommendation ids for recommendation_batch")
	workflowRunCmd.Flags().BoolVar(&wfWait, "wait", false, "Poll until the workflow reaches a terminal state")

	workflowListCmd.Flags().StringVar(&wfStateFilter, "state", "", "Filter by state (pending, running, paused, completed, failed, cancelled)")

	workflowReportCmd.Flags().BoolVar(&wfReportDetails, "details", false, "Include summary metrics and checkpoint history")
}

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Run and control validation workflows",
	Long: `Run and control long-running validation workflows.

Workflow types:
  validate_directory    Validate every markdown file under a directory
  batch_enhance         Derive recommendations for validation results
  full_audit            Directory validation followed by enhancement
  recommendation_batch  Apply approved recommendations

Examples:
  # Validate a docs tree and wait for the result
  tbcv workflow run validate_directory --dir ./docs --wait

  # Pause and later resume a running workflow
  tbcv workflow pause <workflow-id>
  tbcv workflow resume <workflow-id>

  # Watch progress
  tbcv workflow status <workflow-id>`,
}

// cliWorkflow mirrors the workflow JSON emitted by tbcvd.
type cliWorkflow struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	State           string         `json:"state"`
	Params          map[string]any `json:"input_params"`
	TotalSteps      int            `json:"total_steps"`
	CurrentStep     int            `json:"current_step"`
	ProgressPercent int            `json:"progress_percent"`
	ErrorMessage    string         `json:"error_message"`
	CreatedAt       time.Time      `json:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at"`
}

type cliWorkflowList struct {
	Workflows []cliWorkflow `json:"workflows"`
	Active    []string      `json:"active"`
}

type cliSummary struct {
	WorkflowID      string  `json:"workflow_id"`
	Type            string  `json:"type"`
	State           string  `json:"state"`
	ProgressPercent int     `json:"progress_percent"`
	CurrentStep     int     `json:"current_step"`
	TotalSteps      int     `json:"total_steps"`
	FilesProcessed  int     `json:"files_processed"`
	FilesTotal      int     `json:"files_total"`
	ErrorsCount     int     `json:"errors_count"`
	DurationSeconds float64 `json:"duration_seconds"`
	ETASeconds      float64 `json:"eta_seconds"`
}

var workflowRunCmd = &cobra.Command{
	Use:   "run <type>",
	Short: "Create and start a workflow",
	Long: `Create a workflow of the given type and start executing it.

Examples:
  # Validate a directory
  tbcv workflow run validate_directory --dir ./docs

  # Full audit, waiting for completion
  tbcv workflow run full_audit --dir ./docs --wait

  # Enhance specific validation results
  tbcv workflow run batch_enhance --validation-id id1 --validation-id id2`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflowRun,
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows",
	RunE:  runWorkflowList,
}

var workflowShowCmd = &cobra.Command{
	Use:   "show <workflow-id>",
	Short: "Show one workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowShow,
}

var workflowPauseCmd = &cobra.Command{
	Use:   "pause <workflow-id>",
	Short: "Pause a running workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  controlCommand("pause"),
}

var workflowResumeCmd = &cobra.Command{
	Use:   "resume <workflow-id>",
	Short: "Resume a paused workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  controlCommand("resume"),
}

var workflowCancelCmd = &cobra.Command{
	Use:   "cancel <workflow-id>",
	Short: "Cancel a workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  controlCommand("cancel"),
}

var workflowStatusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Show progress, duration, and ETA for a workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowStatus,
}

var workflowReportCmd = &cobra.Command{
	Use:   "report <workflow-id>",
	Short: "Generate a workflow report",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowReport,
}

func runWorkflowRun(cmd *cobra.Command, args []string) error {
	params := map[string]any{}
	if wfDirectory != "" {
		params["directory_path"] = wfDirectory
	}
	if len(wfValidationIDs) > 0 {
		params["validation_ids"] = wfValidationIDs
	}
	if len(wfRecommendationIDs) > 0 {
		params["recommendation_ids"] = wfRecommendationIDs
	}

	var wf cliWorkflow
	if err := postJSON("/api/v1/workflows", map[string]any{
		"type":   args[0],
		"params": params,
	}, &wf); err != nil {
		return err
	}

	if err := postJSON("/api/v1/workflows/"+wf.ID+"/start", nil, nil); err != nil {
		return err
	}

	if !wfWait {
		if outputJSON {
			return printJSON(wf)
		}
		fmt.Printf("Workflow started\n")
		fmt.Printf("ID: %s\n", wf.ID)
		fmt.Printf("Type: %s\n", wf.Type)
		return nil
	}

	return waitForWorkflow(wf.ID)
}

// waitForWorkflow polls the workflow until it reaches a terminal state.
func waitForWorkflow(id string) error {
	for {
		time.Sleep(500 * time.Millisecond)

		var wf cliWorkflow
		if err := getJSON("/api/v1/workflows/"+id, &wf); err != nil {
			return err
		}

		switch wf.State {
		case "completed":
			fmt.Printf("Workflow %s completed (%d/%d steps)\n", id, wf.CurrentStep, wf.TotalSteps)
			return nil
		case "failed":
			return fmt.Errorf("workflow %s failed: %s", id, wf.ErrorMessage)
		case "cancelled":
			return fmt.Errorf("workflow %s was cancelled", id)
		}

		fmt.Fprintf(os.Stderr, "\r%s %3d%% (%d/%d)", wf.State, wf.ProgressPercent, wf.CurrentStep, wf.TotalSteps)
	}
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	path := "/api/v1/workflows"
	if wfStateFilter != "" {
		path += "?state=" + url.QueryEscape(wfStateFilter)
	}

	var list cliWorkflowList
	if err := getJSON(path, &list); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(list)
	}

	if len(list.Workflows) == 0 {
		fmt.Println("No workflows found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATE\tPROGRESS\tCREATED")
	for _, wf := range list.Workflows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\n",
			truncate(wf.ID, 12),
			wf.Type,
			wf.State,
			wf.ProgressPercent,
			wf.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runWorkflowShow(cmd *cobra.Command, args []string) error {
	var wf cliWorkflow
	if err := getJSON("/api/v1/workflows/"+args[0], &wf); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(wf)
	}

	fmt.Printf("ID: %s\n", wf.ID)
	fmt.Printf("Type: %s\n", wf.Type)
	fmt.Printf("State: %s\n", wf.State)
	fmt.Printf("Progress: %d%% (%d/%d steps)\n", wf.ProgressPercent, wf.CurrentStep, wf.TotalSteps)
	fmt.Printf("Created: %s\n", wf.CreatedAt.Format("2006-01-02 15:04:05"))
	if wf.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", wf.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if wf.ErrorMessage != "" {
		fmt.Printf("Error: %s\n", wf.ErrorMessage)
	}
	return nil
}

// controlCommand builds a RunE for the pause/resume/cancel endpoints, which
// share a request and response shape.
func controlCommand(action string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var resp struct {
			State string `json:"state"`
		}
		if err := postJSON("/api/v1/workflows/"+args[0]+"/"+action, nil, &resp); err != nil {
			return err
		}

		if outputJSON {
			return printJSON(resp)
		}
		fmt.Printf("Workflow %s is now %s\n", args[0], resp.State)
		return nil
	}
}

func runWorkflowStatus(cmd *cobra.Command, args []string) error {
	var s cliSummary
	if err := getJSON("/api/v1/workflows/"+args[0]+"/summary", &s); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(s)
	}

	fmt.Printf("Workflow: %s\n", s.WorkflowID)
	fmt.Printf("Type: %s\n", s.Type)
	fmt.Printf("State: %s\n", s.State)
	fmt.Printf("Progress: %d%% (%d/%d steps)\n", s.ProgressPercent, s.CurrentStep, s.TotalSteps)
	fmt.Printf("Files: %d/%d processed, %d error(s)\n", s.FilesProcessed, s.FilesTotal, s.ErrorsCount)
	fmt.Printf("Duration: %.1fs\n", s.DurationSeconds)
	if s.State == "running" && s.ETASeconds > 0 {
		fmt.Printf("ETA: %.1fs\n", s.ETASeconds)
	}
	return nil
}

func runWorkflowReport(cmd *cobra.Command, args []string) error {
	path := "/api/v1/workflows/" + args[0] + "/report"
	if wfReportDetails {
		path += "?details=true"
	}

	var report map[string]any
	if err := getJSON(path, &report); err != nil {
		return err
	}
	// Reports are structured data; always emit JSON.
	return printJSON(report)
}
