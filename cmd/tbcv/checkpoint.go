package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var cpKeep int

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointRollbackCmd)
	checkpointCmd.AddCommand(checkpointRecoverCmd)
	checkpointCmd.AddCommand(checkpointCleanupCmd)

	checkpointCleanupCmd.Flags().IntVar(&cpKeep, "keep", 3, "Number of checkpoints to keep")
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Manage workflow checkpoints",
	Long: `Manage workflow checkpoints.

Checkpoints snapshot step-local state during workflow execution. A failed or
interrupted workflow can be rolled back to a checkpoint, or recovered from
its most recent valid one.

Examples:
  # List a workflow's checkpoints
  tbcv checkpoint list <workflow-id>

  # Roll a workflow back to a checkpoint
  tbcv checkpoint rollback <workflow-id> <checkpoint-id>

  # Recover from the latest valid checkpoint
  tbcv checkpoint recover <workflow-id>

  # Keep only the three most recent checkpoints
  tbcv checkpoint cleanup <workflow-id> --keep 3`,
}

// cliCheckpoint mirrors the checkpoint JSON emitted by tbcvd.
type cliCheckpoint struct {
	ID            string    `json:"id"`
	WorkflowID    string    `json:"workflow_id"`
	Name          string    `json:"name"`
	StepNumber    int       `json:"step_number"`
	CanResumeFrom bool      `json:"can_resume_from"`
	CreatedAt     time.Time `json:"created_at"`
}

var checkpointListCmd = &cobra.Command{
	Use:   "list <workflow-id>",
	Short: "List a workflow's checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointList,
}

var checkpointRollbackCmd = &cobra.Command{
	Use:   "rollback <workflow-id> <checkpoint-id>",
	Short: "Roll a workflow back to a checkpoint",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckpointRollback,
}

var checkpointRecoverCmd = &cobra.Command{
	Use:   "recover <workflow-id>",
	Short: "Recover a workflow from its latest valid checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointRecover,
}

var checkpointCleanupCmd = &cobra.Command{
	Use:   "cleanup <workflow-id>",
	Short: "Delete old checkpoints, keeping the most recent ones",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointCleanup,
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	var cps []cliCheckpoint
	if err := getJSON("/api/v1/workflows/"+args[0]+"/checkpoints", &cps); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(cps)
	}

	if len(cps) == 0 {
		fmt.Println("No checkpoints found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTEP\tRESUMABLE\tCREATED")
	for _, cp := range cps {
		resumable := ""
		if cp.CanResumeFrom {
			resumable = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			truncate(cp.ID, 12),
			truncate(cp.Name, 30),
			cp.StepNumber,
			resumable,
			cp.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runCheckpointRollback(cmd *cobra.Command, args []string) error {
	var wf cliWorkflow
	path := "/api/v1/workflows/" + args[0] + "/checkpoints/" + args[1] + "/rollback"
	if err := postJSON(path, nil, &wf); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(wf)
	}
	fmt.Printf("Rolled back to step %d\n", wf.CurrentStep)
	fmt.Printf("State: %s\n", wf.State)
	fmt.Printf("Progress: %d%%\n", wf.ProgressPercent)
	return nil
}

func runCheckpointRecover(cmd *cobra.Command, args []string) error {
	var resp struct {
		Checkpoint *cliCheckpoint `json:"checkpoint"`
		Restarted  bool           `json:"restarted"`
	}
	if err := postJSON("/api/v1/workflows/"+args[0]+"/recover", nil, &resp); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(resp)
	}

	if resp.Restarted {
		fmt.Println("No usable checkpoint found; workflow reset for a fresh run")
		return nil
	}
	fmt.Printf("Recovered from checkpoint %s (step %d)\n", resp.Checkpoint.ID, resp.Checkpoint.StepNumber)
	return nil
}

func runCheckpointCleanup(cmd *cobra.Command, args []string) error {
	var resp struct {
		Deleted int `json:"deleted"`
		Kept    int `json:"kept"`
	}
	path := "/api/v1/workflows/" + args[0] + "/checkpoints/cleanup?keep=" + strconv.Itoa(cpKeep)
	if err := postJSON(path, nil, &resp); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(resp)
	}
	fmt.Printf("Deleted %d checkpoint(s), keeping up to %d\n", resp.Deleted, resp.Kept)
	return nil
}
