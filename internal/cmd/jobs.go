package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/vidsentry/pkg/jobregistry"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage job records",
	Long: `Manage the records of jobs run by this machine.

Every foreground, background and API job leaves a record under the job
registry directory. This command group is designed to be agent-friendly:

- stable job ids (unique prefixes are accepted)
- predictable on-disk locations
- optional JSON output for machine parsing`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show status for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsStopCmd = &cobra.Command{
	Use:   "stop <job_id>",
	Short: "Stop a running background job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStop,
}

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job_id>",
	Short: "Show logs for a background job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsLogs,
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect old job records",
	RunE:  runJobsGC,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsStopCmd)
	jobsCmd.AddCommand(jobsLogsCmd)
	jobsCmd.AddCommand(jobsGCCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsListCmd.Flags().String("kind", "", "Only show jobs of this kind")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStopCmd.Flags().String("signal", "term", "Signal to send: term or kill")
	jobsStopCmd.Flags().Duration("wait", 30*time.Second, "How long to wait after SIGTERM before sending SIGKILL")
	jobsLogsCmd.Flags().String("stream", "stdout", "Log stream: stdout, stderr, or both")
	jobsLogsCmd.Flags().Int("tail", 200, "Show last N lines (0 = no tail)")
	jobsLogsCmd.Flags().Bool("follow", false, "Follow log output")
	jobsGCCmd.Flags().String("max-age", "", "Delete finished jobs older than this duration (default: registry.max_age)")
	jobsGCCmd.Flags().Bool("dry-run", false, "Show how many jobs would be deleted")
	jobsGCCmd.Flags().Bool("json", false, "Output as JSON")
}

func jobsStore(cmd *cobra.Command) (*jobregistry.Store, error) {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return nil, err
	}
	return jobregistry.NewStore(cfg.Registry.Dir), nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	kind, _ := cmd.Flags().GetString("kind")

	store, err := jobsStore(cmd)
	if err != nil {
		return err
	}
	jobs, err := store.List()
	if err != nil {
		return err
	}
	if kind = strings.TrimSpace(kind); kind != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.Kind) == kind {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	return writeJobList(cmd.OutOrStdout(), jobs, jsonOutput)
}

func writeJobList(out io.Writer, jobs []jobregistry.JobRecord, jsonOutput bool) error {
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tKIND\tNAME\tSTATUS\tPROGRESS\tSTARTED\tENDED\tPID")
	for _, j := range jobs {
		name := j.Name
		if name == "" {
			name = "-"
		}
		pid := "-"
		if j.PID > 0 {
			pid = fmt.Sprintf("%d", j.PID)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%s\t%s\t%s\n",
			shortJobID(j.JobID),
			j.Kind,
			name,
			j.Status,
			j.Progress,
			formatOptionalTime(j.StartedAt),
			formatOptionalTime(j.EndedAt),
			pid,
		)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := jobsStore(cmd)
	if err != nil {
		return err
	}
	resolvedID, err := store.Resolve(args[0])
	if err != nil {
		return err
	}
	rec, err := store.Get(resolvedID)
	if err != nil {
		return err
	}
	return writeJobStatus(cmd.OutOrStdout(), rec, jsonOutput)
}

func writeJobStatus(out io.Writer, rec *jobregistry.JobRecord, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	_, _ = fmt.Fprintf(out, "job_id=%s\n", rec.JobID)
	_, _ = fmt.Fprintf(out, "kind=%s\n", rec.Kind)
	if rec.Name != "" {
		_, _ = fmt.Fprintf(out, "name=%s\n", rec.Name)
	}
	_, _ = fmt.Fprintf(out, "status=%s\n", rec.Status)
	_, _ = fmt.Fprintf(out, "progress=%d\n", rec.Progress)
	if rec.Error != "" {
		_, _ = fmt.Fprintf(out, "error=%s\n", rec.Error)
	}
	if rec.ManifestPath != "" {
		_, _ = fmt.Fprintf(out, "manifest_path=%s\n", rec.ManifestPath)
	}
	if rec.PID > 0 {
		_, _ = fmt.Fprintf(out, "pid=%d\n", rec.PID)
	}
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(out, "started_at=%s\n", rec.StartedAt.UTC().Format(time.RFC3339))
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(out, "ended_at=%s\n", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	if r := rec.Result; r != nil {
		switch {
		case r.Detection != nil:
			_, _ = fmt.Fprintf(out, "triggered=%v\n", r.Detection.Triggered)
			_, _ = fmt.Fprintf(out, "confidence=%.1f\n", r.Detection.ConfidenceScore)
		case r.Training != nil:
			_, _ = fmt.Fprintf(out, "model_id=%s\n", r.Training.ModelID)
			_, _ = fmt.Fprintf(out, "accuracy=%.3f\n", r.Training.Accuracy)
		case r.Upload != nil:
			_, _ = fmt.Fprintf(out, "storage_key=%s\n", r.Upload.StorageKey)
		}
	}
	return nil
}

func shortJobID(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if len(jobID) <= 12 {
		return jobID
	}
	return jobID[:12]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
