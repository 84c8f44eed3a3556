package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/jobregistry"
)

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	return true
}

// runJobsStop signals the process that owns a background job. A stopped
// run cancels its job, so the record ends up failed either way; when the
// process dies without writing that, the record is closed here.
func runJobsStop(cmd *cobra.Command, args []string) error {
	sigStr, _ := cmd.Flags().GetString("signal")
	sigStr = strings.TrimSpace(strings.ToLower(sigStr))
	if sigStr == "" {
		sigStr = "term"
	}
	wait, _ := cmd.Flags().GetDuration("wait")

	sig := syscall.SIGTERM
	switch sigStr {
	case "term":
	case "kill":
		sig = syscall.SIGKILL
	default:
		return fmt.Errorf("invalid --signal %q (expected term or kill)", sigStr)
	}

	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	exec := jobregistry.NewExecutor(cfg.Registry.Dir)
	store := exec.Store()

	resolvedID, err := store.Resolve(args[0])
	if err != nil {
		return err
	}
	rec, err := exec.Stop(resolvedID, sig)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sig == syscall.SIGTERM {
		deadline := time.Now().Add(wait)
		for time.Now().Before(deadline) {
			if !isProcessAlive(rec.PID) {
				closeStoppedRecord(store, rec.JobID)
				_, _ = fmt.Fprintf(out, "sent=term\n")
				return nil
			}
			time.Sleep(250 * time.Millisecond)
		}

		if p, err := os.FindProcess(rec.PID); err == nil {
			_ = p.Signal(syscall.SIGKILL)
		}
		closeStoppedRecord(store, rec.JobID)
		_, _ = fmt.Fprintf(out, "sent=term;forced=kill\n")
		return nil
	}

	closeStoppedRecord(store, rec.JobID)
	_, _ = fmt.Fprintf(out, "sent=kill\n")
	return nil
}

// closeStoppedRecord marks a still-running record failed after its owner
// was stopped.
func closeStoppedRecord(store *jobregistry.Store, jobID string) {
	rec, err := store.Get(jobID)
	if err != nil || rec.Status != job.StatusRunning {
		return
	}
	now := time.Now().UTC()
	rec.Status = job.StatusFailed
	rec.Error = "stopped by operator"
	rec.EndedAt = &now
	rec.LastHeartbeat = &now
	_ = store.Write(rec)
}

type jobsGCResult struct {
	Deleted      int    `json:"deleted"`
	WouldDelete  int    `json:"would_delete"`
	DryRun       bool   `json:"dry_run"`
	MaxAgeString string `json:"max_age"`
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}

	maxAge := cfg.Registry.MaxAge
	if s, _ := cmd.Flags().GetString("max-age"); strings.TrimSpace(s) != "" {
		maxAge, err = time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid --max-age: %w", err)
		}
	}
	if maxAge <= 0 {
		return fmt.Errorf("--max-age must be > 0")
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	store := jobregistry.NewStore(cfg.Registry.Dir)
	n, err := store.GC(jobregistry.GCOptions{MaxAge: maxAge, DryRun: dryRun})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		res := jobsGCResult{DryRun: dryRun, MaxAgeString: maxAge.String()}
		if dryRun {
			res.WouldDelete = n
		} else {
			res.Deleted = n
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if dryRun {
		_, _ = fmt.Fprintf(out, "would_delete=%d\n", n)
		return nil
	}
	_, _ = fmt.Fprintf(out, "deleted=%d\n", n)
	return nil
}
