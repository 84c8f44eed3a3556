package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/vidsentry/internal/config"
	"github.com/3leaps/vidsentry/internal/observability"
	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/jobregistry"
	"github.com/3leaps/vidsentry/pkg/jobrunner"
	"github.com/3leaps/vidsentry/pkg/manifest"
	"github.com/3leaps/vidsentry/pkg/output"
	"github.com/3leaps/vidsentry/pkg/videostore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a job from a manifest",
	Long: `Run an upload, detection or training job as defined in a YAML or JSON
manifest file.

In the foreground, job activity is written to stdout as JSONL records.
With --background the job is handed to a managed child process and can be
followed with 'vidsentry jobs'.

Example:
  vidsentry run --job detect.yaml
  vidsentry run --job train.yaml --background --name nightly-train
  vidsentry run --job detect.yaml --dry-run`,
	RunE: runManifest,
}

var (
	runJobPath      string
	runOutput       string
	runDryRun       bool
	runBackground   bool
	runName         string
	runDedupe       bool
	runManagedJobID string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runJobPath, "job", "j", "", "Path to job manifest (required)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Write JSONL records to this file instead of stdout")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Validate manifest and show the job without running it")
	runCmd.Flags().BoolVar(&runBackground, "background", false, "Run as a managed background job")
	runCmd.Flags().StringVar(&runName, "name", "", "Label for the background job (defaults to the manifest name)")
	runCmd.Flags().BoolVar(&runDedupe, "dedupe", true, "Refuse to start when the same manifest is already running in the background")
	runCmd.Flags().StringVar(&runManagedJobID, "_managed-job-id", "", "")
	_ = runCmd.Flags().MarkHidden("_managed-job-id")

	_ = runCmd.MarkFlagRequired("job")
}

func runManifest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	m, err := manifest.Load(runJobPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", runJobPath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	kind, err := m.JobKind()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", runJobPath),
		zap.String("kind", kind.String()),
		zap.String("name", m.Name))

	if runDryRun {
		return showJobPlan(cmd.OutOrStdout(), kind, m)
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	if runBackground {
		name := runName
		if name == "" {
			name = m.Name
		}
		exec := jobregistry.NewExecutor(cfg.Registry.Dir)
		rec, err := exec.StartBackground(runJobPath, kind, jobregistry.BackgroundOptions{Name: name, Dedupe: runDedupe})
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start background job", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "job_id=%s\n", rec.JobID)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stdout=%s\n", rec.StdoutPath)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stderr=%s\n", rec.StderrPath)
		return nil
	}

	params, payload, err := manifestRequest(m)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read job input", err)
	}

	out, closeOut, err := openOutput(cmd.OutOrStdout(), runOutput)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer closeOut()

	return runJob(ctx, cfg, jobrunner.Request{
		Kind:    kind,
		Params:  params,
		Payload: payload,
		ID:      runManagedJobID,
	}, out)
}

// manifestRequest turns a manifest into job params. A local source file is
// stat'ed and sniffed so validation sees its real size and type.
func manifestRequest(m *manifest.Manifest) (job.Params, jobrunner.Payload, error) {
	params := m.Params()
	if path := m.SourceFile(); path != "" {
		src, payload, err := localSource(path, params.Source.ContentType)
		if err != nil {
			return params, nil, err
		}
		src.URL = params.Source.URL
		params.Source = src
		return params, payload, nil
	}
	return params, nil, nil
}

// localSource describes a video on disk. The file is referenced in place,
// never deleted.
func localSource(path, contentType string) (job.Source, jobrunner.Payload, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return job.Source{}, nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return job.Source{}, nil, err
	}
	if st.IsDir() {
		return job.Source{}, nil, fmt.Errorf("%s is a directory", abs)
	}
	if strings.TrimSpace(contentType) == "" {
		if sniffed, err := videostore.DetectFile(abs); err == nil {
			contentType = sniffed
		}
	}
	return job.Source{
		FileName:    filepath.Base(abs),
		ContentType: contentType,
		Size:        st.Size(),
	}, jobrunner.FilePayload{Path: abs}, nil
}

func openOutput(stdout io.Writer, path string) (*output.JSONLWriter, func(), error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "file:")
	if path == "" || path == "stdout" {
		w := output.NewJSONLWriter(stdout)
		return w, func() { _ = w.Close() }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	w := output.NewJSONLWriter(f)
	return w, func() {
		_ = w.Close()
		_ = f.Close()
	}, nil
}

func showJobPlan(w io.Writer, kind job.Kind, m *manifest.Manifest) error {
	params := m.Params().WithDefaults(kind)
	plan := job.PlanFor(kind, params)

	_, _ = fmt.Fprintln(w, "=== Job Plan (dry-run) ===")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Kind:        %s\n", kind)
	if m.Name != "" {
		_, _ = fmt.Fprintf(w, "Name:        %s\n", m.Name)
	}
	switch kind {
	case job.KindUpload, job.KindDetection:
		_, _ = fmt.Fprintf(w, "Source:      %s\n", params.Source.Name())
	}
	switch kind {
	case job.KindDetection:
		_, _ = fmt.Fprintf(w, "Detection:   %s\n", params.Detection.Type)
		_, _ = fmt.Fprintf(w, "Model:       %s\n", params.Detection.Model)
		_, _ = fmt.Fprintf(w, "Threshold:   %.0f\n", params.Detection.Threshold)
		_, _ = fmt.Fprintf(w, "Save:        %v\n", params.Detection.ShouldSave())
	case job.KindTraining:
		_, _ = fmt.Fprintf(w, "Model name:  %s\n", params.Training.ModelName)
		_, _ = fmt.Fprintf(w, "Model type:  %s\n", params.Training.ModelType)
		_, _ = fmt.Fprintf(w, "Dataset:     %s\n", params.Training.DatasetSource())
		_, _ = fmt.Fprintf(w, "Epochs:      %d\n", params.Training.Epochs)
		_, _ = fmt.Fprintf(w, "Learn rate:  %g\n", params.Training.LearningRate)
	}
	_, _ = fmt.Fprintf(w, "Ticks:       %d every %s\n", plan.TotalTicks, plan.Interval)
	_, _ = fmt.Fprintln(w)

	if err := job.Validate(kind, params); err != nil {
		_, _ = fmt.Fprintf(w, "Validation:  %v\n", err)
		return exitError(foundry.ExitInvalidArgument, "Invalid job parameters", err)
	}
	_, _ = fmt.Fprintln(w, "Manifest validated successfully. Remove --dry-run to execute.")
	return nil
}

// runJob runs one job in this process and streams its events to w until it
// finishes. Interrupting ctx cancels the job.
func runJob(ctx context.Context, cfg *config.Config, req jobrunner.Request, w output.Writer) error {
	rt, err := newJobRuntime(ctx, cfg, runtimeOptions{Logger: observability.CLILogger})
	if err != nil {
		return err
	}
	defer rt.Close()

	return streamJob(ctx, rt.manager, req, w)
}

// streamJob submits req to m and writes each event of the job to w. It
// returns when the job completes or fails.
func streamJob(ctx context.Context, m *jobrunner.Manager, req jobrunner.Request, w output.Writer) error {
	bus := m.Events()
	seq := bus.LastSeq()

	j, err := m.Submit(ctx, req)
	if err != nil {
		if werr := w.WriteError(ctx, j, output.ErrorFor(err)); werr != nil {
			observability.CLILogger.Warn("Failed to write error record", zap.Error(werr))
		}
		if job.IsValidation(err) {
			return exitError(foundry.ExitInvalidArgument, "Invalid job parameters", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start job", err)
	}

	observability.CLILogger.Info("Job started",
		zap.String("job_id", j.ID),
		zap.String("kind", j.Kind.String()),
		zap.Int("total_ticks", j.TotalTicks))

	for {
		events, err := bus.Wait(ctx, seq)
		if err != nil {
			if ctx.Err() != nil {
				cancelled, _ := m.Cancel(j.ID, errors.New("interrupted"))
				_ = w.WriteError(context.Background(), cancelled, &output.ErrorRecord{Code: output.ErrCodeFailed, Message: "interrupted"})
				observability.CLILogger.Warn("Job cancelled", zap.String("job_id", j.ID))
				return exitError(foundry.ExitSignalInt, "Job cancelled", ctx.Err())
			}
			return err
		}

		for _, ev := range events {
			seq = ev.Seq
			if ev.JobID != j.ID {
				continue
			}
			snap, _ := m.Get(j.ID)
			if err := output.WriteEvent(ctx, w, ev, snap); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}

			switch ev.Type {
			case jobrunner.EventTypeResult:
				observability.CLILogger.Info("Job complete", zap.String("job_id", j.ID))
				return nil
			case jobrunner.EventTypeError:
				observability.CLILogger.Error("Job failed",
					zap.String("job_id", j.ID),
					zap.String("error", ev.Message))
				return exitError(foundry.ExitExternalServiceUnavailable, "Job failed", errors.New(ev.Message))
			}
		}
	}
}
