package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/resultstore"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage the detection model catalog",
	Long: `Manage detection models.

Built-in models are always present. Training jobs add models to the catalog.
Inactive models are rejected by detect until they are activated again.`,
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List models",
	RunE:  runModelsList,
}

var modelsShowCmd = &cobra.Command{
	Use:   "show <model_id>",
	Short: "Show one model",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsShow,
}

var modelsActivateCmd = &cobra.Command{
	Use:   "activate <model_id>",
	Short: "Make a model available for detection",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsSetStatus(resultstore.ModelStatusActive),
}

var modelsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <model_id>",
	Short: "Withdraw a model from detection",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsSetStatus(resultstore.ModelStatusInactive),
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete <model_id>",
	Short: "Delete a trained model and its training runs",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsDelete,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd, modelsShowCmd, modelsActivateCmd, modelsDeactivateCmd, modelsDeleteCmd)

	modelsListCmd.Flags().StringP("search", "q", "", "Substring match on id, name or type")
	modelsListCmd.Flags().StringP("type", "t", "", "Model type: violence or person")
	modelsListCmd.Flags().String("status", "", "Model status: active or inactive")
	modelsListCmd.Flags().Bool("json", false, "Output as JSON")
	modelsShowCmd.Flags().Bool("json", false, "Output as JSON")
}

func runModelsList(cmd *cobra.Command, _ []string) error {
	var f resultstore.ModelFilter
	f.Search, _ = cmd.Flags().GetString("search")
	if t, _ := cmd.Flags().GetString("type"); t != "" {
		dt, ok := job.ParseDetectionType(t)
		if !ok {
			return exitError(foundry.ExitInvalidArgument, "Invalid filter",
				fmt.Errorf("%s: %q", job.MsgUnsupportedModelType, t))
		}
		f.Type = dt
	}
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		status, err := resultstore.ParseModelStatus(s)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid filter", err)
		}
		f.Status = status
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return withResults(cmd.Context(), func(s *resultstore.Store) error {
		models, err := s.ListModels(cmd.Context(), f)
		if err != nil {
			return err
		}
		return writeModels(cmd.OutOrStdout(), models, jsonOutput)
	})
}

func writeModels(out io.Writer, models []resultstore.Model, jsonOutput bool) error {
	if jsonOutput {
		if models == nil {
			models = []resultstore.Model{}
		}
		return writeJSON(out, models)
	}
	if len(models) == 0 {
		_, _ = fmt.Fprintln(out, "No models found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "MODEL ID\tNAME\tTYPE\tACCURACY\tSIZE MB\tSTATUS\tBUILTIN")
	for _, m := range models {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%.1f\t%s\t%v\n",
			m.ID, m.Name, m.Type, m.Accuracy, m.SizeMB, m.Status, m.Builtin)
	}
	return nil
}

func runModelsShow(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return withResults(cmd.Context(), func(s *resultstore.Store) error {
		m, err := s.GetModel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, m)
		}
		_, _ = fmt.Fprintf(out, "model_id=%s\n", m.ID)
		_, _ = fmt.Fprintf(out, "name=%s\n", m.Name)
		_, _ = fmt.Fprintf(out, "type=%s\n", m.Type)
		_, _ = fmt.Fprintf(out, "accuracy=%.3f\n", m.Accuracy)
		_, _ = fmt.Fprintf(out, "size_mb=%.1f\n", m.SizeMB)
		_, _ = fmt.Fprintf(out, "status=%s\n", m.Status)
		_, _ = fmt.Fprintf(out, "builtin=%v\n", m.Builtin)
		if m.SourceJobID != "" {
			_, _ = fmt.Fprintf(out, "source_job_id=%s\n", m.SourceJobID)
		}
		_, _ = fmt.Fprintf(out, "created_at=%s\n", m.CreatedAt.UTC().Format(time.RFC3339))
		return nil
	})
}

func runModelsSetStatus(status resultstore.ModelStatus) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withResults(cmd.Context(), func(s *resultstore.Store) error {
			if err := s.SetModelStatus(cmd.Context(), args[0], status); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "model_id=%s\nstatus=%s\n", args[0], status)
			return nil
		})
	}
}

func runModelsDelete(cmd *cobra.Command, args []string) error {
	return withResults(cmd.Context(), func(s *resultstore.Store) error {
		err := s.DeleteModel(cmd.Context(), args[0])
		if errors.Is(err, resultstore.ErrBuiltinModel) {
			return exitError(foundry.ExitInvalidArgument, "Cannot delete model", err)
		}
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted=%s\n", args[0])
		return nil
	})
}
