package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/resultstore"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Browse detection history",
	Long: `Browse saved detection results.

Examples:
  vidsentry results list --type violence --triggered
  vidsentry results list --glob '*lobby*' --since 2026-03-01
  vidsentry results show 3f1c2a
  vidsentry results stats`,
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List detection results, newest first",
	RunE:  runResultsList,
}

var resultsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one detection result",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultsShow,
}

var resultsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one detection result",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultsDelete,
}

var resultsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dashboard counters",
	RunE:  runResultsStats,
}

var resultsTrainingsCmd = &cobra.Command{
	Use:   "trainings",
	Short: "List training runs, newest first",
	RunE:  runResultsTrainings,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(resultsListCmd, resultsShowCmd, resultsDeleteCmd, resultsStatsCmd, resultsTrainingsCmd)

	resultsListCmd.Flags().StringP("search", "q", "", "Substring match on video name or result id")
	resultsListCmd.Flags().String("glob", "", "Glob match on video name (doublestar syntax)")
	resultsListCmd.Flags().StringP("type", "t", "", "Detection type: violence or person")
	resultsListCmd.Flags().Bool("triggered", false, "Only results where the detector fired")
	resultsListCmd.Flags().String("since", "", "Only results on or after this time (RFC 3339 or YYYY-MM-DD)")
	resultsListCmd.Flags().String("until", "", "Only results on or before this time (RFC 3339 or YYYY-MM-DD)")
	resultsListCmd.Flags().Int("limit", 50, "Maximum results (0 = no limit)")

	for _, c := range []*cobra.Command{resultsListCmd, resultsShowCmd, resultsStatsCmd, resultsTrainingsCmd} {
		c.Flags().Bool("json", false, "Output as JSON")
	}
	resultsTrainingsCmd.Flags().Int("limit", 50, "Maximum runs (0 = no limit)")
}

// withResults opens the results store for the duration of fn.
func withResults(ctx context.Context, fn func(*resultstore.Store) error) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	store, err := resultstore.OpenStore(ctx, resultstore.Config{
		Path:      cfg.Store.Path,
		URL:       cfg.Store.URL,
		AuthToken: cfg.Store.AuthToken,
	})
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open results store", err)
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func runResultsList(cmd *cobra.Command, _ []string) error {
	f, err := detectionFilterFromFlags(cmd)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid filter", err)
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return withResults(cmd.Context(), func(s *resultstore.Store) error {
		recs, err := s.ListDetections(cmd.Context(), f)
		if err != nil {
			return err
		}
		return writeDetections(cmd.OutOrStdout(), recs, jsonOutput)
	})
}

func detectionFilterFromFlags(cmd *cobra.Command) (resultstore.DetectionFilter, error) {
	var f resultstore.DetectionFilter
	f.Search, _ = cmd.Flags().GetString("search")
	f.Pattern, _ = cmd.Flags().GetString("glob")
	f.TriggeredOnly, _ = cmd.Flags().GetBool("triggered")
	f.Limit, _ = cmd.Flags().GetInt("limit")

	if t, _ := cmd.Flags().GetString("type"); t != "" {
		dt, ok := job.ParseDetectionType(t)
		if !ok {
			return f, fmt.Errorf("%s: %q", job.MsgUnsupportedDetection, t)
		}
		f.Type = dt
	}

	var err error
	since, _ := cmd.Flags().GetString("since")
	if f.Since, err = parseTimeFlag(since, false); err != nil {
		return f, fmt.Errorf("invalid --since: %w", err)
	}
	until, _ := cmd.Flags().GetString("until")
	if f.Until, err = parseTimeFlag(until, true); err != nil {
		return f, fmt.Errorf("invalid --until: %w", err)
	}
	return f, nil
}

// parseTimeFlag accepts RFC 3339 or a bare date. A bare date used as an
// upper bound covers the whole day.
func parseTimeFlag(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

func writeDetections(out io.Writer, recs []resultstore.DetectionRecord, jsonOutput bool) error {
	if jsonOutput {
		if recs == nil {
			recs = []resultstore.DetectionRecord{}
		}
		return writeJSON(out, recs)
	}
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(out, "No results found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tVIDEO\tTYPE\tMODEL\tTRIGGERED\tCONFIDENCE\tTHRESHOLD\tCREATED")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%.1f\t%.0f\t%s\n",
			shortJobID(r.ID),
			r.VideoName,
			r.DetectionType,
			r.ModelID,
			r.Triggered,
			r.ConfidenceScore,
			r.Threshold,
			r.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	return nil
}

func runResultsShow(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return withResults(cmd.Context(), func(s *resultstore.Store) error {
		id, err := resolveDetectionID(cmd.Context(), s, args[0])
		if err != nil {
			return err
		}
		r, err := s.GetDetection(cmd.Context(), id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, r)
		}
		_, _ = fmt.Fprintf(out, "id=%s\n", r.ID)
		_, _ = fmt.Fprintf(out, "video_name=%s\n", r.VideoName)
		if r.VideoSource != "" {
			_, _ = fmt.Fprintf(out, "video_source=%s\n", r.VideoSource)
		}
		_, _ = fmt.Fprintf(out, "detection_type=%s\n", r.DetectionType)
		_, _ = fmt.Fprintf(out, "model_id=%s\n", r.ModelID)
		_, _ = fmt.Fprintf(out, "threshold=%.0f\n", r.Threshold)
		_, _ = fmt.Fprintf(out, "triggered=%v\n", r.Triggered)
		_, _ = fmt.Fprintf(out, "confidence=%.1f\n", r.ConfidenceScore)
		_, _ = fmt.Fprintf(out, "processing_time_ms=%d\n", r.ProcessingTimeMs)
		if r.PersonCount > 0 {
			_, _ = fmt.Fprintf(out, "person_count=%d\n", r.PersonCount)
		}
		_, _ = fmt.Fprintf(out, "detections=%d\n", len(r.Detections))
		_, _ = fmt.Fprintf(out, "created_at=%s\n", r.CreatedAt.UTC().Format(time.RFC3339))
		return nil
	})
}

func runResultsDelete(cmd *cobra.Command, args []string) error {
	return withResults(cmd.Context(), func(s *resultstore.Store) error {
		id, err := resolveDetectionID(cmd.Context(), s, args[0])
		if err != nil {
			return err
		}
		if err := s.DeleteDetection(cmd.Context(), id); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted=%s\n", id)
		return nil
	})
}

// resolveDetectionID accepts a full id or the short id printed by list.
func resolveDetectionID(ctx context.Context, s *resultstore.Store, input string) (string, error) {
	if _, err := s.GetDetection(ctx, input); err == nil {
		return input, nil
	}
	recs, err := s.ListDetections(ctx, resultstore.DetectionFilter{})
	if err != nil {
		return "", err
	}
	var matches []string
	for _, r := range recs {
		if len(input) > 0 && len(r.ID) >= len(input) && r.ID[:len(input)] == input {
			matches = append(matches, r.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", resultstore.ErrNotFound, input)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("result id prefix is ambiguous (%d matches); use the full id", len(matches))
	}
}

func runResultsStats(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return withResults(cmd.Context(), func(s *resultstore.Store) error {
		sum, err := s.GetSummary(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, sum)
		}
		_, _ = fmt.Fprintf(out, "videos_processed=%d\n", sum.VideosProcessed)
		_, _ = fmt.Fprintf(out, "violence_detections=%d\n", sum.ViolenceDetections)
		_, _ = fmt.Fprintf(out, "persons_detected=%d\n", sum.PersonsDetected)
		_, _ = fmt.Fprintf(out, "trained_models=%d\n", sum.TrainedModels)
		_, _ = fmt.Fprintf(out, "active_models=%d\n", sum.ActiveModels)
		return nil
	})
}

func runResultsTrainings(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	limit, _ := cmd.Flags().GetInt("limit")
	return withResults(cmd.Context(), func(s *resultstore.Store) error {
		runs, err := s.ListTrainings(cmd.Context(), limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			if runs == nil {
				runs = []resultstore.TrainingRecord{}
			}
			return writeJSON(out, runs)
		}
		if len(runs) == 0 {
			_, _ = fmt.Fprintln(out, "No training runs found")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		defer func() { _ = w.Flush() }()
		_, _ = fmt.Fprintln(w, "RUN ID\tMODEL ID\tNAME\tTYPE\tDATASET\tEPOCHS\tACCURACY\tCREATED")
		for _, r := range runs {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%.3f\t%s\n",
				shortJobID(r.ID), r.ModelID, r.ModelName, r.ModelType, r.Dataset,
				r.Epochs, r.Accuracy, r.CreatedAt.UTC().Format(time.RFC3339))
		}
		return nil
	})
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
