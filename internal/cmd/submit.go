package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/jobrunner"
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a video",
	Long: `Upload a video file or register a video URL, writing JSONL progress to
stdout. Completed uploads are kept in the configured video storage.

Example:
  vidsentry upload --file clips/lobby.mp4
  vidsentry upload --url https://cams.example.com/lobby.mp4`,
	RunE: runSubmit(job.KindUpload),
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run violence or person detection on a video",
	Long: `Run a detection job on a video file or URL, writing JSONL progress to
stdout. Results are saved to the results history unless --no-save is set.

Example:
  vidsentry detect --file clips/lobby.mp4 --type person --threshold 60
  vidsentry detect --url https://cams.example.com/gate.mp4 --model model-k2j8x0qa`,
	RunE: runSubmit(job.KindDetection),
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a detection model",
	Long: `Run a training job, writing JSONL progress to stdout. The trained model
is registered in the model catalog and can be used with detect --model.

Example:
  vidsentry train --name gym-cam --dataset-path s3://datasets/gym --epochs 40`,
	RunE: runSubmit(job.KindTraining),
}

func init() {
	for _, c := range []*cobra.Command{uploadCmd, detectCmd, trainCmd} {
		rootCmd.AddCommand(c)
		c.Flags().StringP("output", "o", "", "Write JSONL records to this file instead of stdout")
	}
	for _, c := range []*cobra.Command{uploadCmd, detectCmd} {
		c.Flags().StringP("file", "f", "", "Video file to process")
		c.Flags().String("url", "", "Video URL to process")
		c.Flags().String("content-type", "", "Override the detected content type")
	}

	detectCmd.Flags().StringP("type", "t", string(job.DetectionViolence), "Detection type: violence or person")
	detectCmd.Flags().StringP("model", "m", job.DefaultDetectionModel, "Detection model id")
	detectCmd.Flags().Float64("threshold", job.DefaultThreshold, "Confidence threshold (0-100)")
	detectCmd.Flags().Bool("no-save", false, "Do not save the result to the history")

	trainCmd.Flags().StringP("name", "n", "", "Model name (required)")
	trainCmd.Flags().StringP("type", "t", string(job.DetectionViolence), "Model type: violence or person")
	trainCmd.Flags().String("dataset-file", "", "Local dataset archive")
	trainCmd.Flags().String("dataset-path", "", "Dataset location, such as s3://bucket/prefix")
	trainCmd.Flags().Int("epochs", job.DefaultEpochs, fmt.Sprintf("Training epochs (%d-%d)", job.MinEpochs, job.MaxEpochs))
	trainCmd.Flags().Float64("learning-rate", job.DefaultLearningRate, "Learning rate, between 0 and 1")
}

func runSubmit(kind job.Kind) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		params, payload, err := flagRequest(kind, cmd.Flags())
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read job input", err)
		}

		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		outPath, _ := cmd.Flags().GetString("output")
		out, closeOut, err := openOutput(cmd.OutOrStdout(), outPath)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
		}
		defer closeOut()

		return runJob(ctx, cfg, jobrunner.Request{Kind: kind, Params: params, Payload: payload}, out)
	}
}

// flagRequest builds job params from command flags. Range checks are left
// to job validation so the CLI reports the same messages as the API.
func flagRequest(kind job.Kind, flags *pflag.FlagSet) (job.Params, jobrunner.Payload, error) {
	var (
		params  job.Params
		payload jobrunner.Payload
	)

	if kind == job.KindUpload || kind == job.KindDetection {
		path, _ := flags.GetString("file")
		url, _ := flags.GetString("url")
		contentType, _ := flags.GetString("content-type")
		if strings.TrimSpace(path) != "" {
			src, p, err := localSource(path, contentType)
			if err != nil {
				return params, nil, err
			}
			params.Source = src
			payload = p
		}
		params.Source.URL = strings.TrimSpace(url)
	}

	switch kind {
	case job.KindDetection:
		typ, _ := flags.GetString("type")
		model, _ := flags.GetString("model")
		threshold, _ := flags.GetFloat64("threshold")
		noSave, _ := flags.GetBool("no-save")
		params.Detection = job.DetectionParams{
			Type:      job.DetectionType(strings.TrimSpace(typ)),
			Model:     strings.TrimSpace(model),
			Threshold: threshold,
		}
		if noSave {
			save := false
			params.Detection.SaveResults = &save
		}
	case job.KindTraining:
		name, _ := flags.GetString("name")
		typ, _ := flags.GetString("type")
		datasetFile, _ := flags.GetString("dataset-file")
		datasetPath, _ := flags.GetString("dataset-path")
		epochs, _ := flags.GetInt("epochs")
		lr, _ := flags.GetFloat64("learning-rate")
		params.Training = job.TrainingParams{
			ModelName:    strings.TrimSpace(name),
			ModelType:    job.DetectionType(strings.TrimSpace(typ)),
			DatasetFile:  strings.TrimSpace(datasetFile),
			DatasetPath:  strings.TrimSpace(datasetPath),
			Epochs:       epochs,
			LearningRate: lr,
		}
	}
	return params, payload, nil
}
