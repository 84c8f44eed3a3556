// Package cmd implements the vidsentry command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/vidsentry/internal/config"
	"github.com/3leaps/vidsentry/internal/observability"
	"github.com/3leaps/vidsentry/internal/server/handlers"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

const (
	exitOK      = 0
	exitFailure = 1
)

var (
	cfgFile     string
	verbose     bool
	appIdentity *config.Identity
)

var rootCmd = &cobra.Command{
	Use:   "vidsentry",
	Short: "Simulated video upload, detection and training jobs",
	Long: `vidsentry runs the jobs behind a video analysis dashboard: uploads,
violence and person detection runs, and model training runs.

Jobs run in the foreground with JSONL progress on stdout, in the
background under the job registry, or behind the HTTP API (vidsentry serve).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		id := config.DefaultIdentity
		appIdentity = &id
		observability.InitCLILogger(id.BinaryName, verbose)
		config.SetConfigFile(cfgFile)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: user config dir, then ./.vidsentry.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// SetVersionInfo records build metadata for the version command and the
// /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity resolved for this invocation, or nil
// before a command has run.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	observability.CLILogger.Error("Command failed", zap.Error(err))
	return exitCodeOf(err)
}

// ExitWithCode logs err and terminates the process.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
	observability.Sync()
	os.Exit(code)
}

type exitCodeError struct {
	code    int
	message string
	err     error
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *exitCodeError) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &exitCodeError{code: code, message: message, err: err}
}

func exitCodeOf(err error) int {
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	return exitFailure
}

func loadConfig(ctx context.Context, overrides ...map[string]any) (*config.Config, error) {
	cfg, err := config.Load(ctx, overrides...)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return cfg, nil
}
