package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/vidsentry/internal/config"
	"github.com/3leaps/vidsentry/internal/observability"
	"github.com/3leaps/vidsentry/pkg/provider"
	"github.com/3leaps/vidsentry/pkg/resultstore"
)

var (
	doctorProvider string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  vidsentry doctor                 # Full environment check
  vidsentry doctor --provider s3   # Also check AWS credentials`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

func runDoctor(cmd *cobra.Command, args []string) {
	log := observability.CLILogger
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log.Info("=== " + bannerName + " ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	ctx := cmd.Context()
	allChecks := true
	checkNum := 1
	totalChecks := 6

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Loading configuration... ❌", checkNum, totalChecks), zap.Error(err))
		ExitWithCode(log, foundry.ExitInvalidArgument, "Invalid configuration", err)
		return
	}

	checkS3 := doctorProvider == "s3"
	if kind, ok := provider.ParseProviderType(cfg.Storage.Provider); ok && kind == provider.ProviderS3 {
		checkS3 = true
	}
	if checkS3 {
		totalChecks = 8
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		log.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible schemas
	version := crucible.GetVersion()
	if version.Crucible != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Crucible schemas... ✅ v%s", checkNum, totalChecks, version.Crucible),
			zap.String("crucible_version", version.Crucible),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		log.Error(fmt.Sprintf("[%d/%d] Checking Crucible schemas... ❌ Cannot access Crucible", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 3: Configuration
	log.Info(fmt.Sprintf("[%d/%d] Loading configuration... ✅ provider=%s", checkNum, totalChecks, cfg.Storage.Provider),
		zap.String("data_dir", cfg.DataDir))
	checkNum++

	// Check 4: Data directory
	if err := checkWritableDir(cfg.DataDir); err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking data directory... ❌ %s", checkNum, totalChecks, cfg.DataDir),
			zap.Error(err))
		ExitWithCode(log, foundry.ExitFileWriteError, "Data directory is not writable", err)
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking data directory... ✅ %s", checkNum, totalChecks, cfg.DataDir))
	}
	checkNum++

	// Check 5: Results store
	if err := pingResults(ctx, cfg); err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking results store... ❌ Cannot open results store", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking results store... ✅ reachable", checkNum, totalChecks))
	}
	checkNum++

	// Check 6: Environment
	log.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if checkS3 {
		allChecks = runS3Checks(ctx, checkNum, totalChecks, allChecks)
	}

	log.Info("")
	if allChecks {
		log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	log.Info("")
	log.Info("=== End Diagnostics ===")
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}

func pingResults(ctx context.Context, cfg *config.Config) error {
	store, err := resultstore.OpenStore(ctx, resultstore.Config{
		Path:      cfg.Store.Path,
		URL:       cfg.Store.URL,
		AuthToken: cfg.Store.AuthToken,
	})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return store.Ping(ctx)
}

// runS3Checks runs S3-specific diagnostic checks.
func runS3Checks(ctx context.Context, checkNum, totalChecks int, allChecks bool) bool {
	log := observability.CLILogger
	log.Info("")
	log.Info("S3 Provider Checks:")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	log.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))
	checkNum++

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s", checkNum, totalChecks, source),
		zap.String("credential_source", source))

	return allChecks
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure AWS credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Run 'aws configure' to set up a profile, or")
	log.Info("  3. Use IAM role when running on AWS infrastructure")
	log.Info("")
	log.Info("For S3-compatible storage (MinIO, moto), also set:")
	log.Info("  - storage.s3.endpoint in the config file, or VIDSENTRY_S3_ENDPOINT")
	log.Info("")
}
