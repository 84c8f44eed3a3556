package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Identity names the application for config discovery and env mapping.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the vidsentry identity.
var DefaultIdentity = Identity{
	BinaryName: "vidsentry",
	EnvPrefix:  "VIDSENTRY_",
	ConfigName: "config",
}

// EnvSpec maps one environment variable to a config path.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
	configFile  string
)

// SetConfigFile pins an explicit config file for subsequent loads. An empty
// path restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load resolves configuration from defaults, config files, environment and
// runtime overrides, in increasing precedence. Overrides are nested maps keyed
// like the config file.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	v := viper.New()
	setDefaults(v)

	files := getUserConfigPaths()
	if configFile != "" {
		files = []string{configFile}
	}
	for _, path := range files {
		if err := mergeConfigFile(v, path, path == configFile); err != nil {
			return nil, err
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func mergeConfigFile(v *viper.Viper, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

// getUserConfigPaths lists config files in load order. Later files win.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return nil
	}
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, appIdentity.BinaryName, appIdentity.ConfigName+".yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "."+appIdentity.BinaryName+".yaml"))
	}
	return paths
}

// envPaths maps env suffixes to config paths. Every leaf config key also
// binds to PREFIX_<PATH_WITH_UNDERSCORES>.
var envPaths = map[string]string{
	"HOST":             "server.host",
	"PORT":             "server.port",
	"READ_TIMEOUT":     "server.read_timeout",
	"WRITE_TIMEOUT":    "server.write_timeout",
	"IDLE_TIMEOUT":     "server.idle_timeout",
	"SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
	"RATE_LIMIT":       "server.rate_limit",
	"RATE_BURST":       "server.rate_burst",
	"LOG_LEVEL":        "logging.level",
	"LOG_PROFILE":      "logging.profile",
	"LOG_FILE":         "logging.file",
	"METRICS_ENABLED":  "metrics.enabled",
	"METRICS_PORT":     "metrics.port",
	"HEALTH_ENABLED":   "health.enabled",
	"DEBUG":            "debug.enabled",
	"DATA_DIR":         "data_dir",
	"STORAGE_PROVIDER": "storage.provider",
	"STORAGE_DIR":      "storage.base_dir",
	"S3_BUCKET":        "storage.s3.bucket",
	"S3_REGION":        "storage.s3.region",
	"S3_ENDPOINT":      "storage.s3.endpoint",
	"S3_PROFILE":       "storage.s3.profile",
	"S3_PATH_STYLE":    "storage.s3.force_path_style",
	"STORE_PATH":       "store.path",
	"STORE_URL":        "store.url",
	"STORE_AUTH_TOKEN": "store.auth_token",
	"REGISTRY_DIR":     "registry.dir",
	"RUNNER_EXCLUSIVE": "runner.exclusive",
	"RUNNER_SEED":      "runner.seed",
}

func getEnvSpecs() []EnvSpec {
	if appIdentity == nil {
		return nil
	}
	prefix := appIdentity.EnvPrefix

	specs := make([]EnvSpec, 0, len(envPaths))
	for suffix, path := range envPaths {
		specs = append(specs, EnvSpec{Name: prefix + suffix, Path: path})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func defaultDataDir() string {
	if dir := gfconfig.GetAppDataDir(DefaultIdentity.BinaryName); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), DefaultIdentity.BinaryName)
}
