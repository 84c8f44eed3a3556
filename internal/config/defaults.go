package config

import (
	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("data_dir", defaultDataDir())

	v.SetDefault("storage.provider", "file")
	v.SetDefault("storage.base_dir", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.profile", "")
	v.SetDefault("storage.s3.force_path_style", false)
	v.SetDefault("storage.s3.region_from_imds", false)

	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("registry.dir", "")
	v.SetDefault("registry.max_age", "168h")

	v.SetDefault("runner.exclusive", true)
	v.SetDefault("runner.seed", 0)
	v.SetDefault("runner.intervals", map[string]any{})
	v.SetDefault("runner.max_events", 1024)
}
