package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings holds the configuration of the shipper tool itself.
// Deployment and runtime values of the shipped service are resolved
// separately by the resolver package.
type Settings struct {
	Log      LogConfig
	Files    FilesConfig
	Timeouts TimeoutConfig
	Build    BuildConfig
	Scan     ScanConfig
	Metrics  MetricsConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// FilesConfig names the two key=value files read for the file tier
type FilesConfig struct {
	Deploy  string
	Runtime string
}

// TimeoutConfig bounds the blocking stages
type TimeoutConfig struct {
	Network time.Duration
	Build   time.Duration
	Health  time.Duration
}

// BuildConfig holds image build configuration
type BuildConfig struct {
	BuilderName string
	LayoutDir   string
}

// ScanConfig holds advisory vulnerability scan configuration
type ScanConfig struct {
	Enabled       bool
	Timeout       time.Duration
	IgnoreUnfixed bool
}

// MetricsConfig holds run metrics configuration. An empty File disables
// the textfile export.
type MetricsConfig struct {
	File string
}

// EnvPrefix is the environment prefix for tool settings, e.g. SHIPPER_LOG_LEVEL
const EnvPrefix = "SHIPPER"

// Load loads tool settings from defaults, an optional shipper.yaml and
// SHIPPER_* environment variables.
func Load(v *viper.Viper) (*Settings, error) {
	if v == nil {
		v = viper.GetViper()
	}

	v.SetConfigName("shipper")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No shipper.yaml, defaults and env vars only
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	settings := &Settings{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Files: FilesConfig{
			Deploy:  v.GetString("files.deploy"),
			Runtime: v.GetString("files.runtime"),
		},
		Timeouts: TimeoutConfig{
			Network: v.GetDuration("timeouts.network"),
			Build:   v.GetDuration("timeouts.build"),
			Health:  v.GetDuration("timeouts.health"),
		},
		Build: BuildConfig{
			BuilderName: v.GetString("build.builder_name"),
			LayoutDir:   v.GetString("build.layout_dir"),
		},
		Scan: ScanConfig{
			Enabled:       v.GetBool("scan.enabled"),
			Timeout:       v.GetDuration("scan.timeout"),
			IgnoreUnfixed: v.GetBool("scan.ignore_unfixed"),
		},
		Metrics: MetricsConfig{
			File: v.GetString("metrics.file"),
		},
	}

	if err := settings.validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

func (s *Settings) validate() error {
	if s.Timeouts.Network <= 0 {
		return fmt.Errorf("timeouts.network must be positive, got %v", s.Timeouts.Network)
	}
	if s.Timeouts.Build <= 0 {
		return fmt.Errorf("timeouts.build must be positive, got %v", s.Timeouts.Build)
	}
	if strings.TrimSpace(s.Build.BuilderName) == "" {
		return errors.New("build.builder_name must not be empty")
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// File defaults
	v.SetDefault("files.deploy", "deploy.env")
	v.SetDefault("files.runtime", ".env")

	// Timeout defaults
	v.SetDefault("timeouts.network", 30*time.Second)
	v.SetDefault("timeouts.build", 30*time.Minute)
	v.SetDefault("timeouts.health", 5*time.Second)

	// Build defaults
	v.SetDefault("build.builder_name", "shipper-multiarch")
	v.SetDefault("build.layout_dir", ".shipper/oci")

	// Scan defaults
	v.SetDefault("scan.enabled", true)
	v.SetDefault("scan.timeout", 10*time.Minute)
	v.SetDefault("scan.ignore_unfixed", true)

	// Metrics defaults
	v.SetDefault("metrics.file", "")
}
