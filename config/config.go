// Package config loads xomcloud settings from defaults, an optional config
// file, XOMCLOUD_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents the xomcloud configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (XOMCLOUD_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Concurrency is the maximum number of tracks fetched at once.
	Concurrency int `mapstructure:"concurrency" validate:"gte=1,lte=64"`

	// Deadline bounds the whole batch, measured from its start.
	Deadline time.Duration `mapstructure:"deadline" validate:"gt=0"`

	// Grace is how long in-flight fetches may run past the deadline.
	Grace time.Duration `mapstructure:"grace" validate:"gte=0"`

	MaxTracks int `mapstructure:"max_tracks" validate:"gte=1"`

	// TempDir holds batch workspaces. Empty means the system default.
	TempDir string `mapstructure:"temp_dir"`

	// HTTPTimeout bounds each individual HTTP request made by downloaders.
	HTTPTimeout time.Duration `mapstructure:"http_timeout" validate:"gt=0"`

	Log     LogConfig     `mapstructure:"log"`
	S3      S3Config      `mapstructure:"s3"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// S3Config configures the storage handoff.
type S3Config struct {
	Bucket          string        `mapstructure:"bucket" validate:"required"`
	Region          string        `mapstructure:"region"`
	Endpoint        string        `mapstructure:"endpoint" validate:"omitempty,url"`
	PathStyle       bool          `mapstructure:"path_style"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	PresignExpiry   time.Duration `mapstructure:"presign_expiry" validate:"gt=0"`
}

// MetricsConfig configures metrics export.
type MetricsConfig struct {
	// Textfile, if set, receives the batch's metrics in Prometheus text
	// format when the command finishes.
	Textfile string `mapstructure:"textfile"`
}

var defaults = map[string]any{
	"concurrency":          4,
	"deadline":             25 * time.Second,
	"grace":                2 * time.Second,
	"max_tracks":           5,
	"temp_dir":             "",
	"http_timeout":         60 * time.Second,
	"log.level":            "info",
	"log.format":           "text",
	"s3.bucket":            "xomcloud-downloads",
	"s3.region":            "us-east-1",
	"s3.endpoint":          "",
	"s3.path_style":        false,
	"s3.access_key_id":     "",
	"s3.secret_access_key": "",
	"s3.presign_expiry":    time.Hour,
	"metrics.textfile":     "",
}

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"concurrency":      "concurrency",
	"deadline":         "deadline",
	"grace":            "grace",
	"max-tracks":       "max_tracks",
	"temp-dir":         "temp_dir",
	"http-timeout":     "http_timeout",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"bucket":           "s3.bucket",
	"region":           "s3.region",
	"endpoint":         "s3.endpoint",
	"path-style":       "s3.path_style",
	"presign-expiry":   "s3.presign_expiry",
	"metrics-textfile": "metrics.textfile",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the configuration. configPath may be empty, in which case
// ./xomcloud.yaml is used if it exists. flags may be nil; flags it contains
// that appear in flagKeys override every other source when set.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := readConfigFile(v, configPath != ""); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks cfg against its field constraints.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}

// setupViper configures viper with defaults, environment variables and
// config file settings.
func setupViper(v *viper.Viper, configPath string) {
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	// Environment variables use the XOMCLOUD_ prefix and underscores.
	// Example: XOMCLOUD_S3_BUCKET=my-bucket
	v.SetEnvPrefix("XOMCLOUD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("xomcloud")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file. A missing file is only an error if
// it was named explicitly.
func readConfigFile(v *viper.Viper, explicit bool) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || (!explicit && os.IsNotExist(err)) {
		return nil
	}
	return fmt.Errorf("failed to read config file: %w", err)
}
