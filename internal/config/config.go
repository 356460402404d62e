package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. MKVT_SOURCE_DIR.
const EnvPrefix = "MKVT"

// Traversal policies understood by the scanner.
const (
	TraversalAbort = "abort"
	TraversalSkip  = "skip"
)

// Config holds all the settings for a batch run.
type Config struct {
	SourceDir        string        `mapstructure:"source_dir" yaml:"source_dir"`
	StagingDir       string        `mapstructure:"staging_dir" yaml:"staging_dir"`
	Reverse          bool          `mapstructure:"reverse" yaml:"reverse"`
	Workers          int           `mapstructure:"workers" yaml:"workers"`
	TraversalPolicy  string        `mapstructure:"traversal_policy" yaml:"traversal_policy"`
	TranscodeTimeout time.Duration `mapstructure:"transcode_timeout" yaml:"transcode_timeout"`
	MinFreeSpace     uint64        `mapstructure:"min_free_space" yaml:"min_free_space"`
	HeartbeatSec     int           `mapstructure:"heartbeat_seconds" yaml:"heartbeat_seconds"`

	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Ledger   LedgerConfig   `mapstructure:"ledger" yaml:"ledger"`
	Notify   NotifyConfig   `mapstructure:"notify" yaml:"notify"`
	Schedule ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`
}

// FFmpegConfig holds binary locations. Empty values are auto-detected.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path" yaml:"binary_path"`
	ProbePath  string `mapstructure:"probe_path" yaml:"probe_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json (console)
	File   string `mapstructure:"file" yaml:"file"`     // JSON sink; empty disables
}

// LedgerConfig selects where per-item outcomes are recorded.
type LedgerConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // sqlite, postgres, mysql
	DSN    string `mapstructure:"dsn" yaml:"dsn"`       // empty disables the ledger
}

// NotifyConfig configures the completion webhook.
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	RetryMax   int    `mapstructure:"retry_max" yaml:"retry_max"`
}

// ScheduleConfig holds the cron expression used by the schedule command.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron" yaml:"cron"`
}

// Load reads configuration from file and environment variables using a
// private viper instance. An empty path searches the default locations.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("transcoder")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/mkv-transcoder")
	}
	BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// It's okay if the config file is missing; we might use env vars.
	}

	return FromViper(v)
}

// Defaults returns the built-in configuration, ignoring files and environment.
func Defaults() (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	return FromViper(v)
}

// FromViper unmarshals and validates a configured viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// BindEnv enables MKVT_* environment overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source_dir", "")
	v.SetDefault("staging_dir", "")
	v.SetDefault("reverse", false)
	v.SetDefault("workers", 1)
	v.SetDefault("traversal_policy", TraversalAbort)
	v.SetDefault("transcode_timeout", time.Duration(0))
	v.SetDefault("min_free_space", 0)
	v.SetDefault("heartbeat_seconds", 0)

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.dsn", "")

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.retry_max", 3)

	v.SetDefault("schedule.cron", "")
}

// Validate checks static settings. Directory existence is checked separately
// by ValidateDirectories, right before a batch starts.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.TraversalPolicy != TraversalAbort && c.TraversalPolicy != TraversalSkip {
		return fmt.Errorf("traversal_policy must be one of: abort, skip")
	}
	if c.TranscodeTimeout < 0 {
		return fmt.Errorf("transcode_timeout must not be negative")
	}
	if c.HeartbeatSec < 0 {
		return fmt.Errorf("heartbeat_seconds must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if c.Ledger.DSN != "" && !validDrivers[c.Ledger.Driver] {
		return fmt.Errorf("ledger.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Notify.RetryMax < 0 {
		return fmt.Errorf("notify.retry_max must not be negative")
	}
	return nil
}

// InvalidDirectoryError reports a source or staging path that is missing or
// not a directory.
type InvalidDirectoryError struct {
	Role string // "source" or "staging"
	Path string
	Err  error
}

func (e *InvalidDirectoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s directory %q: %v", e.Role, e.Path, e.Err)
	}
	return fmt.Sprintf("invalid %s directory %q: not a directory", e.Role, e.Path)
}

func (e *InvalidDirectoryError) Unwrap() error { return e.Err }

// ValidateDirectories checks that both the source and staging directories
// exist and are directories.
func (c *Config) ValidateDirectories() error {
	if err := checkDir("source", c.SourceDir); err != nil {
		return err
	}
	return checkDir("staging", c.StagingDir)
}

func checkDir(role, path string) error {
	if path == "" {
		return &InvalidDirectoryError{Role: role, Path: path, Err: errors.New("path is empty")}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &InvalidDirectoryError{Role: role, Path: path, Err: err}
	}
	if !info.IsDir() {
		return &InvalidDirectoryError{Role: role, Path: path}
	}
	return nil
}
