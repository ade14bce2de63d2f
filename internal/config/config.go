// Package config loads graphsync settings with viper.
//
// Precedence, lowest to highest: built-in defaults, the config file, GRAPHSYNC_*
// environment variables, command-line flags bound by the caller.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/daemon"
	"github.com/mschirtzinger/graphsync/internal/graph/db"
	"github.com/mschirtzinger/graphsync/internal/graph/tracker"
	"github.com/mschirtzinger/graphsync/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. GRAPHSYNC_CACHE_PATH.
const EnvPrefix = "GRAPHSYNC"

// Config is the full set of graphsync settings.
type Config struct {
	StateDir    string `mapstructure:"state_dir"`
	SourcesFile string `mapstructure:"sources_file"`
	DataDir     string `mapstructure:"data_dir"`

	Cache     CacheConfig     `mapstructure:"cache"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Log       LogConfig       `mapstructure:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

type CacheConfig struct {
	// Path is the SQLite database file, or ":memory:".
	Path string `mapstructure:"path"`
}

type WatchConfig struct {
	StabilityThreshold time.Duration `mapstructure:"stability_threshold"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
}

type TrackerConfig struct {
	Grace  time.Duration `mapstructure:"grace"`
	Expiry time.Duration `mapstructure:"expiry"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type DashboardConfig struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers the default value of every key. Keys without a
// default are invisible to environment overrides.
func SetDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("state_dir", filepath.Join(home, ".graphsync"))
	v.SetDefault("sources_file", "")
	v.SetDefault("data_dir", "")

	v.SetDefault("cache.path", db.MemoryPath)

	wd := daemon.DefaultConfig()
	v.SetDefault("watch.stability_threshold", wd.StabilityThreshold)
	v.SetDefault("watch.poll_interval", wd.PollInterval)

	v.SetDefault("tracker.grace", tracker.DefaultGrace)
	v.SetDefault("tracker.expiry", tracker.DefaultExpiry)

	ld := logging.DefaultConfig()
	v.SetDefault("log.level", ld.Level)
	v.SetDefault("log.format", ld.Format)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", ld.MaxSizeMB)
	v.SetDefault("log.max_backups", ld.MaxBackups)

	v.SetDefault("dashboard.addr", "127.0.0.1:8080")
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configFile into v when it is non-empty, then unmarshals and
// validates the result. The file type follows its extension.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WithHint(
				errors.Wrapf(err, "failed to read config file %s", configFile),
				"supported formats are yaml, toml and json")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolve fills the paths derived from StateDir.
func (c *Config) resolve() {
	if c.SourcesFile == "" {
		c.SourcesFile = filepath.Join(c.StateDir, "sources.json")
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.StateDir, "data")
	}
}

// Validate checks the settings that would make the engine misbehave.
// The tracker grace must outlast the watcher's stability wait, otherwise the
// engine's own writes are reported back as external changes.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return errors.New("state_dir is required")
	}
	if c.Watch.StabilityThreshold <= 0 {
		return errors.Newf("watch.stability_threshold must be positive, got %s", c.Watch.StabilityThreshold)
	}
	if c.Watch.PollInterval <= 0 {
		return errors.Newf("watch.poll_interval must be positive, got %s", c.Watch.PollInterval)
	}
	if c.Tracker.Grace <= c.Watch.StabilityThreshold {
		return errors.WithHintf(
			errors.Newf("tracker.grace (%s) must exceed watch.stability_threshold (%s)",
				c.Tracker.Grace, c.Watch.StabilityThreshold),
			"raise tracker.grace or lower watch.stability_threshold")
	}
	if c.Tracker.Expiry < c.Tracker.Grace {
		return errors.Newf("tracker.expiry (%s) must be at least tracker.grace (%s)",
			c.Tracker.Expiry, c.Tracker.Grace)
	}
	if _, err := zapcore.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return errors.Wrapf(err, "invalid log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return errors.Newf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// LoggingOptions converts the log section for logging.New.
func (c *Config) LoggingOptions() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	lc.File = c.Log.File
	if c.Log.MaxSizeMB > 0 {
		lc.MaxSizeMB = c.Log.MaxSizeMB
	}
	if c.Log.MaxBackups > 0 {
		lc.MaxBackups = c.Log.MaxBackups
	}
	return lc
}

// TrackerOptions converts the tracker section for tracker.NewWithConfig.
func (c *Config) TrackerOptions() tracker.Config {
	tc := tracker.DefaultConfig()
	tc.Grace = c.Tracker.Grace
	tc.Expiry = c.Tracker.Expiry
	return tc
}

// WatcherOptions converts the watch section for the change watcher.
func (c *Config) WatcherOptions() daemon.Config {
	return daemon.Config{
		StabilityThreshold: c.Watch.StabilityThreshold,
		PollInterval:       c.Watch.PollInterval,
	}
}
