// Package config loads tasksync configuration from file, environment and
// command-line flags.
//
// Precedence, highest first: flags, TASKSYNC_* environment variables,
// the config file, defaults. The file is tasksync.yaml (or .toml, .json)
// searched in the working directory and then in $XDG_CONFIG_HOME/tasksync.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. TASKSYNC_REMOTE_TOKEN.
const EnvPrefix = "TASKSYNC"

// Config is the full tasksync configuration.
type Config struct {
	Remote    RemoteConfig    `mapstructure:"remote"`
	Store     StoreConfig     `mapstructure:"store"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// RemoteConfig describes the list service.
type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects the local persistence.
type StoreConfig struct {
	Backend      string `mapstructure:"backend"` // "file" or "sqlite"
	Path         string `mapstructure:"path"`
	RevisionPath string `mapstructure:"revision_path"`
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	Actor         string `mapstructure:"actor"`
	ShowCompleted bool   `mapstructure:"show_completed"`
}

// DaemonConfig tunes the background driver.
type DaemonConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	InboxDir        string        `mapstructure:"inbox_dir"`
	Debounce        time.Duration `mapstructure:"debounce"`
}

// DashboardConfig sets the listen address of the event dashboard.
type DashboardConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig controls log output.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Quiet      bool   `mapstructure:"quiet"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"url":      "remote.url",
	"token":    "remote.token",
	"backend":  "store.backend",
	"data":     "store.path",
	"actor":    "sync.actor",
	"log-file": "log.file",
	"quiet":    "log.quiet",
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	actor, err := os.Hostname()
	if err != nil || actor == "" {
		actor = "local"
	}
	return &Config{
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend: "file",
		},
		Sync: SyncConfig{
			Actor: actor,
		},
		Daemon: DaemonConfig{
			RefreshInterval: 5 * time.Minute,
			Debounce:        500 * time.Millisecond,
		},
		Dashboard: DashboardConfig{
			Addr: "127.0.0.1:8080",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("remote.url", d.Remote.URL)
	v.SetDefault("remote.token", d.Remote.Token)
	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.revision_path", d.Store.RevisionPath)
	v.SetDefault("sync.actor", d.Sync.Actor)
	v.SetDefault("sync.show_completed", d.Sync.ShowCompleted)
	v.SetDefault("daemon.refresh_interval", d.Daemon.RefreshInterval)
	v.SetDefault("daemon.inbox_dir", d.Daemon.InboxDir)
	v.SetDefault("daemon.debounce", d.Daemon.Debounce)
	v.SetDefault("dashboard.addr", d.Dashboard.Addr)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.quiet", d.Log.Quiet)
}

// Load reads the configuration. An explicit path must exist; without
// one the standard locations are searched and a missing file is fine.
// flags may be nil; only flags that were set on the command line
// override lower layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tasksync")
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.fillPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillPaths derives data paths that were left empty.
func (c *Config) fillPaths() {
	dir := DataDir()
	if c.Store.Path == "" {
		name := "items.json"
		if c.Store.Backend == "sqlite" {
			name = "items.db"
		}
		c.Store.Path = filepath.Join(dir, name)
	}
	if c.Store.RevisionPath == "" {
		c.Store.RevisionPath = filepath.Join(filepath.Dir(c.Store.Path), "revision")
	}
	if c.Daemon.InboxDir == "" {
		c.Daemon.InboxDir = filepath.Join(filepath.Dir(c.Store.Path), "inbox")
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("invalid store.backend %q (want file or sqlite)", c.Store.Backend)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive, got %s", c.Remote.Timeout)
	}
	if c.Daemon.RefreshInterval <= 0 {
		return fmt.Errorf("daemon.refresh_interval must be positive, got %s", c.Daemon.RefreshInterval)
	}
	if c.Daemon.Debounce < 0 {
		return fmt.Errorf("daemon.debounce cannot be negative, got %s", c.Daemon.Debounce)
	}
	return nil
}

// RequireRemote reports an error when the remote service is not configured.
func (c *Config) RequireRemote() error {
	if c.Remote.URL == "" {
		return fmt.Errorf("remote.url is not set (use --url, %s_REMOTE_URL or the config file)", EnvPrefix)
	}
	return nil
}

// ConfigDir returns $XDG_CONFIG_HOME/tasksync, falling back to the
// platform user config directory.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "tasksync")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tasksync")
	}
	return ".tasksync"
}

// DataDir returns $XDG_DATA_HOME/tasksync, falling back to
// ~/.local/share/tasksync.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "tasksync")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "tasksync")
	}
	return ".tasksync"
}
