// Package config loads roost configuration.
//
// Values are layered, lowest precedence first: built-in defaults, the config
// file (roost.toml or roost.yaml in the working directory or the user config
// directory, or an explicit path), then ROOST_* environment variables. Flags
// are bound on top by the CLI.
//
// Nested keys map to environment variables with dots replaced by
// underscores: sync.interval is ROOST_SYNC_INTERVAL.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrNoAccounts is returned by Validate when no account is configured.
var ErrNoAccounts = errors.New("no accounts configured")

// Remote configures the remote API client.
type Remote struct {
	BaseURL  string        `mapstructure:"base_url"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
	PageSize int           `mapstructure:"page_size"`
	Retries  uint64        `mapstructure:"retries"`
	// Replay serves responses from a recorded JSONL file instead of the
	// network when set.
	Replay string `mapstructure:"replay"`
}

// Cache configures the response cache.
type Cache struct {
	CapacityMB      int           `mapstructure:"capacity_mb"`
	SwapDir         string        `mapstructure:"swap_dir"`
	UserTimelineTTL time.Duration `mapstructure:"user_timeline_ttl"`
}

// Store configures the local database.
type Store struct {
	Driver        string        `mapstructure:"driver"`
	BusyRetries   uint64        `mapstructure:"busy_retries"`
	BusyDelay     time.Duration `mapstructure:"busy_delay"`
	MemoryLimitMB int           `mapstructure:"memory_limit_mb"`
}

// Sync configures the sync driver.
type Sync struct {
	// Interval is the minimum time between two runs of the same source for
	// the same account.
	Interval time.Duration `mapstructure:"interval"`
	// PollInterval is how often the daemon wakes up to check checkpoints.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Concurrency  int           `mapstructure:"concurrency"`
	ListMembers  bool          `mapstructure:"list_members"`
}

// Log configures logging.
type Log struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Dashboard configures the websocket dashboard started by the daemon.
type Dashboard struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Config is the complete configuration.
type Config struct {
	DataDir   string    `mapstructure:"data_dir"`
	Accounts  []string  `mapstructure:"accounts"`
	Remote    Remote    `mapstructure:"remote"`
	Cache     Cache     `mapstructure:"cache"`
	Store     Store     `mapstructure:"store"`
	Sync      Sync      `mapstructure:"sync"`
	Log       Log       `mapstructure:"log"`
	Dashboard Dashboard `mapstructure:"dashboard"`

	// File is the config file the values were read from, if any.
	File string `mapstructure:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Remote: Remote{
			Timeout:  30 * time.Second,
			PageSize: 200,
			Retries:  3,
		},
		Cache: Cache{
			CapacityMB:      4,
			UserTimelineTTL: 5 * time.Minute,
		},
		Store: Store{
			Driver:      "sqlite3",
			BusyRetries: 50,
			BusyDelay:   20 * time.Millisecond,
		},
		Sync: Sync{
			Interval:     15 * time.Minute,
			PollInterval: time.Minute,
			Concurrency:  2,
		},
		Log: Log{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Dashboard: Dashboard{
			Port: 8080,
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "roost")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".roost"
	}
	return filepath.Join(home, ".local", "share", "roost")
}

// StorePath returns the database file location.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "roost.db")
}

// SwapDir returns the cache overflow directory.
func (c *Config) SwapDir() string {
	if c.Cache.SwapDir != "" {
		return c.Cache.SwapDir
	}
	return filepath.Join(c.DataDir, "swap")
}

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return ErrNoAccounts
	}
	for _, a := range c.Accounts {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("account names cannot be empty")
		}
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("sync.poll_interval must be positive, got %s", c.Sync.PollInterval)
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}
	if c.Cache.CapacityMB < 0 {
		return fmt.Errorf("cache.capacity_mb cannot be negative")
	}
	switch c.Store.Driver {
	case "sqlite3", "libsql":
	default:
		return fmt.Errorf("store.driver must be sqlite3 or libsql, got %q", c.Store.Driver)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	return nil
}

// ValidateRemote checks that a remote source is configured.
func (c *Config) ValidateRemote() error {
	if c.Remote.Replay == "" && c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url or remote.replay must be set")
	}
	return nil
}

// NewViper returns a viper instance with defaults, search paths and the
// environment binding installed. path, when not empty, names the config file
// explicitly.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("roost")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "roost"))
		}
	}

	v.SetEnvPrefix("ROOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("accounts", append([]string{}, d.Accounts...))

	v.SetDefault("remote.base_url", d.Remote.BaseURL)
	v.SetDefault("remote.token", d.Remote.Token)
	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("remote.page_size", d.Remote.PageSize)
	v.SetDefault("remote.retries", d.Remote.Retries)
	v.SetDefault("remote.replay", d.Remote.Replay)

	v.SetDefault("cache.capacity_mb", d.Cache.CapacityMB)
	v.SetDefault("cache.swap_dir", d.Cache.SwapDir)
	v.SetDefault("cache.user_timeline_ttl", d.Cache.UserTimelineTTL)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.busy_retries", d.Store.BusyRetries)
	v.SetDefault("store.busy_delay", d.Store.BusyDelay)
	v.SetDefault("store.memory_limit_mb", d.Store.MemoryLimitMB)

	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.poll_interval", d.Sync.PollInterval)
	v.SetDefault("sync.concurrency", d.Sync.Concurrency)
	v.SetDefault("sync.list_members", d.Sync.ListMembers)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)

	v.SetDefault("dashboard.enabled", d.Dashboard.Enabled)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
}

// Load reads the configuration. A missing config file is not an error
// unless path names it explicitly.
func Load(path string) (*Config, error) {
	return FromViper(NewViper(path), path != "")
}

// FromViper reads the config file (if any) into v and decodes the result.
func FromViper(v *viper.Viper, explicit bool) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	for i, a := range cfg.Accounts {
		cfg.Accounts[i] = strings.TrimSpace(a)
	}
	return cfg, nil
}
