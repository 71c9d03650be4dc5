package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// fileDoc mirrors Config in the shape written to disk. Durations are
// written as strings ("15m0s") which viper decodes back into
// time.Duration.
type fileDoc struct {
	DataDir  string   `toml:"data_dir"`
	Accounts []string `toml:"accounts"`

	Remote struct {
		BaseURL  string `toml:"base_url"`
		Token    string `toml:"token,omitempty"`
		Timeout  string `toml:"timeout"`
		PageSize int    `toml:"page_size"`
		Retries  uint64 `toml:"retries"`
		Replay   string `toml:"replay,omitempty"`
	} `toml:"remote"`

	Cache struct {
		CapacityMB      int    `toml:"capacity_mb"`
		SwapDir         string `toml:"swap_dir,omitempty"`
		UserTimelineTTL string `toml:"user_timeline_ttl"`
	} `toml:"cache"`

	Store struct {
		Driver        string `toml:"driver"`
		BusyRetries   uint64 `toml:"busy_retries"`
		BusyDelay     string `toml:"busy_delay"`
		MemoryLimitMB int    `toml:"memory_limit_mb,omitempty"`
	} `toml:"store"`

	Sync struct {
		Interval     string `toml:"interval"`
		PollInterval string `toml:"poll_interval"`
		Concurrency  int    `toml:"concurrency"`
		ListMembers  bool   `toml:"list_members"`
	} `toml:"sync"`

	Log struct {
		Level      string `toml:"level"`
		Format     string `toml:"format"`
		File       string `toml:"file,omitempty"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
	} `toml:"log"`

	Dashboard struct {
		Enabled bool `toml:"enabled"`
		Port    int  `toml:"port"`
	} `toml:"dashboard"`
}

func toFileDoc(c *Config) fileDoc {
	var d fileDoc
	d.DataDir = c.DataDir
	d.Accounts = append([]string{}, c.Accounts...)

	d.Remote.BaseURL = c.Remote.BaseURL
	d.Remote.Token = c.Remote.Token
	d.Remote.Timeout = c.Remote.Timeout.String()
	d.Remote.PageSize = c.Remote.PageSize
	d.Remote.Retries = c.Remote.Retries
	d.Remote.Replay = c.Remote.Replay

	d.Cache.CapacityMB = c.Cache.CapacityMB
	d.Cache.SwapDir = c.Cache.SwapDir
	d.Cache.UserTimelineTTL = c.Cache.UserTimelineTTL.String()

	d.Store.Driver = c.Store.Driver
	d.Store.BusyRetries = c.Store.BusyRetries
	d.Store.BusyDelay = c.Store.BusyDelay.String()
	d.Store.MemoryLimitMB = c.Store.MemoryLimitMB

	d.Sync.Interval = c.Sync.Interval.String()
	d.Sync.PollInterval = c.Sync.PollInterval.String()
	d.Sync.Concurrency = c.Sync.Concurrency
	d.Sync.ListMembers = c.Sync.ListMembers

	d.Log.Level = c.Log.Level
	d.Log.Format = c.Log.Format
	d.Log.File = c.Log.File
	d.Log.MaxSizeMB = c.Log.MaxSizeMB
	d.Log.MaxBackups = c.Log.MaxBackups
	d.Log.MaxAgeDays = c.Log.MaxAgeDays

	d.Dashboard.Enabled = c.Dashboard.Enabled
	d.Dashboard.Port = c.Dashboard.Port
	return d
}

// WriteFile writes cfg as TOML, atomically via a temp file. The file is
// created 0600 since it may hold the API token.
func WriteFile(path string, cfg *Config) error {
	var buf bytes.Buffer
	buf.WriteString("# roost configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(toFileDoc(cfg)); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
