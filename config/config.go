// Package config defines jetcashd's on-disk and command-line
// configuration, following the layout of
// _examples/tendermint-tendermint/config/config.go: a root Config
// struct holding sub-config sections, a RootDir threaded through every
// path field, ValidateBasic for fail-fast checks, and TOML
// (de)serialization via github.com/BurntSushi/toml.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultConfigDir  = "config"
	defaultConfigFile = "config.toml"
)

// Config is the root configuration object.
type Config struct {
	RootDir string `toml:"-"`

	BaseConfig `mapstructure:",squash"`
	Sync       SyncConfig `mapstructure:"sync" toml:"sync"`
}

// BaseConfig holds top-level, ungrouped settings.
type BaseConfig struct {
	LogLevel  string `mapstructure:"log_level" toml:"log_level"`
	LogFormat string `mapstructure:"log_format" toml:"log_format"`

	ListenAddress string `mapstructure:"listen_address" toml:"listen_address"`
}

// SyncConfig holds the block downloader's tunables, per spec.md §9 Open
// Question (b): these are runtime config, not compile-time constants.
type SyncConfig struct {
	SyncTimeoutSeconds int `mapstructure:"sync_timeout_seconds" toml:"sync_timeout_seconds"`
	GoodLag            int `mapstructure:"good_lag" toml:"good_lag"`

	TotalDownloadBlocks int `mapstructure:"total_download_blocks" toml:"total_download_blocks"`
	TotalDownloadWindow int `mapstructure:"total_download_window" toml:"total_download_window"`

	IdleDrainBudgetMS int `mapstructure:"idle_drain_budget_ms" toml:"idle_drain_budget_ms"`
	WorkerCount       int `mapstructure:"worker_count" toml:"worker_count"`

	// BanPlannerOnFailedAdd resolves Open Question (a): see
	// blocksync.Config.BanPlannerOnFailedAdd.
	BanPlannerOnFailedAdd bool `mapstructure:"ban_planner_on_failed_add" toml:"ban_planner_on_failed_add"`
}

// DefaultConfig returns a Config with jetcashd's defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig: BaseConfig{
			LogLevel:      "info",
			LogFormat:     "plain",
			ListenAddress: "tcp://0.0.0.0:18080",
		},
		Sync: SyncConfig{
			SyncTimeoutSeconds:    30,
			GoodLag:               5,
			TotalDownloadBlocks:   400,
			TotalDownloadWindow:   2000,
			IdleDrainBudgetMS:     100,
			WorkerCount:           0, // 0 means "compute from runtime.NumCPU"
			BanPlannerOnFailedAdd: false,
		},
	}
}

// SyncTimeout returns the sync timeout as a time.Duration.
func (c SyncConfig) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutSeconds) * time.Second
}

// IdleDrainBudget returns the idle drain budget as a time.Duration.
func (c SyncConfig) IdleDrainBudget() time.Duration {
	return time.Duration(c.IdleDrainBudgetMS) * time.Millisecond
}

// SetRoot sets RootDir on c and returns c, matching the teacher's
// fluent config.SetRoot pattern.
func (c *Config) SetRoot(root string) *Config {
	c.RootDir = root
	return c
}

// ConfigFilePath returns $RootDir/config/config.toml.
func (c Config) ConfigFilePath() string {
	return filepath.Join(c.RootDir, defaultConfigDir, defaultConfigFile)
}

// ValidateBasic performs fail-fast sanity checks, mirroring the
// teacher's Config.ValidateBasic.
func (c Config) ValidateBasic() error {
	if c.Sync.SyncTimeoutSeconds <= 0 {
		return fmt.Errorf("config: sync.sync_timeout_seconds must be > 0")
	}
	if c.Sync.GoodLag < 0 {
		return fmt.Errorf("config: sync.good_lag must be >= 0")
	}
	if c.Sync.TotalDownloadBlocks <= 0 {
		return fmt.Errorf("config: sync.total_download_blocks must be > 0")
	}
	if c.Sync.TotalDownloadWindow < c.Sync.TotalDownloadBlocks {
		return fmt.Errorf("config: sync.total_download_window must be >= total_download_blocks")
	}
	if c.Sync.IdleDrainBudgetMS <= 0 {
		return fmt.Errorf("config: sync.idle_drain_budget_ms must be > 0")
	}
	if c.Sync.WorkerCount < 0 {
		return fmt.Errorf("config: sync.worker_count must be >= 0")
	}
	return nil
}

// Load reads and parses the TOML file at path.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return cfg, nil
}

// WriteConfigFile marshals cfg as TOML to path, creating parent
// directories as needed, matching the teacher's
// config/toml.go:WriteConfigFile.
func WriteConfigFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", filepath.Dir(path), err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
