// Package config holds harness configuration, loaded from TOML with
// defaults for the stock dev-server layout.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all harness configuration.
type Config struct {
	Bench  BenchConfig  `toml:"bench"`
	Server ServerConfig `toml:"server"`
	Store  StoreConfig  `toml:"store"`
	Notify NotifyConfig `toml:"notify"`
}

// BenchConfig controls the edit/measure loop.
type BenchConfig struct {
	// AppDir is the benchmarked application's root. It is threaded through
	// explicitly; nothing derives it at package scope.
	AppDir string `toml:"app_dir"`

	// TargetFile is the source file to edit, relative to AppDir.
	TargetFile string `toml:"target_file"`

	// Rounds is the number of timed edits.
	Rounds int `toml:"rounds"`

	// SettleDelayMs is the pause between rounds so two edits are not
	// coalesced into one recompile. A debounce heuristic, not a
	// correctness guarantee.
	SettleDelayMs int `toml:"settle_delay_ms"`

	// BuildDir is the build output directory, relative to AppDir.
	BuildDir string `toml:"build_dir"`

	// TraceFile is the trace log path, relative to BuildDir.
	TraceFile string `toml:"trace_file"`

	// TraceEvent is the named event whose duration is reported.
	TraceEvent string `toml:"trace_event"`

	// CleanupCommand produces the trace log after teardown, run with
	// `sh -c` in AppDir.
	CleanupCommand string `toml:"cleanup_command"`
}

// ServerConfig controls how the dev server is launched and observed.
type ServerConfig struct {
	Command          string `toml:"command"`
	Mode             string `toml:"mode"`
	Port             int    `toml:"port"`
	ReadyPattern     string `toml:"ready_pattern"`
	MilestonePattern string `toml:"milestone_pattern"`
	Quiet            bool   `toml:"quiet"`
}

// StoreConfig controls optional run persistence.
type StoreConfig struct {
	Path string `toml:"path"`
}

// NotifyConfig controls completion notifications.
type NotifyConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Bench: BenchConfig{
			TargetFile:     filepath.Join("pages", "index.js"),
			Rounds:         3,
			SettleDelayMs:  1000,
			BuildDir:       ".next",
			TraceFile:      "trace",
			TraceEvent:     "next-build",
			CleanupCommand: "yarn build",
		},
		Server: ServerConfig{
			Command: "next",
			Mode:    "dev",
			Port:    3000,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.Bench.AppDir = ExpandPath(cfg.Bench.AppDir)
	cfg.Store.Path = ExpandPath(cfg.Store.Path)

	return cfg, nil
}

// SettleDelay returns the inter-round pause as a duration.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Bench.SettleDelayMs) * time.Millisecond
}

// TargetPath returns the absolute path of the edited source file.
func (c *Config) TargetPath() string {
	return filepath.Join(c.Bench.AppDir, c.Bench.TargetFile)
}

// BuildDirPath returns the absolute path of the build output directory.
func (c *Config) BuildDirPath() string {
	return filepath.Join(c.Bench.AppDir, c.Bench.BuildDir)
}

// TracePath returns the absolute path of the trace log.
func (c *Config) TracePath() string {
	return filepath.Join(c.BuildDirPath(), c.Bench.TraceFile)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "recompile-bench", "config.toml")
}
