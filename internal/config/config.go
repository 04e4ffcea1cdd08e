// Package config loads the project configuration from .legio/config.yaml.
//
// Missing file or missing sections fall back to defaults; explicit values
// overlay them field by field.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full project configuration.
type Config struct {
	Project   ProjectConfig   `yaml:"project"`
	Agents    AgentsConfig    `yaml:"agents"`
	Worktrees WorktreesConfig `yaml:"worktrees"`
	Merge     MergeConfig     `yaml:"merge"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Models    ModelsConfig    `yaml:"models"`
	Logging   LoggingConfig   `yaml:"logging"`
	Autopilot AutopilotConfig `yaml:"autopilot"`
}

// ProjectConfig identifies the project and its canonical branch.
type ProjectConfig struct {
	Name          string `yaml:"name"`
	DefaultBranch string `yaml:"default_branch"`
}

// AgentsConfig bounds the agent tree.
type AgentsConfig struct {
	MaxDepth      int `yaml:"max_depth"`
	MaxChildren   int `yaml:"max_children"`
	SpawnDelayMs  int `yaml:"spawn_delay_ms"`
	BeaconDelayMs int `yaml:"beacon_delay_ms"`
}

// WorktreesConfig controls worktree placement and cleanup.
type WorktreesConfig struct {
	AutoClean bool `yaml:"auto_clean"`
}

// MergeConfig controls the merge pipeline.
type MergeConfig struct {
	TargetBranch   string `yaml:"target_branch"`
	ReimagineTool  string `yaml:"reimagine_tool"`
	DeleteBranches bool   `yaml:"delete_branches"`
}

// WatchdogConfig controls liveness checking.
type WatchdogConfig struct {
	Tier0IntervalMs  int `yaml:"tier0_interval_ms"`
	StaleThresholdMs int `yaml:"stale_threshold_ms"`
	MaxRetries       int `yaml:"max_retries"`
}

// ModelsConfig names the external agent binary and triage tool.
type ModelsConfig struct {
	AgentCommand string `yaml:"agent_command"`
	TriageTool   string `yaml:"triage_tool"`
}

// LoggingConfig controls daemon log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AutopilotConfig controls the autopilot daemon.
type AutopilotConfig struct {
	AutoMerge          bool `yaml:"auto_merge"`
	AutoCleanWorktrees bool `yaml:"auto_clean_worktrees"`
	TickIntervalMs     int  `yaml:"tick_interval_ms"`
}

// Default returns the configuration used when config.yaml is absent.
func Default() *Config {
	return &Config{
		Project: ProjectConfig{
			Name:          "legio",
			DefaultBranch: "main",
		},
		Agents: AgentsConfig{
			MaxDepth:      3,
			MaxChildren:   4,
			SpawnDelayMs:  5000,
			BeaconDelayMs: 3000,
		},
		Worktrees: WorktreesConfig{
			AutoClean: false,
		},
		Merge: MergeConfig{
			TargetBranch:   "",
			ReimagineTool:  "",
			DeleteBranches: true,
		},
		Watchdog: WatchdogConfig{
			Tier0IntervalMs:  30000,
			StaleThresholdMs: 300000,
			MaxRetries:       3,
		},
		Models: ModelsConfig{
			AgentCommand: "claude",
			TriageTool:   "claude",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Autopilot: AutopilotConfig{
			AutoMerge:          true,
			AutoCleanWorktrees: false,
			TickIntervalMs:     15000,
		},
	}
}

// Load reads config.yaml from path, overlaying explicit values onto the
// defaults. A missing file returns defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the workspace layout
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyFloors()
	return cfg, nil
}

// applyFloors restores defaults for fields a hand-edited config zeroed out.
func (c *Config) applyFloors() {
	d := Default()
	if c.Project.DefaultBranch == "" {
		c.Project.DefaultBranch = d.Project.DefaultBranch
	}
	if c.Agents.MaxDepth <= 0 {
		c.Agents.MaxDepth = d.Agents.MaxDepth
	}
	if c.Agents.MaxChildren <= 0 {
		c.Agents.MaxChildren = d.Agents.MaxChildren
	}
	if c.Watchdog.Tier0IntervalMs <= 0 {
		c.Watchdog.Tier0IntervalMs = d.Watchdog.Tier0IntervalMs
	}
	if c.Watchdog.StaleThresholdMs <= 0 {
		c.Watchdog.StaleThresholdMs = d.Watchdog.StaleThresholdMs
	}
	if c.Watchdog.MaxRetries <= 0 {
		c.Watchdog.MaxRetries = d.Watchdog.MaxRetries
	}
	if c.Models.AgentCommand == "" {
		c.Models.AgentCommand = d.Models.AgentCommand
	}
	if c.Autopilot.TickIntervalMs <= 0 {
		c.Autopilot.TickIntervalMs = d.Autopilot.TickIntervalMs
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

// Save writes the configuration to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil { //nolint:gosec // G306: project config is not sensitive
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// WatchdogInterval returns the tick interval as a duration.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Watchdog.Tier0IntervalMs) * time.Millisecond
}

// StaleThreshold returns the stall threshold as a duration.
func (c *Config) StaleThreshold() time.Duration {
	return time.Duration(c.Watchdog.StaleThresholdMs) * time.Millisecond
}

// SpawnDelay returns the stagger delay between spawns.
func (c *Config) SpawnDelay() time.Duration {
	return time.Duration(c.Agents.SpawnDelayMs) * time.Millisecond
}

// AutopilotInterval returns the autopilot tick interval.
func (c *Config) AutopilotInterval() time.Duration {
	return time.Duration(c.Autopilot.TickIntervalMs) * time.Millisecond
}
