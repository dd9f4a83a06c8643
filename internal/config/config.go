// Package config loads foreman's on-disk configuration: viper reading a
// YAML file with Go-built defaults layered underneath, unknown keys
// tolerated.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is foreman's full configuration surface.
type Config struct {
	Agent    AgentConfig            `mapstructure:"agent"`
	Roles    map[string]RoleConfig  `mapstructure:"roles"`
	Pipeline PipelineConfig         `mapstructure:"pipeline"`
	Breaker  BreakerConfig          `mapstructure:"breaker"`
}

// AgentConfig resolves which binary is spawned for every agent role.
type AgentConfig struct {
	Binary       string   `mapstructure:"binary"`
	AllowedTools []string `mapstructure:"allowed_tools"`
}

// RoleConfig configures one agent role's starting model and escalation
// ladder.
type RoleConfig struct {
	Profile       string   `mapstructure:"profile"` // read-only | write | verify | design
	StartingModel string   `mapstructure:"starting_model"`
	Ladder        []string `mapstructure:"ladder"`
	Threshold     int      `mapstructure:"threshold"`
}

// PipelineConfig configures the pipeline daemon's backlog layout and
// channel discovery.
type PipelineConfig struct {
	DefectsRoot           string `mapstructure:"defects_root"`
	FeaturesRoot          string `mapstructure:"features_root"`
	AnalysisRoot          string `mapstructure:"analysis_root"`
	ArchiveRoot           string `mapstructure:"archive_root"`
	PlanDir               string `mapstructure:"plan_dir"`
	ChannelPrefix         string `mapstructure:"channel_prefix"`
	MaxVerificationCycles int    `mapstructure:"max_verification_cycles"`
	QuiescenceSeconds     int    `mapstructure:"quiescence_seconds"`
	PollIntervalSeconds   int    `mapstructure:"poll_interval_seconds"`
	MetricsAddr           string `mapstructure:"metrics_addr"`

	// Channel transport: how the daemon reaches its message channels.
	ChannelBaseURL string `mapstructure:"channel_base_url"`
	ChannelToken   string `mapstructure:"channel_token"`
	ChannelSignKey string `mapstructure:"channel_sign_key"`
	AgentName      string `mapstructure:"agent_name"`
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	Threshold       int `mapstructure:"threshold"`
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
}

// Quiescence returns the configured filesystem-watcher debounce window.
func (p PipelineConfig) Quiescence() time.Duration {
	if p.QuiescenceSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(p.QuiescenceSeconds) * time.Second
}

// PollInterval returns the configured channel poll cadence.
func (p PipelineConfig) PollInterval() time.Duration {
	if p.PollIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

// Cooldown returns the configured breaker cooldown window.
func (b BreakerConfig) Cooldown() time.Duration {
	if b.CooldownSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(b.CooldownSeconds) * time.Second
}

// Load reads .foreman/config.yaml from the workspace root, falling back
// to DefaultConfig when it does not exist.
func Load(workspaceDir string) (*Config, error) {
	configPath := filepath.Join(workspaceDir, ".foreman", "config.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultConfig returns a config with every value defaulted.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Binary: "claude",
			AllowedTools: []string{
				"Read", "Write", "Edit", "Bash", "Glob", "Grep",
			},
		},
		Roles: map[string]RoleConfig{
			"write":  {Profile: "write", StartingModel: "sonnet", Ladder: []string{"sonnet", "opus"}, Threshold: 2},
			"verify": {Profile: "verify", StartingModel: "sonnet"},
			"design": {Profile: "design", StartingModel: "sonnet"},
			"review": {Profile: "read-only", StartingModel: "sonnet"},
		},
		Pipeline: PipelineConfig{
			DefectsRoot:           "backlog/defects",
			FeaturesRoot:          "backlog/features",
			AnalysisRoot:          "backlog/analysis",
			ArchiveRoot:           "archive",
			PlanDir:               "plans",
			ChannelPrefix:         "foreman",
			MaxVerificationCycles: 3,
			QuiescenceSeconds:     2,
			PollIntervalSeconds:   5,
			MetricsAddr:           ":9091",
			AgentName:             "foreman",
		},
		Breaker: BreakerConfig{
			Threshold:       3,
			CooldownSeconds: 300,
		},
	}
}

func applyDefaults(cfg *Config) {
	d := DefaultConfig()

	if cfg.Agent.Binary == "" {
		cfg.Agent.Binary = d.Agent.Binary
	}
	if len(cfg.Agent.AllowedTools) == 0 {
		cfg.Agent.AllowedTools = d.Agent.AllowedTools
	}
	if cfg.Roles == nil {
		cfg.Roles = d.Roles
	}
	if cfg.Pipeline.DefectsRoot == "" {
		cfg.Pipeline.DefectsRoot = d.Pipeline.DefectsRoot
	}
	if cfg.Pipeline.FeaturesRoot == "" {
		cfg.Pipeline.FeaturesRoot = d.Pipeline.FeaturesRoot
	}
	if cfg.Pipeline.AnalysisRoot == "" {
		cfg.Pipeline.AnalysisRoot = d.Pipeline.AnalysisRoot
	}
	if cfg.Pipeline.ArchiveRoot == "" {
		cfg.Pipeline.ArchiveRoot = d.Pipeline.ArchiveRoot
	}
	if cfg.Pipeline.PlanDir == "" {
		cfg.Pipeline.PlanDir = d.Pipeline.PlanDir
	}
	if cfg.Pipeline.ChannelPrefix == "" {
		cfg.Pipeline.ChannelPrefix = d.Pipeline.ChannelPrefix
	}
	if cfg.Pipeline.MaxVerificationCycles == 0 {
		cfg.Pipeline.MaxVerificationCycles = d.Pipeline.MaxVerificationCycles
	}
	if cfg.Pipeline.MetricsAddr == "" {
		cfg.Pipeline.MetricsAddr = d.Pipeline.MetricsAddr
	}
	if cfg.Pipeline.AgentName == "" {
		cfg.Pipeline.AgentName = d.Pipeline.AgentName
	}
	if cfg.Breaker.Threshold == 0 {
		cfg.Breaker.Threshold = d.Breaker.Threshold
	}
	if cfg.Breaker.CooldownSeconds == 0 {
		cfg.Breaker.CooldownSeconds = d.Breaker.CooldownSeconds
	}
}
