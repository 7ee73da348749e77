// Package config provides configuration loading and management for the
// agentcycle engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentcycle/agentcycle/safety"
)

// Config represents the complete engine configuration.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	NATS    NATSConfig    `yaml:"nats"`
	Engine  EngineConfig  `yaml:"engine"`
	Safety  safety.Limits `yaml:"safety"`
	Streams StreamsConfig `yaml:"streams"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// AgentConfig identifies this instance.
type AgentConfig struct {
	// ID is the agent identity. Exactly one live instance per ID.
	ID string `yaml:"id"`
	// Specialization scopes momentum work templates.
	Specialization string `yaml:"specialization"`
	// MomentumTemplates overrides the default rotation (optional).
	MomentumTemplates []string `yaml:"momentum_templates"`
}

// NATSConfig configures the broker connection.
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server).
	URL string `yaml:"url"`
	// Embedded indicates whether to run an embedded server.
	Embedded bool `yaml:"embedded"`
}

// EngineConfig tunes the control loop.
type EngineConfig struct {
	CycleInterval      time.Duration `yaml:"cycle_interval"`
	TasksPerPhase      int           `yaml:"tasks_per_phase"`
	ExecTimeout        time.Duration `yaml:"exec_timeout"`
	MaxAttempts        int           `yaml:"max_attempts"`
	RecoveryWindow     time.Duration `yaml:"recovery_window"`
	RecoveryThreshold  int           `yaml:"recovery_threshold"`
	EscalationCooldown time.Duration `yaml:"escalation_cooldown"`
	// StateTTL bounds how long a persisted state record outlives its
	// writer, so a crashed instance's record cannot look live forever.
	StateTTL time.Duration `yaml:"state_ttl"`
	// CelebrationCap bounds the completion-routine acknowledgment pause.
	CelebrationCap time.Duration `yaml:"celebration_cap"`
}

// StreamsConfig tunes channel polling.
type StreamsConfig struct {
	PollTimeout time.Duration `yaml:"poll_timeout"`
	PollBatch   int           `yaml:"poll_batch"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics (empty = disabled).
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			ID:             "",
			Specialization: "general",
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Engine: EngineConfig{
			CycleInterval:      5 * time.Second,
			TasksPerPhase:      5,
			ExecTimeout:        10 * time.Minute,
			MaxAttempts:        3,
			RecoveryWindow:     10 * time.Minute,
			RecoveryThreshold:  3,
			EscalationCooldown: 15 * time.Minute,
			StateTTL:           24 * time.Hour,
			CelebrationCap:     15 * time.Second,
		},
		Safety: safety.DefaultLimits(),
		Streams: StreamsConfig{
			PollTimeout: 2 * time.Second,
			PollBatch:   32,
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Agent.ID == "" {
		return fmt.Errorf("agent.id is required")
	}
	if c.Engine.TasksPerPhase <= 0 {
		return fmt.Errorf("engine.tasks_per_phase must be positive")
	}
	if c.Engine.MaxAttempts <= 0 {
		return fmt.Errorf("engine.max_attempts must be positive")
	}
	if c.Engine.RecoveryThreshold <= 0 {
		return fmt.Errorf("engine.recovery_threshold must be positive")
	}
	if c.Safety.Rate.Cooldown <= 0 {
		return fmt.Errorf("safety.rate.cooldown must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Agent.ID != "" {
		c.Agent.ID = other.Agent.ID
	}
	if other.Agent.Specialization != "" {
		c.Agent.Specialization = other.Agent.Specialization
	}
	if len(other.Agent.MomentumTemplates) > 0 {
		c.Agent.MomentumTemplates = other.Agent.MomentumTemplates
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = other.NATS.Embedded
	}

	if other.Engine.CycleInterval != 0 {
		c.Engine.CycleInterval = other.Engine.CycleInterval
	}
	if other.Engine.TasksPerPhase != 0 {
		c.Engine.TasksPerPhase = other.Engine.TasksPerPhase
	}
	if other.Engine.ExecTimeout != 0 {
		c.Engine.ExecTimeout = other.Engine.ExecTimeout
	}
	if other.Engine.MaxAttempts != 0 {
		c.Engine.MaxAttempts = other.Engine.MaxAttempts
	}
	if other.Engine.RecoveryWindow != 0 {
		c.Engine.RecoveryWindow = other.Engine.RecoveryWindow
	}
	if other.Engine.RecoveryThreshold != 0 {
		c.Engine.RecoveryThreshold = other.Engine.RecoveryThreshold
	}
	if other.Engine.EscalationCooldown != 0 {
		c.Engine.EscalationCooldown = other.Engine.EscalationCooldown
	}
	if other.Engine.StateTTL != 0 {
		c.Engine.StateTTL = other.Engine.StateTTL
	}
	if other.Engine.CelebrationCap != 0 {
		c.Engine.CelebrationCap = other.Engine.CelebrationCap
	}

	if other.Safety.Rate.PerMinute != 0 {
		c.Safety.Rate = other.Safety.Rate
	}
	if other.Safety.Loop.RepeatThreshold != 0 {
		c.Safety.Loop = other.Safety.Loop
	}
	if other.Safety.Resources.MaxRSSBytes != 0 {
		c.Safety.Resources = other.Safety.Resources
	}

	if other.Streams.PollTimeout != 0 {
		c.Streams.PollTimeout = other.Streams.PollTimeout
	}
	if other.Streams.PollBatch != 0 {
		c.Streams.PollBatch = other.Streams.PollBatch
	}

	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}
