package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.True(t, config.NATS.Embedded)
	assert.Equal(t, 5*time.Second, config.Engine.CycleInterval)
	assert.Equal(t, 5, config.Engine.TasksPerPhase)
	assert.Equal(t, 24*time.Hour, config.Engine.StateTTL)
	assert.Equal(t, 20, config.Safety.Rate.PerMinute)

	// Defaults alone are not runnable: an identity is mandatory.
	assert.Error(t, config.Validate())
	config.Agent.ID = "agent-1"
	assert.NoError(t, config.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing agent id",
			mutate:  func(c *Config) { c.Agent.ID = "" },
			wantErr: "agent.id",
		},
		{
			name:    "zero tasks per phase",
			mutate:  func(c *Config) { c.Engine.TasksPerPhase = 0 },
			wantErr: "tasks_per_phase",
		},
		{
			name:    "negative max attempts",
			mutate:  func(c *Config) { c.Engine.MaxAttempts = -1 },
			wantErr: "max_attempts",
		},
		{
			name:    "zero recovery threshold",
			mutate:  func(c *Config) { c.Engine.RecoveryThreshold = 0 },
			wantErr: "recovery_threshold",
		},
		{
			name:    "zero rate cooldown",
			mutate:  func(c *Config) { c.Safety.Rate.Cooldown = 0 },
			wantErr: "cooldown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Agent.ID = "agent-1"
			tt.mutate(config)

			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentcycle.yaml")
	content := `
agent:
  id: agent-7
  specialization: docs
nats:
  url: nats://localhost:4222
  embedded: false
engine:
  tasks_per_phase: 3
metrics:
  addr: ":9100"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "agent-7", config.Agent.ID)
	assert.Equal(t, "docs", config.Agent.Specialization)
	assert.Equal(t, "nats://localhost:4222", config.NATS.URL)
	assert.False(t, config.NATS.Embedded)
	assert.Equal(t, 3, config.Engine.TasksPerPhase)
	assert.Equal(t, ":9100", config.Metrics.Addr)

	// Unspecified sections keep their defaults.
	assert.Equal(t, 10*time.Minute, config.Engine.ExecTimeout)
	assert.Equal(t, 32, config.Streams.PollBatch)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent: [not a mapping"), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agentcycle.yaml")

	config := DefaultConfig()
	config.Agent.ID = "agent-1"
	config.Engine.CycleInterval = 7 * time.Second
	config.Safety.Rate.PerMinute = 42
	require.NoError(t, config.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", loaded.Agent.ID)
	assert.Equal(t, 7*time.Second, loaded.Engine.CycleInterval)
	assert.Equal(t, 42, loaded.Safety.Rate.PerMinute)
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	base.Agent.ID = "agent-1"

	other := &Config{}
	other.Agent.Specialization = "infra"
	other.Agent.MomentumTemplates = []string{"audit one dashboard"}
	other.Engine.CycleInterval = 30 * time.Second
	other.NATS.URL = "nats://remote:4222"
	other.Safety.Rate.PerMinute = 5

	base.Merge(other)

	assert.Equal(t, "agent-1", base.Agent.ID, "zero values never overwrite")
	assert.Equal(t, "infra", base.Agent.Specialization)
	assert.Equal(t, []string{"audit one dashboard"}, base.Agent.MomentumTemplates)
	assert.Equal(t, 30*time.Second, base.Engine.CycleInterval)
	assert.Equal(t, 5, base.Engine.TasksPerPhase, "untouched sections survive")
	assert.Equal(t, "nats://remote:4222", base.NATS.URL)
	assert.False(t, base.NATS.Embedded, "an explicit URL turns the embedded server off")
	assert.Equal(t, 5, base.Safety.Rate.PerMinute)

	base.Merge(nil)
	assert.Equal(t, "agent-1", base.Agent.ID)
}
