package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is the full application configuration.
type Config struct {
	DataDir       string        `json:"data_dir" mapstructure:"data_dir"`
	WorkspacePath string        `json:"workspace_path" mapstructure:"workspace_path"`
	Gateway       GatewayConfig `json:"gateway" mapstructure:"gateway"`
	AI            AIConfig      `json:"ai" mapstructure:"ai"`
	Sessions      SessionConfig `json:"sessions" mapstructure:"sessions"`
	Plans         PlanConfig    `json:"plans" mapstructure:"plans"`
	Tools         ToolConfig    `json:"tools" mapstructure:"tools"`
	Logging       LoggingConfig `json:"logging" mapstructure:"logging"`
}

// GatewayConfig configures the websocket server.
type GatewayConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// AIConfig configures the model provider.
type AIConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"`
	Model       string  `json:"model" mapstructure:"model"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTurns    int     `json:"max_turns" mapstructure:"max_turns"`
	MaxRetries  int     `json:"max_retries" mapstructure:"max_retries"`
}

// SessionConfig configures history persistence and the replay buffer.
type SessionConfig struct {
	Dir             string `json:"dir" mapstructure:"dir"`
	ReplayBuffer    int    `json:"replay_buffer" mapstructure:"replay_buffer"`
	CleanupAgeDays  int    `json:"cleanup_age_days" mapstructure:"cleanup_age_days"`
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// PlanConfig configures the plan store.
type PlanConfig struct {
	DBPath string `json:"db_path" mapstructure:"db_path"`
}

// ToolConfig configures the builtin tools.
type ToolConfig struct {
	NeedsPermission   bool   `json:"needs_permission" mapstructure:"needs_permission"`
	DockerContainerID string `json:"docker_container_id" mapstructure:"docker_container_id"`
	ShellTimeoutSecs  int    `json:"shell_timeout_secs" mapstructure:"shell_timeout_secs"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		AI: AIConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   8192,
			Temperature: 0.0,
			MaxTurns:    40,
			MaxRetries:  3,
		},
		Sessions: SessionConfig{
			ReplayBuffer:    256,
			CleanupAgeDays:  7,
			CleanupSchedule: "0 3 * * *",
		},
		Tools: ToolConfig{
			ShellTimeoutSecs: 120,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	switch c.AI.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown provider: %s", c.AI.Provider)
	}
	if c.AI.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.AI.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if c.Sessions.ReplayBuffer < 0 {
		return fmt.Errorf("replay_buffer cannot be negative")
	}
	return nil
}

// ResolvePaths fills in path defaults relative to the data directory.
func (c *Config) ResolvePaths() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".ii-agent")
	}
	if c.WorkspacePath == "" {
		c.WorkspacePath = filepath.Join(c.DataDir, "workspace")
	}
	if c.Sessions.Dir == "" {
		c.Sessions.Dir = filepath.Join(c.DataDir, "sessions")
	}
	if c.Plans.DBPath == "" {
		c.Plans.DBPath = filepath.Join(c.DataDir, "plans.db")
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.DataDir, "ii-agent.log")
	}
	return nil
}
