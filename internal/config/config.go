// Package config holds engine configuration: defaults live here, and
// Load pulls overrides from ~/.echo-memory/config.toml and the
// ECHO_MEMORY_* environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all memory engine configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" toml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	LLM       LLMConfig       `mapstructure:"llm" toml:"llm"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" toml:"scheduler"`
	Rubric    RubricConfig    `mapstructure:"rubric" toml:"rubric"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind" toml:"bind"`
	Port int    `mapstructure:"port" toml:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

type LLMConfig struct {
	Provider     string `mapstructure:"provider" toml:"provider"` // "claude-cli", "anthropic", "ollama"
	Model        string `mapstructure:"model" toml:"model"`
	OllamaURL    string `mapstructure:"ollama_url" toml:"ollama_url"`
	OllamaModel  string `mapstructure:"ollama_model" toml:"ollama_model"`
	EmbedModel   string `mapstructure:"embed_model" toml:"embed_model"`
	AnthropicKey string `mapstructure:"anthropic_key" toml:"anthropic_key"`

	// Per-judge-call timeout. A slow judge falls back to the rule
	// score instead of stalling the batch.
	JudgeTimeout time.Duration `mapstructure:"judge_timeout" toml:"judge_timeout"`
}

type SchedulerConfig struct {
	RescoreInterval  time.Duration `mapstructure:"rescore_interval" toml:"rescore_interval"`
	RescoreBatchSize int           `mapstructure:"rescore_batch_size" toml:"rescore_batch_size"`
	PruneInterval    time.Duration `mapstructure:"prune_interval" toml:"prune_interval"`
}

// RubricConfig carries the importance rubric bands for the LLM judge.
// The band text is configuration, not logic: it should be re-tuned
// against whatever judge model is actually in use.
type RubricConfig struct {
	Critical   string `mapstructure:"critical" toml:"critical"`
	Important  string `mapstructure:"important" toml:"important"`
	Moderate   string `mapstructure:"moderate" toml:"moderate"`
	Low        string `mapstructure:"low" toml:"low"`
	Negligible string `mapstructure:"negligible" toml:"negligible"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38642,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider:     "claude-cli",
			Model:        "haiku",
			JudgeTimeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			RescoreInterval:  5 * time.Minute,
			RescoreBatchSize: 20,
			PruneInterval:    30 * 24 * time.Hour,
		},
		Rubric: RubricConfig{
			Critical:   "core identity facts: name, family, occupation, health conditions",
			Important:  "strong preferences, close relationships, significant life events",
			Moderate:   "habits, routines, general likes and dislikes",
			Low:        "passing opinions, minor situational details",
			Negligible: "small talk, one-off context unlikely to matter again",
		},
	}
}

// Load returns the default config overlaid with values from the
// config file (if present) and ECHO_MEMORY_* environment variables.
func Load() (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".echo-memory"))
	}
	v.SetEnvPrefix("ECHO_MEMORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file just means defaults; anything else is real.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	// Env convenience: a bare ANTHROPIC_API_KEY selects the anthropic
	// provider the way most deployments expect.
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.LLM.AnthropicKey == "" {
		cfg.LLM.AnthropicKey = key
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
