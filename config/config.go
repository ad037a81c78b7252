// Package config handles TOML configuration loading and path resolution.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Bot      BotConfig
	LLM      LLMConfig
	Ledger   LedgerConfig
	Response ResponseConfig
	Web      WebConfig
}

type BotConfig struct {
	Token       string   `toml:"token"`
	PersonaName string   `toml:"persona_name"`
	Aliases     []string `toml:"aliases"`
	Version     string   `toml:"version"`
}

type LLMConfig struct {
	APIKey                string `toml:"api_key"`
	Model                 string `toml:"model"`
	BaseURL               string `toml:"base_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	MaxRetries            int    `toml:"max_retries"`
}

type LedgerConfig struct {
	DBPath          string `toml:"db_path"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
	LogDBPath       string `toml:"log_db_path"`
}

type ResponseConfig struct {
	HistoryTimeoutMinutes    int     `toml:"history_timeout_minutes"`
	ParticipantWindowMinutes int     `toml:"participant_window_minutes"`
	ReplyBias                float64 `toml:"reply_bias"`
	IdleTimeoutMinutes       int     `toml:"idle_timeout_minutes"`
}

type WebConfig struct {
	Addr string `toml:"addr"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Apply defaults
	if cfg.Bot.PersonaName == "" {
		cfg.Bot.PersonaName = "Noel"
	}
	if len(cfg.Bot.Aliases) == 0 {
		cfg.Bot.Aliases = []string{"noel", "bot"}
	}
	if cfg.Bot.Version == "" {
		cfg.Bot.Version = "v1.0.0"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gemini-2.5-flash-lite"
	}
	if cfg.LLM.RequestTimeoutSeconds == 0 {
		cfg.LLM.RequestTimeoutSeconds = 60
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 5
	}
	if cfg.Ledger.CacheTTLSeconds == 0 {
		cfg.Ledger.CacheTTLSeconds = 60
	}
	if cfg.Response.HistoryTimeoutMinutes == 0 {
		cfg.Response.HistoryTimeoutMinutes = 60
	}
	if cfg.Response.ParticipantWindowMinutes == 0 {
		cfg.Response.ParticipantWindowMinutes = 10
	}
	if cfg.Response.ReplyBias == 0 {
		cfg.Response.ReplyBias = 1.5
	}
	if cfg.Response.IdleTimeoutMinutes == 0 {
		cfg.Response.IdleTimeoutMinutes = 10
	}
	if cfg.Web.Addr == "" {
		cfg.Web.Addr = ":8080"
	}

	// Validate required fields
	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot.token is required")
	}
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("llm.api_key is required")
	}
	if cfg.Ledger.DBPath == "" {
		return nil, fmt.Errorf("ledger.db_path is required")
	}
	if cfg.Response.ReplyBias < 0 {
		return nil, fmt.Errorf("response.reply_bias must not be negative")
	}

	return &cfg, nil
}

// Resolve returns the config file path from NOELBOT_CONFIG env var,
// falling back to ~/.config/noelbot/config.toml.
// The --config CLI flag is handled separately in main.go.
func Resolve() string {
	path := os.Getenv("NOELBOT_CONFIG")
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".config", "noelbot", "config.toml")
	}
	path = os.ExpandEnv(path)
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
