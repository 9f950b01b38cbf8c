package config

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Retry   RetryConfig   `mapstructure:"retry"`
	History HistoryConfig `mapstructure:"history"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// LLMConfig holds the upstream completion provider configuration.
type LLMConfig struct {
	// Provider selects the upstream wire format: "openai" for the
	// chat-completions API, "http" for a raw completions endpoint whose
	// response envelope is normalized defensively.
	Provider        string `mapstructure:"provider"`
	BaseURL         string `mapstructure:"base_url"`
	APIKey          string `mapstructure:"api_key"`
	Model           string `mapstructure:"model"`
	PromptID        string `mapstructure:"prompt_id"`
	PromptVersion   string `mapstructure:"prompt_version"`
	MaxOutputTokens int    `mapstructure:"max_output_tokens"`
	SystemPrompt    string `mapstructure:"system_prompt"`
	// EnableFallback serves a canned reply instead of failing when the API
	// key is missing or the upstream call terminally fails.
	EnableFallback bool `mapstructure:"enable_fallback"`
}

// RetryConfig bounds the upstream retry loop.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// HistoryConfig holds conversation history settings.
type HistoryConfig struct {
	DBPath string `mapstructure:"db_path"`
	// Window is the number of trailing turns included as upstream context.
	Window int `mapstructure:"window"`
	// MaxBytes caps the persisted history blob; 0 means unbounded.
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads config.yaml (or $CONFIG_PATH) plus environment overrides.
// A missing config file is not an error; defaults and environment apply.
func Load() (*Config, error) {
	v := viper.New()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "3000")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_output_tokens", 1000)
	v.SetDefault("llm.enable_fallback", true)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("history.db_path", "history.db")
	v.SetDefault("history.window", 10)
	v.SetDefault("log.level", "info")

	// Environment names kept compatible with the original deployment.
	bindings := map[string]string{
		"llm.api_key":  "OPENAI_API_KEY",
		"llm.base_url": "OPENAI_BASE_URL",
		"llm.model":    "MODEL",
		"server.port":  "PORT",
		"log.level":    "LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
