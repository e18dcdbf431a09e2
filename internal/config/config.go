// Package config loads the relay configuration from config.toml with
// environment overrides for credentials.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath  = "config.toml"
	DefaultHTTPAddr    = ":5566"
	DefaultDataRoot    = "data"
	DefaultGeminiBase  = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel = "gemini-1.5-flash"
	DefaultLineAPIBase = "https://api.line.me"
	DefaultLineDataAPI = "https://api-data.line.me"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Line     LineConfig     `toml:"line"`
	Gemini   GeminiConfig   `toml:"gemini"`
	Data     DataConfig     `toml:"data"`
	History  HistoryConfig  `toml:"history"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Media    MediaConfig    `toml:"media"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type LineConfig struct {
	AccessToken   string `toml:"access_token" validate:"required"`
	ChannelSecret string `toml:"channel_secret" validate:"required"`
	APIBase       string `toml:"api_base"`
	DataAPIBase   string `toml:"data_api_base"`
	// MaxMessageLength splits outbound messages that exceed it.
	MaxMessageLength int `toml:"max_message_length" validate:"gt=0"`
}

type GeminiConfig struct {
	APIKey      string  `toml:"api_key" validate:"required"`
	BaseURL     string  `toml:"base_url"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	// MaxOutputTokens caps the completion length.
	MaxOutputTokens int `toml:"max_output_tokens" validate:"gt=0"`
	// UploadThresholdBytes: media at or above this size goes through the
	// file API instead of inline request data.
	UploadThresholdBytes int64 `toml:"upload_threshold_bytes" validate:"gt=0"`
	// PollTimeoutSeconds bounds the wait for uploaded files to become
	// active; PollIntervalSeconds is the fixed poll cadence.
	PollTimeoutSeconds  int `toml:"poll_timeout_seconds" validate:"gt=0"`
	PollIntervalSeconds int `toml:"poll_interval_seconds" validate:"gt=0"`
}

type DataConfig struct {
	// Root holds the history/, media/ and prompts/ subdirectories.
	Root string `toml:"root" validate:"required"`
}

type HistoryConfig struct {
	// MaxTokens is the transcript size budget fed to the compactor.
	MaxTokens int `toml:"max_tokens" validate:"gt=0"`
	// EstimateMultiplier scales the character-count size estimate. The
	// estimate is an approximation, not a token-accurate count.
	EstimateMultiplier int `toml:"estimate_multiplier" validate:"gt=0"`
}

type DispatchConfig struct {
	// Workers bounds concurrent job execution.
	Workers int `toml:"workers" validate:"gt=0"`
	// QueueSize bounds jobs waiting for a worker; submissions beyond it
	// are rejected with a busy reply.
	QueueSize int `toml:"queue_size" validate:"gt=0"`
}

type MediaConfig struct {
	// MaxDownloadBytes caps a single attachment download.
	MaxDownloadBytes int64 `toml:"max_download_bytes" validate:"gt=0"`
	// SweepSchedule is a cron expression for the orphaned-file sweep.
	// Empty disables the sweep.
	SweepSchedule string `toml:"sweep_schedule"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Line: LineConfig{
			APIBase:          DefaultLineAPIBase,
			DataAPIBase:      DefaultLineDataAPI,
			MaxMessageLength: 1000,
		},
		Gemini: GeminiConfig{
			BaseURL:              DefaultGeminiBase,
			Model:                DefaultGeminiModel,
			Temperature:          0.7,
			MaxOutputTokens:      8192,
			UploadThresholdBytes: 4 * 1024 * 1024,
			PollTimeoutSeconds:   120,
			PollIntervalSeconds:  2,
		},
		Data: DataConfig{
			Root: DefaultDataRoot,
		},
		History: HistoryConfig{
			MaxTokens:          8000,
			EstimateMultiplier: 2,
		},
		Dispatch: DispatchConfig{
			Workers:   5,
			QueueSize: 64,
		},
		Media: MediaConfig{
			MaxDownloadBytes: 32 * 1024 * 1024,
			SweepSchedule:    "@hourly",
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides lets credentials come from the environment so the
// config file can be committed without secrets.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LINE_ACCESS_TOKEN"); v != "" {
		cfg.Line.AccessToken = v
	}
	if v := os.Getenv("LINE_CHANNEL_SECRET"); v != "" {
		cfg.Line.ChannelSecret = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Gemini.Model = v
	}
}

func validate(cfg Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
