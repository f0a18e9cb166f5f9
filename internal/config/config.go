package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Labels   LabelsConfig   `mapstructure:"labels"`
	Input    InputConfig    `mapstructure:"input"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Export   ExportConfig   `mapstructure:"export"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// EngineConfig holds round boundary detection parameters
type EngineConfig struct {
	MinCooldown       time.Duration `mapstructure:"min_cooldown"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	DedupCapacity     int           `mapstructure:"dedup_capacity"`
}

// LabelsConfig holds the console prefixes that mark labeled payload lines
type LabelsConfig struct {
	SideBet      string `mapstructure:"side_bet"`
	Trade        string `mapstructure:"trade"`
	StatusUpdate string `mapstructure:"status_update"`
}

// InputConfig holds the event source configuration
type InputConfig struct {
	Path         string        `mapstructure:"path"` // "-" reads stdin
	Mode         string        `mapstructure:"mode"` // lines | frames
	Follow       bool          `mapstructure:"follow"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	NotifyRounds   bool          `mapstructure:"notify_rounds"`
}

// StorageConfig holds round persistence configuration
type StorageConfig struct {
	DBPath    string `mapstructure:"db_path"`
	MaxRounds int    `mapstructure:"max_rounds"`
}

// ExportConfig holds dataset export configuration
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// ROUNDWATCH_ENGINE_MIN_COOLDOWN overrides engine.min_cooldown
	v.SetEnvPrefix("ROUNDWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key needs a default so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.min_cooldown", "10s")
	v.SetDefault("engine.inactivity_timeout", "30s")
	v.SetDefault("engine.dedup_capacity", 4096)

	// Console labels
	v.SetDefault("labels.side_bet", "New side bet:")
	v.SetDefault("labels.trade", "New trade received:")
	v.SetDefault("labels.status_update", "Game state update:")

	// Input defaults
	v.SetDefault("input.path", "-")
	v.SetDefault("input.mode", "lines")
	v.SetDefault("input.follow", false)
	v.SetDefault("input.poll_interval", "500ms")

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.notify_rounds", false)

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/rounds.sqlite")
	v.SetDefault("storage.max_rounds", 100000)

	v.SetDefault("export.dir", "./data")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Engine config
	if c.Engine.MinCooldown < 0 {
		return fmt.Errorf("engine.min_cooldown must not be negative")
	}
	if c.Engine.InactivityTimeout < 1*time.Second {
		return fmt.Errorf("engine.inactivity_timeout must be at least 1 second")
	}
	if c.Engine.DedupCapacity < 1 {
		return fmt.Errorf("engine.dedup_capacity must be at least 1")
	}

	if c.Labels.SideBet == "" || c.Labels.Trade == "" || c.Labels.StatusUpdate == "" {
		return fmt.Errorf("labels.side_bet, labels.trade and labels.status_update are required")
	}

	// Validate Input config
	if c.Input.Path == "" {
		return fmt.Errorf("input.path is required")
	}
	validModes := map[string]bool{"lines": true, "frames": true}
	if !validModes[c.Input.Mode] {
		return fmt.Errorf("input.mode must be one of: lines, frames")
	}
	if c.Input.PollInterval <= 0 {
		return fmt.Errorf("input.poll_interval must be positive")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Telegram.MaxRetries < 0 {
		return fmt.Errorf("telegram.max_retries must not be negative")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxRounds < 1 {
		return fmt.Errorf("storage.max_rounds must be at least 1")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, warning, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
