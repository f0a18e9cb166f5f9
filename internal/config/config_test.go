package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
engine:
  min_cooldown: 15s
  inactivity_timeout: 45s
  dedup_capacity: 128

input:
  path: "/var/log/game/console.log"
  follow: true

telegram:
  bot_token: "test_token"
  chat_id: "test_chat_id"
  enabled: true
  notify_rounds: true

storage:
  max_rounds: 500
  db_path: "./data/test.sqlite"

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Engine.MinCooldown != 15*time.Second {
		t.Errorf("Unexpected min cooldown: %v", cfg.Engine.MinCooldown)
	}
	if cfg.Engine.InactivityTimeout != 45*time.Second {
		t.Errorf("Unexpected inactivity timeout: %v", cfg.Engine.InactivityTimeout)
	}
	if cfg.Engine.DedupCapacity != 128 {
		t.Errorf("Unexpected dedup capacity: %d", cfg.Engine.DedupCapacity)
	}
	if !cfg.Input.Follow || cfg.Input.Path != "/var/log/game/console.log" {
		t.Errorf("Unexpected input: %+v", cfg.Input)
	}
	// Unset keys fall back to defaults.
	if cfg.Input.Mode != "lines" || cfg.Input.PollInterval != 500*time.Millisecond {
		t.Errorf("Input defaults not applied: %+v", cfg.Input)
	}
	if cfg.Labels.Trade != "New trade received:" {
		t.Errorf("Unexpected trade label: %q", cfg.Labels.Trade)
	}
	if cfg.Telegram.MaxRetries != 3 || cfg.Telegram.RetryDelayBase != time.Second {
		t.Errorf("Telegram retry defaults not applied: %+v", cfg.Telegram)
	}
	if cfg.Storage.MaxRounds != 500 {
		t.Errorf("Unexpected max rounds: %d", cfg.Storage.MaxRounds)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.MinCooldown != 10*time.Second || cfg.Engine.InactivityTimeout != 30*time.Second {
		t.Errorf("Unexpected engine defaults: %+v", cfg.Engine)
	}
	if cfg.Storage.DBPath != "./data/rounds.sqlite" || cfg.Export.Dir != "./data" {
		t.Errorf("Unexpected path defaults: %+v %+v", cfg.Storage, cfg.Export)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ROUNDWATCH_ENGINE_MIN_COOLDOWN", "3s")
	t.Setenv("ROUNDWATCH_INPUT_MODE", "frames")

	cfg, err := Load(writeConfig(t, "engine:\n  min_cooldown: 20s\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.MinCooldown != 3*time.Second {
		t.Errorf("env did not override file: %v", cfg.Engine.MinCooldown)
	}
	if cfg.Input.Mode != "frames" {
		t.Errorf("env did not override default: %q", cfg.Input.Mode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func validConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MinCooldown:       10 * time.Second,
			InactivityTimeout: 30 * time.Second,
			DedupCapacity:     4096,
		},
		Labels: LabelsConfig{
			SideBet:      "New side bet:",
			Trade:        "New trade received:",
			StatusUpdate: "Game state update:",
		},
		Input: InputConfig{
			Path:         "-",
			Mode:         "lines",
			PollInterval: 500 * time.Millisecond,
		},
		Storage: StorageConfig{
			DBPath:    "./data/rounds.sqlite",
			MaxRounds: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero cooldown allowed", func(c *Config) { c.Engine.MinCooldown = 0 }, ""},
		{"negative cooldown", func(c *Config) { c.Engine.MinCooldown = -time.Second }, "engine.min_cooldown"},
		{"short inactivity timeout", func(c *Config) { c.Engine.InactivityTimeout = 500 * time.Millisecond }, "engine.inactivity_timeout"},
		{"zero dedup capacity", func(c *Config) { c.Engine.DedupCapacity = 0 }, "engine.dedup_capacity"},
		{"empty label", func(c *Config) { c.Labels.Trade = "" }, "labels"},
		{"empty input path", func(c *Config) { c.Input.Path = "" }, "input.path"},
		{"unknown mode", func(c *Config) { c.Input.Mode = "bytes" }, "input.mode"},
		{"zero poll interval", func(c *Config) { c.Input.PollInterval = 0 }, "input.poll_interval"},
		{
			"missing telegram token when enabled",
			func(c *Config) { c.Telegram = TelegramConfig{Enabled: true, ChatID: "1"} },
			"telegram.bot_token",
		},
		{
			"missing telegram chat when enabled",
			func(c *Config) { c.Telegram = TelegramConfig{Enabled: true, BotToken: "t"} },
			"telegram.chat_id",
		},
		{"empty db path", func(c *Config) { c.Storage.DBPath = "" }, "storage.db_path"},
		{"zero max rounds", func(c *Config) { c.Storage.MaxRounds = 0 }, "storage.max_rounds"},
		{"warning alias", func(c *Config) { c.Logging.Level = "warning" }, ""},
		{"upper-case level", func(c *Config) { c.Logging.Level = "DEBUG" }, ""},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
