// roundwatch reads collector console output (or captured websocket frames),
// detects game rounds and records one feature row per round.
//
// Usage:
//
//	roundwatch [run] [--config path] [--input path|-] [--mode lines|frames] [--follow]
//	roundwatch export [--config path] [--format json|csv] [--zstd] [--dir path]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/rewired-gh/roundwatch/internal/clock"
	"github.com/rewired-gh/roundwatch/internal/config"
	"github.com/rewired-gh/roundwatch/internal/eventkey"
	"github.com/rewired-gh/roundwatch/internal/export"
	"github.com/rewired-gh/roundwatch/internal/extract"
	"github.com/rewired-gh/roundwatch/internal/logger"
	"github.com/rewired-gh/roundwatch/internal/models"
	"github.com/rewired-gh/roundwatch/internal/pipeline"
	"github.com/rewired-gh/roundwatch/internal/round"
	"github.com/rewired-gh/roundwatch/internal/storage"
	"github.com/rewired-gh/roundwatch/internal/telegram"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && (args[0] == "run" || args[0] == "export") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "export":
		err = runExport(args)
	default:
		err = runCollector(args)
	}
	if err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration after applying flag
// overrides.
func loadConfig(path string, override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	override(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if path != "" {
		logger.Info("Configuration loaded from %s", path)
	}
	return cfg, nil
}

func runCollector(args []string) error {
	var configPath, input, mode, dbPath string
	var follow bool

	flagSet := pflag.NewFlagSet("roundwatch", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", defaultConfigPath, "path to configuration file (empty: defaults and environment only)")
	flagSet.StringVarP(&input, "input", "i", "", "input file, or - for stdin (overrides input.path)")
	flagSet.StringVar(&mode, "mode", "", "input decoding: lines or frames (overrides input.mode)")
	flagSet.BoolVarP(&follow, "follow", "f", false, "keep reading as the input file grows")
	flagSet.StringVar(&dbPath, "db", "", "SQLite database path (overrides storage.db_path)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath, func(c *config.Config) {
		if flagSet.Changed("input") {
			c.Input.Path = input
		}
		if flagSet.Changed("mode") {
			c.Input.Mode = mode
		}
		if flagSet.Changed("follow") {
			c.Input.Follow = follow
		}
		if flagSet.Changed("db") {
			c.Storage.DBPath = dbPath
		}
	})
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Storage.MaxRounds, cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()
	logger.Info("Recording rounds to %s (session %s)", cfg.Storage.DBPath, store.SessionID())

	var notifier pipeline.Notifier
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, closing open round...")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, func() (*models.RoundFeature, error) {
			rounds, err := store.GetRecentRounds(1)
			if err != nil || len(rounds) == 0 {
				return nil, err
			}
			return rounds[0], nil
		})
	}

	log := logger.Default()
	sink := pipeline.NewNotifyingSink(store, notifier, cfg.Telegram.NotifyRounds, log)
	tracker := round.New(sink, round.Config{
		MinCooldown:       cfg.Engine.MinCooldown,
		InactivityTimeout: cfg.Engine.InactivityTimeout,
	}, clock.Real(), log)
	extractor := extract.New(log, extract.WithLabels(extract.Labels{
		SideBet:      cfg.Labels.SideBet,
		Trade:        cfg.Labels.Trade,
		StatusUpdate: cfg.Labels.StatusUpdate,
	}))
	inputMode, err := pipeline.ParseMode(cfg.Input.Mode)
	if err != nil {
		return err
	}
	p := pipeline.New(extractor, eventkey.NewGate(cfg.Engine.DedupCapacity), tracker, inputMode, log)

	src, err := openInput(cfg.Input.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	var lines <-chan models.RawLine
	var readErrs <-chan error
	if inputMode == pipeline.ModeFrames {
		lines, readErrs = pipeline.ReadFrames(ctx, src, clock.Real())
	} else {
		lines, readErrs = pipeline.ReadLines(ctx, src, clock.Real(), cfg.Input.Follow, cfg.Input.PollInterval)
	}

	logger.Info("Watching %s (mode: %s, follow: %v, min cooldown: %v, inactivity timeout: %v)",
		cfg.Input.Path, inputMode, cfg.Input.Follow, cfg.Engine.MinCooldown, cfg.Engine.InactivityTimeout)

	stats, runErr := p.Run(ctx, lines)
	sink.Close()
	stored, failed := sink.Counts()
	logger.Info("Processed %d lines: %d events, %d unknown, %d duplicates; %d rounds stored, %d failed",
		stats.Lines, stats.Events, stats.Unknown, stats.Duplicates, stored, failed)

	if err := store.RotateRounds(); err != nil {
		logger.Warn("Failed to rotate rounds: %v", err)
	}

	// The reader may still be blocked on stdin after cancellation.
	select {
	case err := <-readErrs:
		if err != nil {
			return err
		}
	default:
	}
	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	logger.Info("Service stopped")
	return nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

func runExport(args []string) error {
	var configPath, format, dir, dbPath string
	var compressed bool

	flagSet := pflag.NewFlagSet("roundwatch export", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", defaultConfigPath, "path to configuration file (empty: defaults and environment only)")
	flagSet.StringVar(&format, "format", "json", "output format: json or csv")
	flagSet.BoolVar(&compressed, "zstd", false, "compress the output with zstd")
	flagSet.StringVar(&dir, "dir", "", "output directory (overrides export.dir)")
	flagSet.StringVar(&dbPath, "db", "", "SQLite database path (overrides storage.db_path)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(configPath, func(c *config.Config) {
		if flagSet.Changed("dir") {
			c.Export.Dir = dir
		}
		if flagSet.Changed("db") {
			c.Storage.DBPath = dbPath
		}
	})
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Storage.MaxRounds, cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	rounds, err := store.AllRounds()
	if err != nil {
		return err
	}
	meta := export.NewMeta()
	path, err := export.WriteFile(cfg.Export.Dir, f, compressed, rounds, meta)
	if err != nil {
		return err
	}
	logger.Info("Exported %d rounds to %s (export %s)", len(rounds), path, meta.ExportID)
	return nil
}
