package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/Ashley-Tung/memobase/internal/api"
	"github.com/Ashley-Tung/memobase/internal/config"
	"github.com/Ashley-Tung/memobase/internal/events"
	"github.com/Ashley-Tung/memobase/internal/ledger"
	"github.com/Ashley-Tung/memobase/internal/memobase"
	"github.com/Ashley-Tung/memobase/internal/notify"
	"github.com/Ashley-Tung/memobase/internal/replay"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	app := &cli.App{
		Name:  "locomo-replay",
		Usage: "replay LoCoMo benchmark conversations into a Memobase project",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "data",
				Aliases:  []string{"d"},
				Usage:    "path to the LoCoMo dataset JSON file",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Aliases: []string{"b"},
				Usage:   "messages per chat blob insert",
				Value:   replay.DefaultBatchSize,
				EnvVars: []string{"REPLAY_BATCH_SIZE"},
			},
			&cli.IntFlag{
				Name:    "max-samples",
				Aliases: []string{"n"},
				Usage:   "replay only the first N conversations (0 = all)",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "conversations replayed concurrently",
				Value:   replay.DefaultWorkers,
				EnvVars: []string{"REPLAY_WORKERS"},
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "directory for downloaded profile snapshots",
				Value:   "memobase_memories",
				EnvVars: []string{"REPLAY_OUT_DIR"},
			},
			&cli.StringFlag{
				Name:    "state",
				Usage:   "path to the resume state file (default ~/.memobase/locomo-replay-state.json)",
				EnvVars: []string{"REPLAY_STATE_PATH"},
			},
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "skip conversations already recorded in the state file",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "parse and validate the dataset without uploading anything",
			},
		},
		Action: func(c *cli.Context) error {
			return run(c, cfg)
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("replay failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rcfg := replay.Config{
		DataPath:   c.String("data"),
		BatchSize:  c.Int("batch-size"),
		MaxSamples: c.Int("max-samples"),
		Workers:    c.Int("workers"),
		OutDir:     c.String("out"),
		StatePath:  c.String("state"),
		Resume:     c.Bool("resume"),
		DryRun:     c.Bool("dry-run"),
	}

	slog.Info("locomo-replay starting",
		"data", rcfg.DataPath,
		"batch_size", rcfg.BatchSize,
		"workers", rcfg.Workers,
		"dry_run", rcfg.DryRun,
	)

	if !rcfg.DryRun && cfg.MemobaseAPIKey == "" {
		return fmt.Errorf("MEMOBASE_API_KEY is required")
	}
	client := memobase.NewClient(cfg.MemobaseProjectURL, cfg.MemobaseAPIKey)

	var (
		pub    *events.Publisher
		lg     *ledger.Store
		poster *notify.Poster
	)

	// A dry run only parses the dataset, so skip every remote dependency.
	if !rcfg.DryRun {
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("memobase unreachable: %w", err)
		}
		slog.Info("memobase connected", "project_url", cfg.MemobaseProjectURL)

		profileCfg, err := config.LoadProfileConfig(cfg.ProfileConfigPath)
		if err != nil {
			return err
		}
		if profileCfg != "" {
			if err := client.UpdateConfig(ctx, profileCfg); err != nil {
				return fmt.Errorf("push profile config: %w", err)
			}
			slog.Info("profile config pushed", "path", cfg.ProfileConfigPath)
		}

		if cfg.DatabaseURL != "" {
			lg, err = ledger.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect ledger: %w", err)
			}
			defer lg.Close()
			slog.Info("ledger connected")
		}

		if cfg.NatsURL != "" {
			pub, err = events.Connect(cfg.NatsURL, cfg.NatsToken, slog.Default())
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer pub.Close()
			slog.Info("NATS connected", "url", cfg.NatsURL)
		}

		if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
			poster = notify.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
			slog.Info("slack notifier ready", "channel", cfg.SlackChannel)
		}
	}

	progress := replay.NewProgress()
	srv := api.NewServer(cfg.Port, progress)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	runner := replay.NewRunner(rcfg, client, pub, lg, poster, progress, slog.Default())
	return runner.Run(ctx)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
