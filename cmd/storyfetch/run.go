package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/storyfetch/storyfetch/internal/calibre"
	"github.com/storyfetch/storyfetch/internal/config"
	"github.com/storyfetch/storyfetch/internal/coordinator"
	"github.com/storyfetch/storyfetch/internal/delay"
	"github.com/storyfetch/storyfetch/internal/fetcher"
	"github.com/storyfetch/storyfetch/internal/home"
	"github.com/storyfetch/storyfetch/internal/ingest"
	"github.com/storyfetch/storyfetch/internal/notify"
	"github.com/storyfetch/storyfetch/internal/retry"
	"github.com/storyfetch/storyfetch/internal/server"
	"github.com/storyfetch/storyfetch/internal/supervisor"
	"github.com/storyfetch/storyfetch/internal/worker"
)

var runDebug bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the storyfetch daemon",
	Long: `Start the storyfetch daemon.

The daemon ingests story URLs (from the watch directory and the HTTP
API), routes them through the per-site scheduler, and downloads them
with FanFicFare into the configured calibre library.

Examples:
  storyfetch run                     # Run with ~/.storyfetch/config.yaml
  storyfetch run --config ./dev.yaml # Run with an explicit config file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		level := slog.LevelInfo
		if runDebug {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		}))
		slog.SetDefault(logger)

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		path := cfgFile
		if path == "" && h.ConfigExists() {
			path = h.ConfigPath()
		}
		cm, err := config.NewManager(path)
		if err != nil {
			return err
		}
		cfg := cm.Get()

		// Unconfigured paths fall back to the home directory layout.
		if cfg.Ingest.WatchDir == "" {
			cfg.Ingest.WatchDir = h.WatchPath()
		}
		if cfg.Fetch.WorkDir == "" {
			cfg.Fetch.WorkDir = h.WorkPath()
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cm.WatchConfig()
		cm.OnChange(func(c *config.Config) {
			logger.Info("configuration reloaded; restart to apply worker and retry changes")
		})

		var db *calibre.DB
		if cfg.Calibre.Library != "" {
			db, err = calibre.New(calibre.Config{
				Library:  cfg.Calibre.Library,
				Binary:   cfg.Calibre.Binary,
				Username: cfg.Calibre.Username,
				Password: config.ResolveEnvVars(cfg.Calibre.Password),
				Logger:   logger,
			})
			if err != nil {
				return err
			}
		} else {
			logger.Warn("no calibre library configured, epubs are kept in the work directory", "dir", cfg.Fetch.WorkDir)
		}

		exec, err := fetcher.New(fetcher.Config{
			Binary:    cfg.Fetch.Binary,
			ConfigDir: cfg.Fetch.ConfigDir,
			Mode:      cfg.Fetch.Mode,
			DB:        db,
			WorkDir:   cfg.Fetch.WorkDir,
			Logger:    logger,
		})
		if err != nil {
			return err
		}

		var backends []notify.Notifier
		if url := cfg.Notify.WebhookURL; url != "" {
			backends = append(backends, notify.NewWebhook(url))
		}
		if token := config.ResolveEnvVars(cfg.Notify.PushbulletToken); token != "" {
			backends = append(backends, notify.NewPushbullet(token, ""))
		}
		dispatcher := notify.NewDispatcher(notify.Config{Backends: backends, Logger: logger})
		defer dispatcher.Wait()

		policy := retry.NewPolicy(retry.Config{
			MaxNormalRetries: cfg.Retry.MaxNormalRetries,
			HailMary:         cfg.Retry.HailMary,
			HailMaryWait:     cfg.HailMaryWait(),
			Unit:             time.Minute,
		})

		coord := coordinator.New(coordinator.Config{Logger: logger})
		queue := delay.New(delay.Config{Ingress: coord, Logger: logger})

		pool, err := worker.New(worker.Config{
			Workers:  cfg.Workers,
			Executor: exec,
			Idle:     coord,
			Delayer:  queue,
			Notifier: dispatcher,
			Policy:   policy,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		for i := 0; i < pool.Size(); i++ {
			coord.RegisterWorker(i, pool.Channel(i))
		}

		watch, err := ingest.NewWatchDir(cfg.Ingest.WatchDir, logger)
		if err != nil {
			return err
		}
		intake := ingest.New(ingest.Config{
			Sources:     []ingest.Source{watch},
			Ingress:     coord,
			MaxAttempts: cfg.Retry.MaxNormalRetries,
			Logger:      logger,
		})

		sup := supervisor.New(supervisor.Config{Logger: logger})
		sup.Host("coordinator", coord.Run)
		sup.Host("delay-queue", queue.Run)
		sup.Host("workers", pool.Run)
		sup.Host("ingest", intake.Run)

		if cfg.Server.Enabled {
			srvCfg := server.Config{
				Addr:   cfg.Server.Addr,
				Status: coord,
				Submit: intake,
				Logger: logger,
			}
			if db != nil {
				srvCfg.Health = db
			}
			srv, err := server.New(srvCfg)
			if err != nil {
				return err
			}
			sup.Host("server", srv.Run)
		}

		logger.Info("storyfetch starting",
			"workers", cfg.Workers,
			"watch_dir", cfg.Ingest.WatchDir,
			"mode", cfg.Fetch.Mode,
			"notify_backends", dispatcher.Backends(),
		)
		return sup.Run(ctx)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
}
