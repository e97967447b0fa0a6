package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/attuneai/chime/config"
	"github.com/attuneai/chime/kvstore"
	"github.com/attuneai/chime/logger"
	"github.com/attuneai/chime/notify"
	"github.com/attuneai/chime/observe"
	"github.com/attuneai/chime/schedule"
	"github.com/attuneai/chime/script"
	"github.com/attuneai/chime/server"
)

// ServeCmd runs the scheduler daemon and HTTP API in the foreground
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler daemon and HTTP API",
	Long: `Run the scheduler daemon in foreground mode.

The daemon will:
- Load stored jobs and register active ones with the monitor loop
- Trigger due jobs under their resource limits
- Serve the job management API over HTTP
- Run until interrupted (Ctrl+C), finishing in-flight jobs before exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		var cfg *config.Config
		var err error
		if configPath != "" {
			cfg, err = config.LoadFromFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := logger.Initialize(cfg.Log.JSON); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		log := logger.Logger

		if err := os.MkdirAll(cfg.Store.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		store, err := schedule.NewStore(cfg.Store.Dir, log)
		if err != nil {
			return fmt.Errorf("failed to open job store: %w", err)
		}

		kv, err := kvstore.Open(cfg.Store.KVPath, kvstore.Options{})
		if err != nil {
			return fmt.Errorf("failed to open kv store: %w", err)
		}
		defer kv.Close()

		var notifier notify.Notifier = notify.Nop{}
		if cfg.Notify.WebhookURL != "" {
			notifier = notify.NewWebhook(cfg.Notify.WebhookURL, log)
		}

		events := observe.NewEventLogWith(log)
		if cfg.Store.EventLogPath != "" {
			events, err = observe.NewEventLog(cfg.Store.EventLogPath)
			if err != nil {
				return fmt.Errorf("failed to open event log: %w", err)
			}
			defer events.Close()
		}

		metrics := observe.NewMetrics()
		health := observe.NewHealthChecker(cfg.Scheduler.StuckThreshold())
		alerts := observe.NewAlertManager(observe.AlertConfig{
			FailureThreshold: cfg.Alerts.FailureThreshold,
			SlowThreshold:    time.Duration(cfg.Alerts.SlowThresholdSeconds) * time.Second,
			NotifyTarget:     cfg.Alerts.NotifyTarget,
		}, health, notifier, log)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		compiler := script.NewCompiler(notifier, kv, log)
		sched := schedule.New(ctx, schedule.Deps{
			Store:    store,
			Compiler: compiler,
			Metrics:  metrics,
			Events:   events,
			Health:   health,
			Alerts:   alerts,
			Purger:   kv,
			Logger:   log,
		}, schedule.Config{CheckInterval: cfg.Scheduler.CheckInterval()})

		if err := sched.LoadFromStore(); err != nil {
			return fmt.Errorf("failed to load jobs: %w", err)
		}
		sched.Start()

		srv := server.New(sched, health, metrics, alerts, cfg.Server.Port, log)
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		fmt.Println("chime daemon started")
		fmt.Printf("  API:            http://localhost:%d/api/v1\n", cfg.Server.Port)
		fmt.Printf("  Check interval: %v\n", cfg.Scheduler.CheckInterval())
		fmt.Printf("  Data directory: %s\n", cfg.Store.Dir)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Infow("Shutting down", "signal", sig.String())
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnw("Server shutdown incomplete", "error", err)
		}
		sched.Stop()

		fmt.Println("chime daemon stopped")
		return nil
	},
}

func init() {
	ServeCmd.Flags().String("config", "", "Path to config file (default: search for chime.toml)")
}
