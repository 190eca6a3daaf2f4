package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/api"
	"github.com/steveyegge/vigil/internal/collector"
	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/control"
	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/monitor"
	"github.com/steveyegge/vigil/internal/storage/sqlite"
	"github.com/steveyegge/vigil/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor daemon",
	Long: `Run the monitoring loop until interrupted.

The daemon reads host headroom (cpu, memory, disk, load, swap), writes every
event to the journal, serves the control socket and, when enabled, the HTTP
API. Edits to the configuration file are applied without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		diskPath, _ := cmd.Flags().GetString("disk")
		return runDaemon(diskPath)
	},
}

func init() {
	runCmd.Flags().String("disk", "/", "Filesystem whose usage feeds the disk dimension")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(diskPath string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(logLevel, logFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	metrics := telemetry.NewMetrics()
	sink := events.NewMultiSink(events.NewLogSink(logger), metrics)

	if cfg.Journal.Enabled {
		journal, err := sqlite.New(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer func() { _ = journal.Close() }()
		sink.Add(journal)
		go journal.CleanupLoop(ctx, cfg.Journal, sink, logger)
	}

	c := collector.New(logger)
	if err := c.Register(collector.NewHostSource(diskPath)); err != nil {
		return err
	}

	m, err := monitor.New(monitor.Deps{
		Config:    cfg,
		Collector: c,
		Sink:      sink,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); err == nil {
		watcher, err := config.NewWatcher(configPath, func(next *config.Configuration) {
			if err := m.UpdateConfiguration(next, "file"); err != nil {
				logger.Warn("config file change rejected", zap.Error(err))
			}
		}, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("config watcher stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Control.Enabled {
		srv, err := control.NewServer(cfg.Control.SocketPath, control.NewHandler(m), logger)
		if err != nil {
			return err
		}
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = srv.Stop() }()
	}

	if cfg.API.Enabled {
		router := api.NewRouter(m, api.Options{
			Token:   cfg.API.Token,
			Metrics: metrics.Handler(),
			Logger:  logger,
		})
		srv := api.NewServer(cfg.API.Addr, router, logger)
		if _, err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("api shutdown failed", zap.Error(err))
			}
		}()
	}

	m.Start(ctx)
	<-ctx.Done()

	logger.Info("shutting down")
	m.Stop()
	return nil
}
