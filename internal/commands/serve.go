package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	constants "hwpulse/config"
	"hwpulse/internal/config"
	"hwpulse/internal/logger"
	"hwpulse/internal/process"
	"hwpulse/internal/server"
	"hwpulse/internal/ui"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the telemetry engine in the foreground",
		Long: `Run the full engine loop: collect hardware metrics on an interval,
evaluate alert rules, detect anomalies and enforce retention.

In fleet mode the engine also listens for reports from other hosts and,
when fleet_url is configured, pushes this host's own state upstream.

Examples:
  hwpulse serve                    # standalone collection loop
  hwpulse serve --listen :9137     # fleet mode, custom listen address`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.LoadConfig()
			if err != nil {
				ui.PrintStatus("error", fmt.Sprintf("Failed to load configuration: %v", err))
				os.Exit(1)
			}

			lock, err := process.Acquire()
			if err != nil {
				ui.PrintStatus("error", fmt.Sprintf("%v", err))
				os.Exit(1)
			}
			defer lock.Release()

			engine, err := OpenEngine(cfg)
			if err != nil {
				ui.PrintStatus("error", fmt.Sprintf("Failed to open engine: %v", err))
				os.Exit(1)
			}
			defer engine.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			runner := engine.NewRunner()
			go runner.Run(ctx)
			go engine.Compactor.Run(ctx)
			go sweepEvents(ctx, engine)
			go watchTrends(ctx, engine)
			logger.Info("engine started: host=%s interval=%s", cfg.HostID, cfg.CollectionInterval)

			var srv *server.Server
			if cfg.IsFleetMode() {
				if listenAddr == "" {
					listenAddr = cfg.ListenAddr
				}
				srv = server.New(listenAddr, engine.Fleet, engine.Ctrl)
				go func() {
					if err := srv.ListenAndServe(); err != nil {
						logger.Error("fleet server stopped: %v", err)
					}
				}()
				ui.PrintStatus("success", fmt.Sprintf("Fleet server listening on %s", listenAddr))
			}

			if cfg.FleetURL != "" {
				reporter := server.NewReporter(cfg.FleetURL, cfg.FleetKey, cfg.HostID, cfg.HostTags,
					cfg.ReportInterval, engine.Rules, engine.Events)
				go reporter.Run(ctx)
				ui.PrintStatus("info", fmt.Sprintf("Reporting to %s every %s", cfg.FleetURL, cfg.ReportInterval))
			}

			ui.PrintStatus("success", fmt.Sprintf("Collecting every %s, data in %s", cfg.CollectionInterval, cfg.DataDir))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			ui.PrintStatus("info", "Shutting down")
			cancel()
			if srv != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				srv.Shutdown(shutdownCtx)
				shutdownCancel()
			}
			logger.Info("engine stopped")
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "fleet listen address (fleet mode only)")
	return cmd
}

// watchTrends periodically projects threshold-ruled series forward and
// records predicted failures.
func watchTrends(ctx context.Context, engine *Engine) {
	ticker := time.NewTicker(constants.DEFAULT_PREDICT_CHECK_INTERVAL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := engine.CheckPredictedFailures(constants.DEFAULT_PREDICT_HORIZON); n > 0 {
				logger.Warning("%d predicted failures recorded", n)
			}
		}
	}
}

// sweepEvents removes expired event archives once an hour.
func sweepEvents(ctx context.Context, engine *Engine) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.Events.Sweep(constants.DEFAULT_EVENT_RETENTION)
		}
	}
}
