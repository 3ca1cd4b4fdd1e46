package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hwpulse/internal/alerts"
	"hwpulse/internal/config"
	"hwpulse/internal/facade"
	"hwpulse/internal/ui"
)

// NewWatchCmd creates the watch command
func NewWatchCmd() *cobra.Command {
	var (
		seriesID   string
		eventsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live samples and events to the terminal",
		Long: `Run the collection loop and print every sample and event as it
happens. Useful for watching a host while reproducing a problem.

Examples:
  hwpulse watch                           # everything
  hwpulse watch --series cpu.usage_pct    # one series
  hwpulse watch --events                  # alert events only`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.LoadConfig()
			if err != nil {
				ui.PrintStatus("error", fmt.Sprintf("Failed to load configuration: %v", err))
				os.Exit(1)
			}

			engine, err := OpenEngine(cfg)
			if err != nil {
				ui.PrintStatus("error", fmt.Sprintf("Failed to open engine: %v", err))
				os.Exit(1)
			}
			defer engine.Close()

			filter := facade.StreamFilter{SeriesID: seriesID}
			if eventsOnly {
				filter.Kind = facade.UpdateEvent
			}
			sub, err := engine.Facade.Subscribe(engine.LocalKey(), filter)
			if err != nil {
				ui.PrintStatus("error", fmt.Sprintf("Subscribe failed: %v", err))
				os.Exit(1)
			}
			defer sub.Cancel()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			runner := engine.NewRunner()
			go runner.Run(ctx)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			ui.PrintStatus("info", fmt.Sprintf("Watching, collecting every %s (Ctrl-C to stop)", cfg.CollectionInterval))
			for {
				select {
				case <-sigCh:
					if n := sub.Dropped(); n > 0 {
						ui.PrintStatus("warning", fmt.Sprintf("%d updates dropped while watching", n))
					}
					return
				case u, ok := <-sub.Updates():
					if !ok {
						return
					}
					printUpdate(u)
				}
			}
		},
	}

	cmd.Flags().StringVar(&seriesID, "series", "", "only updates for this series")
	cmd.Flags().BoolVar(&eventsOnly, "events", false, "only alert events")
	return cmd
}

func printUpdate(u facade.Update) {
	switch u.Kind {
	case facade.UpdateSample:
		if u.Sample != nil {
			fmt.Println(ui.RenderKeyValue(u.SeriesID, ui.FormatValue(u.SeriesID, u.Sample.Value)))
		}
	case facade.UpdateEvent:
		if u.Event != nil {
			status := "warning"
			if u.Event.Severity == alerts.SeverityCritical {
				status = "error"
			}
			ui.PrintStatus(status, fmt.Sprintf("[%s] %s", u.Event.Kind, u.Event.Message))
		}
	}
}
