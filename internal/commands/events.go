package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"hwpulse/internal/alerts"
	"hwpulse/internal/config"
	"hwpulse/internal/ui"
)

// NewEventsCmd creates the events command
func NewEventsCmd() *cobra.Command {
	var (
		seriesID   string
		kind       string
		since      time.Duration
		unresolved bool
		unacked    bool
		ack        string
		resolve    string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List or acknowledge alert events",
		Long: `List events from the durable event log, newest first. Filters
narrow the listing by series, kind and resolution state.

Examples:
  hwpulse events                            # recent events
  hwpulse events --series cpu.usage_pct     # one series only
  hwpulse events --kind anomaly --since 24h
  hwpulse events --unresolved
  hwpulse events --ack <event-id>           # mark one event as seen
  hwpulse events --resolve <fingerprint>    # close out a recurring alert`,
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

			key := engine.LocalKey()

			if ack != "" {
				if err := engine.Facade.AcknowledgeEvent(key, ack); err != nil {
					ui.PrintStatus("error", fmt.Sprintf("Acknowledge failed: %v", err))
					os.Exit(1)
				}
				ui.PrintStatus("success", fmt.Sprintf("Acknowledged %s", ack))
				return
			}

			if resolve != "" {
				if err := engine.Facade.ResolveEvent(key, resolve); err != nil {
					ui.PrintStatus("error", fmt.Sprintf("Resolve failed: %v", err))
					os.Exit(1)
				}
				ui.PrintStatus("success", fmt.Sprintf("Resolved %s", resolve))
				return
			}

			filter := alerts.Filter{
				SeriesID:       seriesID,
				Kind:           alerts.EventKind(kind),
				OnlyUnresolved: unresolved,
				OnlyUnacked:    unacked,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since).UnixMilli()
			}

			events, err := engine.Facade.GetEvents(key, filter)
			if err != nil {
				ui.PrintStatus("error", fmt.Sprintf("Query failed: %v", err))
				os.Exit(1)
			}

			ui.PrintHeader()
			ui.PrintEvents(events)
		},
	}

	cmd.Flags().StringVar(&seriesID, "series", "", "only events for this series")
	cmd.Flags().StringVar(&kind, "kind", "", "only events of this kind (threshold, state_change, anomaly, predicted_failure)")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this")
	cmd.Flags().BoolVar(&unresolved, "unresolved", false, "only unresolved events")
	cmd.Flags().BoolVar(&unacked, "unacked", false, "only unacknowledged events")
	cmd.Flags().StringVar(&ack, "ack", "", "acknowledge the event with this id")
	cmd.Flags().StringVar(&resolve, "resolve", "", "record a resolution for this fingerprint")
	return cmd
}
