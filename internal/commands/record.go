package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"hwpulse/internal/config"
	"hwpulse/internal/ui"
)

// NewRecordCmd creates the record command
func NewRecordCmd() *cobra.Command {
	var (
		seriesID string
		value    float64
		ts       int64
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Append one sample to a series",
		Long: `Append a single sample, running it through the same alert and
anomaly paths as collected telemetry. Useful for external scripts
feeding custom series and for poking the rule engine by hand.

Examples:
  hwpulse record --series job.queue_depth --value 42
  hwpulse record --series job.queue_depth --value 42 --ts 1700000000000`,
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

			if ts == 0 {
				ts = time.Now().UnixMilli()
			}
			if err := engine.Facade.Ingest(seriesID, ts, value); err != nil {
				ui.PrintStatus("error", fmt.Sprintf("Append failed: %v", err))
				os.Exit(1)
			}
			ui.PrintStatus("success", fmt.Sprintf("%s = %g at %d", seriesID, value, ts))
		},
	}

	cmd.Flags().StringVar(&seriesID, "series", "", "series identifier")
	cmd.Flags().Float64Var(&value, "value", 0, "sample value")
	cmd.Flags().Int64Var(&ts, "ts", 0, "timestamp in unix milliseconds (default now)")
	cmd.MarkFlagRequired("series")
	cmd.MarkFlagRequired("value")
	return cmd
}
