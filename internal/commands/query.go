package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"hwpulse/internal/config"
	"hwpulse/internal/ui"
)

// NewQueryCmd creates the query command
func NewQueryCmd() *cobra.Command {
	var (
		seriesID  string
		since     time.Duration
		aggregate bool
		bucket    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read raw samples or bucketed aggregates from the local store",
		Long: `Read stored telemetry for one series. By default the raw samples
are printed; with --agg the range is folded into time buckets with
min/avg/max and percentile statistics.

Examples:
  hwpulse query --series cpu.usage_pct --since 1h
  hwpulse query --series mem.used_pct --since 24h --agg --bucket 5m`,
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

			end := time.Now().UnixMilli()
			start := end - since.Milliseconds()
			key := engine.LocalKey()

			ui.PrintHeader()

			if aggregate {
				if bucket <= 0 {
					bucket = cfg.AggregateBucket
				}
				aggs, err := engine.Facade.GetAggregate(context.Background(), key, seriesID, start, end, bucket)
				if err != nil {
					ui.PrintStatus("error", fmt.Sprintf("Query failed: %v", err))
					os.Exit(1)
				}
				ui.PrintAggregates(aggs)
				return
			}

			samples, err := engine.Facade.GetRange(context.Background(), key, seriesID, start, end)
			if err != nil {
				ui.PrintStatus("error", fmt.Sprintf("Query failed: %v", err))
				os.Exit(1)
			}
			ui.PrintSamples(seriesID, samples)
		},
	}

	cmd.Flags().StringVar(&seriesID, "series", "", "series identifier to read")
	cmd.Flags().DurationVar(&since, "since", time.Hour, "how far back to read")
	cmd.Flags().BoolVar(&aggregate, "agg", false, "fold the range into time buckets")
	cmd.Flags().DurationVar(&bucket, "bucket", 0, "bucket size for --agg (default from config)")
	cmd.MarkFlagRequired("series")
	return cmd
}
