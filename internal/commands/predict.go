package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hwpulse/internal/config"
	"hwpulse/internal/ui"
)

// NewPredictCmd creates the predict command
func NewPredictCmd() *cobra.Command {
	var (
		seriesID  string
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Project when a series will cross a threshold",
		Long: `Fit a linear trend over the most recent samples of a series and
project when it will cross the given threshold. A low confidence
value means the series is not trending linearly and the crossing
estimate should not be trusted.

Examples:
  hwpulse predict --series disk.used_pct.root --threshold 95
  hwpulse predict --series gpu.edge.temperature --threshold 90`,
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

			trend, crossing, err := engine.Facade.Predict(engine.LocalKey(), seriesID, threshold)
			if err != nil {
				ui.PrintStatus("error", fmt.Sprintf("Prediction failed: %v", err))
				os.Exit(1)
			}

			ui.PrintHeader()
			ui.PrintTrend(trend, crossing)
		},
	}

	cmd.Flags().StringVar(&seriesID, "series", "", "series identifier to project")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "threshold value to test for crossing")
	cmd.MarkFlagRequired("series")
	cmd.MarkFlagRequired("threshold")
	return cmd
}
