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

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Display current hardware readings and alert state",
		Long: `Collect one round of hardware telemetry and display it together
with the configured thresholds, active breaches and store statistics.

Examples:
  hwpulse status          # one-shot snapshot of this host`,
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

			ui.PrintHeader()

			// one collection round so the readings below are fresh
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			runner := engine.NewRunner()
			runner.CollectOnce(ctx)
			cancel()

			hostname, _ := os.Hostname()
			ui.PrintSection("Host")
			fmt.Println(ui.RenderKeyValue("Hostname", hostname))
			fmt.Println(ui.RenderKeyValue("Host ID", cfg.HostID))
			fmt.Println(ui.RenderKeyValue("Mode", cfg.Mode))
			if GetCurrentVersion != nil {
				fmt.Println(ui.RenderKeyValue("Version", GetCurrentVersion()))
			}
			ui.PrintSectionEnd()

			ui.PrintSection("Current Readings")
			printed := 0
			for _, id := range engine.Store.SeriesIDs() {
				samples, err := engine.Store.ReadLast(id, 1)
				if err != nil || len(samples) == 0 {
					continue
				}
				fmt.Println(ui.RenderKeyValue(id, ui.FormatValue(id, samples[0].Value)))
				printed++
			}
			if printed == 0 {
				ui.PrintStatus("info", "No series collected yet")
			}
			ui.PrintSectionEnd()

			ui.PrintSection("Alert Thresholds")
			fmt.Println(ui.RenderKeyValue("CPU", fmt.Sprintf("%.1f%%", cfg.CPUThreshold)))
			fmt.Println(ui.RenderKeyValue("Memory", fmt.Sprintf("%.1f%%", cfg.MemThreshold)))
			fmt.Println(ui.RenderKeyValue("Disk", fmt.Sprintf("%.1f%%", cfg.DiskThreshold)))
			fmt.Println(ui.RenderKeyValue("GPU Temp", fmt.Sprintf("%.1f°C", cfg.GPUTempLimit)))
			ui.PrintSectionEnd()

			breaches := engine.Rules.ActiveBreaches()
			ui.PrintSection("Active Breaches")
			if len(breaches) == 0 {
				ui.PrintStatus("success", "All series within thresholds")
			} else {
				for seriesID, rules := range breaches {
					for _, r := range rules {
						ui.PrintStatus("warning", fmt.Sprintf("%s: rule %q (%s)", seriesID, r.Name, r.Severity))
					}
				}
			}
			ui.PrintSectionEnd()

			if baselines := engine.Detector.Summary(); len(baselines) > 0 {
				ui.PrintSection("Anomaly Baselines")
				for _, b := range baselines {
					fmt.Println(ui.RenderKeyValue(b.SeriesID,
						fmt.Sprintf("mean %.2f, stddev %.2f over %d samples", b.Mean, b.StdDev, b.Samples)))
				}
				ui.PrintSectionEnd()
			}

			ui.PrintStoreStats(engine.Store.Stats())
		},
	}
}
