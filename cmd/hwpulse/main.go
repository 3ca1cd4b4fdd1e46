package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"hwpulse/internal/commands"
	"hwpulse/internal/ui"
)

// VERSION is set during build via ldflags
var VERSION string

// getCurrentVersion retrieves the current version from build flags or version.txt
func getCurrentVersion() string {
	version := VERSION
	if version == "" {
		if versionData, err := os.ReadFile("version.txt"); err == nil {
			version = strings.TrimSpace(string(versionData))
		}
	}
	return version
}

func main() {
	commands.GetCurrentVersion = getCurrentVersion

	rootCmd := &cobra.Command{
		Use:                "hwpulse",
		Short:              "Hardware telemetry engine",
		DisableSuggestions: true,
		CompletionOptions:  cobra.CompletionOptions{DisableDefaultCmd: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Lookup("version").Changed {
				fmt.Printf("v%s\n", getCurrentVersion())
				return nil
			}

			ui.PrintHeader()

			ui.PrintSection("Core Features")
			fmt.Println(ui.RenderKeyValue("Telemetry Store", "durable per-series segments with retention"))
			fmt.Println(ui.RenderKeyValue("Collectors", "CPU, memory, disk, network, thermal sensors"))
			fmt.Println(ui.RenderKeyValue("Alerting", "thresholds with hysteresis, state changes, anomalies"))
			fmt.Println(ui.RenderKeyValue("Forecasting", "linear trend with threshold crossing estimates"))
			fmt.Println(ui.RenderKeyValue("Fleet", "per-host health scores and group rollups"))
			ui.PrintSectionEnd()

			ui.PrintSection("Getting Started")
			fmt.Println(ui.RenderKeyValue("hwpulse serve", "run the collection loop"))
			fmt.Println(ui.RenderKeyValue("hwpulse status", "one-shot readings snapshot"))
			fmt.Println(ui.RenderKeyValue("hwpulse watch", "live sample and event stream"))
			fmt.Println(ui.RenderKeyValue("hwpulse query", "read stored samples and aggregates"))
			ui.PrintSectionEnd()
			return nil
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "print version")

	rootCmd.AddCommand(
		commands.NewServeCmd(),
		commands.NewStatusCmd(),
		commands.NewWatchCmd(),
		commands.NewQueryCmd(),
		commands.NewEventsCmd(),
		commands.NewRecordCmd(),
		commands.NewHealthCmd(),
		commands.NewPredictCmd(),
		commands.NewSetCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
