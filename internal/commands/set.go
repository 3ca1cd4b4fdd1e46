package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"hwpulse/internal/config"
	"hwpulse/internal/ui"
)

// NewSetCmd creates the set command
func NewSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Update alert thresholds",
		Long: `Update one or more alert thresholds and persist them to the
configuration file.

Examples:
  hwpulse set cpu=90              # CPU threshold to 90%
  hwpulse set mem=85 disk=95      # multiple at once
  hwpulse set gpu_temp=85         # GPU temperature limit in celsius`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) == 0 {
				ui.PrintStatus("error", "No thresholds given, expected key=value pairs")
				os.Exit(1)
			}

			cfg, err := config.LoadConfig()
			if err != nil {
				ui.PrintStatus("error", fmt.Sprintf("Failed to load configuration: %v", err))
				os.Exit(1)
			}

			for _, arg := range args {
				parts := strings.SplitN(arg, "=", 2)
				if len(parts) != 2 {
					ui.PrintStatus("error", fmt.Sprintf("Invalid argument %q, expected key=value", arg))
					os.Exit(1)
				}
				value, err := strconv.ParseFloat(parts[1], 64)
				if err != nil {
					ui.PrintStatus("error", fmt.Sprintf("Invalid value %q for %s", parts[1], parts[0]))
					os.Exit(1)
				}

				switch parts[0] {
				case "cpu":
					cfg.CPUThreshold = value
				case "mem":
					cfg.MemThreshold = value
				case "disk":
					cfg.DiskThreshold = value
				case "gpu_temp":
					cfg.GPUTempLimit = value
				default:
					ui.PrintStatus("error", fmt.Sprintf("Unknown threshold %q (cpu, mem, disk, gpu_temp)", parts[0]))
					os.Exit(1)
				}
			}

			if err := config.SaveConfig(cfg); err != nil {
				ui.PrintStatus("error", fmt.Sprintf("Failed to save configuration: %v", err))
				os.Exit(1)
			}

			ui.PrintStatus("success", "Thresholds updated")
			fmt.Println(ui.RenderKeyValue("CPU", fmt.Sprintf("%.1f%%", cfg.CPUThreshold)))
			fmt.Println(ui.RenderKeyValue("Memory", fmt.Sprintf("%.1f%%", cfg.MemThreshold)))
			fmt.Println(ui.RenderKeyValue("Disk", fmt.Sprintf("%.1f%%", cfg.DiskThreshold)))
			fmt.Println(ui.RenderKeyValue("GPU Temp", fmt.Sprintf("%.1f°C", cfg.GPUTempLimit)))
		},
	}
}
