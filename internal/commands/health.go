package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"hwpulse/internal/config"
	"hwpulse/internal/ui"
)

// NewHealthCmd creates the health command
func NewHealthCmd() *cobra.Command {
	var (
		hostID   string
		tag      string
		tagValue string
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show fleet health scores",
		Long: `Show the composite health score for one host or the mean score of
a tag group. Scores start at 100 and lose points per active breach
and predicted failure. Hosts that have not reported recently are
marked stale and excluded from group means.

Examples:
  hwpulse health                          # this host
  hwpulse health --host web-03            # a specific host
  hwpulse health --tag rack --value r12   # group mean
  hwpulse health --all                    # every known host`,
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
			ui.PrintHeader()

			if all {
				engine.Fleet.Report(engine.HostState())
				snap := engine.Fleet.FleetSnapshot(time.Now())
				ui.PrintSection("Fleet")
				fmt.Println(ui.RenderKeyValue("Hosts", fmt.Sprintf("%d (%d online, %d stale)", snap.Hosts, snap.Online, snap.Stale)))
				ui.PrintSectionEnd()
				for _, score := range snap.Scores {
					ui.PrintHealthScore(score)
				}
				return
			}

			if tag != "" {
				group, err := engine.Facade.GetGroupScore(key, tag, tagValue)
				if err != nil {
					ui.PrintStatus("error", fmt.Sprintf("Group lookup failed: %v", err))
					os.Exit(1)
				}
				ui.PrintSection(fmt.Sprintf("Group %s=%s", tag, tagValue))
				fmt.Println(ui.RenderKeyValue("Score", fmt.Sprintf("%.1f", group.Value)))
				fmt.Println(ui.RenderKeyValue("Hosts", fmt.Sprintf("%d scored, %d stale", group.Hosts, group.Stale)))
				ui.PrintSectionEnd()
				return
			}

			if hostID == "" {
				// self-score from the live engine state, no report round trip
				engine.Fleet.Report(engine.HostState())
				hostID = cfg.HostID
			}

			score, err := engine.Facade.GetHealthScore(key, hostID)
			if err != nil {
				ui.PrintStatus("error", fmt.Sprintf("Host lookup failed: %v", err))
				os.Exit(1)
			}
			ui.PrintHealthScore(score)
		},
	}

	cmd.Flags().StringVar(&hostID, "host", "", "host to score (default: this host)")
	cmd.Flags().StringVar(&tag, "tag", "", "score a tag group instead of a host")
	cmd.Flags().StringVar(&tagValue, "value", "", "tag value for --tag")
	cmd.Flags().BoolVar(&all, "all", false, "score every known host")
	return cmd
}
