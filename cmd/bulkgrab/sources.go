package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"bulkgrab/pkg/config"
	"bulkgrab/pkg/orchestrator"
	"bulkgrab/pkg/ratelimit"
	"bulkgrab/pkg/ui"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List request budgets per source",
	Long: `List the request budget every source gets: the configured default,
the built-in presets for platforms known to throttle, and any per-source
overrides from the configuration file.`,
	RunE: runSources,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

func runSources(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	oc := orchestrator.ConfigFrom(cfg)
	limits := oc.Limits()
	names := make([]string, 0, len(limits))
	for name := range limits {
		names = append(names, name)
	}
	sort.Strings(names)

	ui.PrintInfo("(default)", describeLimits(oc.DefaultLimits))
	for _, name := range names {
		ui.PrintInfo(name, describeLimits(limits[name]))
	}
	return nil
}

func describeLimits(l ratelimit.Limits) string {
	return fmt.Sprintf("%d/min, %s apart", l.MaxPerWindow, l.MinSpacing)
}
