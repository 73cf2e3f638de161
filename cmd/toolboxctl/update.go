package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ovitrac/AdservioToolbox/internal/ui"
	"github.com/ovitrac/AdservioToolbox/internal/update"
	"github.com/ovitrac/AdservioToolbox/internal/wiring"
)

var (
	updateCheck   bool
	updateQuiet   bool
	updateGlobal  bool
	updateProject bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Upgrade the orchestrated tools or refresh managed blocks",
	Long: `Compares installed versions against the package index and upgrades
through the track each tool was installed with (pipx or pip).

--check only reports. --global / --project skip version comparison and
re-render the relevant managed instructions block instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		if updateGlobal || updateProject {
			refreshBlocks()
			return
		}

		if updateCheck {
			entries := update.Check(ctx)
			if jsonOutput {
				outputJSON(entries)
				return
			}
			printCheckEntries(entries)
			return
		}

		results := update.UpgradeAll(ctx)
		if jsonOutput {
			outputJSON(results)
			return
		}
		failed := false
		for _, res := range results {
			switch res.Action {
			case update.ActionUpgraded:
				info("%s %s upgraded to %s (%s)", res.Package, res.OldVersion, res.NewVersion, res.Track)
			case update.ActionNotInstalled:
				if !updateQuiet {
					info("%s skipped: not installed", res.Package)
				}
			case update.ActionError:
				errorMsg("%s upgrade failed: %s", res.Package, res.Error)
				failed = true
			}
		}
		if failed {
			os.Exit(1)
		}
	},
}

// refreshBlocks re-renders the managed instruction blocks offline. Works
// without network: the content comes from the recorded profile, not the
// index.
func refreshBlocks() {
	type refresh struct {
		Scope  string `json:"scope"`
		Result string `json:"result"`
	}
	var out []refresh

	if updateGlobal {
		paths, err := wiring.DefaultGlobalPaths()
		if err != nil {
			fatal(1, "resolving home directory: %v", err)
		}
		res, err := wiring.RefreshGlobalBlock(paths)
		if err != nil {
			fatal(1, "refreshing global block: %v", err)
		}
		out = append(out, refresh{Scope: "global", Result: res.String()})
	}
	if updateProject {
		cwd, err := os.Getwd()
		if err != nil {
			fatal(1, "resolving working directory: %v", err)
		}
		res, err := wiring.RefreshProjectBlock(cwd)
		if err != nil {
			fatal(1, "refreshing project block: %v", err)
		}
		out = append(out, refresh{Scope: "project", Result: res.String()})
	}

	if jsonOutput {
		outputJSON(out)
		return
	}
	for _, r := range out {
		info("%s block: %s", r.Scope, r.Result)
	}
}

func printCheckEntries(entries []update.CheckEntry) {
	for _, entry := range entries {
		installed := entry.Installed
		if installed == "" {
			installed = "not installed"
		}
		latest := entry.Latest
		if latest == "" {
			latest = "unknown"
		}
		marker := ui.RenderMuted(ui.IconInfo)
		if entry.UpToDate != nil {
			if *entry.UpToDate {
				marker = ui.RenderPass(ui.IconPass)
			} else {
				marker = ui.RenderWarn(ui.IconWarn)
			}
		}
		fmt.Fprintf(os.Stderr, "  %s %-18s %-14s latest %-10s (%s)\n",
			marker, entry.Package, installed, latest, entry.Track)
	}
}

func init() {
	updateCmd.Flags().BoolVar(&updateCheck, "check", false, "Report versions without upgrading")
	updateCmd.Flags().BoolVar(&updateQuiet, "quiet", false, "Only report changes and failures")
	updateCmd.Flags().BoolVar(&updateGlobal, "global", false, "Refresh the global instructions block only")
	updateCmd.Flags().BoolVar(&updateProject, "project", false, "Refresh the project instructions block only")
	rootCmd.AddCommand(updateCmd)
}
