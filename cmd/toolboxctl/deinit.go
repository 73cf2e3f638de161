package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ovitrac/AdservioToolbox/internal/ui"
	"github.com/ovitrac/AdservioToolbox/internal/wiring"
)

var deinitForce bool

var deinitCmd = &cobra.Command{
	Use:   "deinit",
	Short: "Remove everything init created from this project",
	Long: `Walks the state ledger in reverse: artifacts the toolbox created are
deleted, artifacts it merged into are stripped back to their prior
content. Memory data (.memory/) and hook scripts are never touched.`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fatal(1, "resolving working directory: %v", err)
		}

		if !deinitForce {
			if !askConfirm("Remove all toolbox wiring from this project?") {
				info("Aborted.")
				return
			}
		}

		report, err := wiring.Deinit(cwd)
		if err != nil {
			var notInit *wiring.NotInitializedError
			if errors.As(err, &notInit) {
				fatal(1, "%v", err)
			}
			fatal(1, "deinit failed: %v", err)
		}

		if jsonOutput {
			outputJSON(report)
			return
		}
		for _, action := range report.Actions {
			fmt.Fprintf(os.Stderr, "  %s %-32s %s\n", ui.RenderPass(ui.IconPass), action.Path, action.Result)
		}
		info("Project wiring removed.")
	},
}

func init() {
	deinitCmd.Flags().BoolVar(&deinitForce, "force", false, "Skip confirmation")
	rootCmd.AddCommand(deinitCmd)
}
