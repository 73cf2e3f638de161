package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ovitrac/AdservioToolbox/internal/ui"
	"github.com/ovitrac/AdservioToolbox/internal/wiring"
)

var (
	initForce   bool
	initProfile string
	initFTS     string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Wire .claude/ commands, config, and instructions into this project",
	Long: `Installs the project-scoped artifacts: slash commands, MCP server
registration, the toolbox config file, the PROJECT instructions block,
and gitignore entries. Everything is tracked in a manifest so deinit
can reverse it.`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fatal(1, "resolving working directory: %v", err)
		}

		report, err := wiring.Init(cwd, wiring.InitOptions{
			Profile: initProfile,
			Force:   initForce,
			FTS:     initFTS,
			Version: Version,
		})
		if err != nil {
			var already *wiring.AlreadyInitializedError
			if errors.As(err, &already) {
				fatal(1, "%v (use --force to re-initialize)", err)
			}
			fatal(1, "init failed: %v", err)
		}

		if jsonOutput {
			outputJSON(report)
			return
		}
		for _, action := range report.Actions {
			icon := ui.RenderPass(ui.IconPass)
			if !action.Result.Mutated() {
				icon = ui.RenderMuted(ui.IconInfo)
			}
			fmt.Fprintf(os.Stderr, "  %s %-32s %s\n", icon, action.Path, action.Result)
		}
		if report.LegacyMarkers {
			warnMsg("CLAUDE.md carries legacy toolbox markers; remove the old block manually")
		}
		info("Project initialized with profile %q.", report.Profile)
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Re-initialize, overwriting toolbox-owned files")
	initCmd.Flags().StringVar(&initProfile, "profile", wiring.ProfileMinimal, "Project profile (minimal, dev, playground)")
	initCmd.Flags().StringVar(&initFTS, "fts", "fr", "FTS tokenizer language (fr, en, raw)")
	rootCmd.AddCommand(initCmd)
}
