package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ovitrac/AdservioToolbox/internal/config"
	"github.com/ovitrac/AdservioToolbox/internal/doctor"
	"github.com/ovitrac/AdservioToolbox/internal/ui"
	"github.com/ovitrac/AdservioToolbox/internal/wiring"
)

var (
	doctorStrict bool
	doctorCI     bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose toolbox installation health",
	Long: `Checks the runtime, package manager, orchestrated tools, PATH
visibility, global and project wiring, and lints the instruction
documents. Exit 0 all green, 1 warnings, 2 missing or critical.
--strict (or --ci) treats every warning as a failure.`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fatal(1, "resolving working directory: %v", err)
		}
		paths, err := wiring.DefaultGlobalPaths()
		if err != nil {
			fatal(1, "resolving home directory: %v", err)
		}

		policyPath := ""
		if cfg, err := config.ResolveFromCwd(nil); err == nil {
			policyPath = cfg.Cloak.Policy
		}

		report := doctor.Run(context.Background(), doctor.Options{
			ProjectDir:      cwd,
			GlobalPaths:     paths,
			Version:         Version,
			CloakPolicyPath: policyPath,
			Strict:          doctorStrict || doctorCI,
		})

		if jsonOutput {
			outputJSON(report)
		} else {
			printDoctorReport(report)
		}
		os.Exit(report.ExitCode())
	},
}

func printDoctorReport(report *doctor.Report) {
	category := ""
	for _, check := range report.Checks {
		if check.Category != category {
			category = check.Category
			fmt.Fprintf(os.Stderr, "\n%s\n", ui.RenderBold(category))
		}
		icon := ui.RenderPass(ui.IconPass)
		switch check.Status {
		case doctor.StatusWarning:
			icon = ui.RenderWarn(ui.IconWarn)
		case doctor.StatusMissing:
			icon = ui.RenderFail(ui.IconFail)
		}
		line := fmt.Sprintf("  %s %-28s %s", icon, check.Name, check.Message)
		if check.Detail != "" {
			line += " " + ui.RenderMuted("("+check.Detail+")")
		}
		fmt.Fprintln(os.Stderr, line)
		if check.Fix != "" && check.Status != doctor.StatusOK {
			fmt.Fprintf(os.Stderr, "      %s\n", ui.RenderMuted("fix: "+check.Fix))
		}
	}
	fmt.Fprintln(os.Stderr)
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorStrict, "strict", false, "Treat warnings as failures")
	doctorCmd.Flags().BoolVar(&doctorCI, "ci", false, "Alias for --strict")
	rootCmd.AddCommand(doctorCmd)
}
