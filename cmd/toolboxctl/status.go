package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ovitrac/AdservioToolbox/internal/config"
	"github.com/ovitrac/AdservioToolbox/internal/extrun"
	"github.com/ovitrac/AdservioToolbox/internal/ui"
	"github.com/ovitrac/AdservioToolbox/internal/update"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a deterministic status report",
	Long:  `One stable table of versions, config, and installed commands. Safe to paste into an issue.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cwd, err := os.Getwd()
		if err != nil {
			fatal(1, "resolving working directory: %v", err)
		}

		configPath := config.FindConfig(cwd)
		cfg, err := config.Resolve(configPath, nil)
		if err != nil {
			fatal(1, "%v", err)
		}

		memctlVer := update.InstalledVersion(ctx, "memctl")
		cloakVer := update.InstalledVersion(ctx, "cloak")
		ecoState := "off"
		if cfg.Eco.EnabledGlobal {
			ecoState = "on"
		}

		report := map[string]string{
			"toolboxctl": Version,
			"platform":   runtime.GOOS + "/" + runtime.GOARCH,
			"git":        yesNo(extrun.Available("git")),
			"memctl":     orDefault(memctlVer, "not installed"),
			"cloakmcp":   orDefault(cloakVer, "not installed"),
			"config":     orDefault(configPath, "not found"),
			"eco_mode":   ecoState,
			"commands":   strings.Join(installedCommands(cwd), ", "),
		}
		if jsonOutput {
			outputJSON(report)
			return
		}

		info("%s", ui.RenderBold("Adservio Toolbox status"))
		for _, row := range []struct{ label, key string }{
			{"toolboxctl", "toolboxctl"},
			{"Platform", "platform"},
			{"git", "git"},
			{"memctl", "memctl"},
			{"CloakMCP", "cloakmcp"},
			{"Config", "config"},
			{"Eco mode", "eco_mode"},
			{"Commands", "commands"},
		} {
			value := report[row.key]
			if value == "" {
				value = "none"
			}
			fmt.Fprintf(os.Stderr, "  %-12s  %s\n", row.label, value)
		}
	},
}

// installedCommands lists the slash commands under .claude/commands/.
func installedCommands(dir string) []string {
	entries, err := os.ReadDir(filepath.Join(dir, ".claude", "commands"))
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		names = append(names, "/"+strings.TrimSuffix(entry.Name(), ".md"))
	}
	sort.Strings(names)
	return names
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
