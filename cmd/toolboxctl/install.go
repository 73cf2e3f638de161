package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ovitrac/AdservioToolbox/internal/extrun"
	"github.com/ovitrac/AdservioToolbox/internal/update"
	"github.com/ovitrac/AdservioToolbox/internal/wiring"
)

const (
	memctlSpec   = "memctl[mcp]"
	cloakmcpSpec = "cloakmcp"
)

var (
	installGlobal    bool
	installUninstall bool
	installUpgrade   bool
	installFTS       string
	installProfile   string
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install memctl + CloakMCP and wire global permissions",
	Long: `Installs the orchestrated tools through pipx (preferred) or pip, then
grants the global Bash permissions they need. With --global it also
wires the CloakMCP hooks and the managed CLAUDE.md block into ~/.claude/.

--uninstall reverses the global wiring only; installed packages stay.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		paths, err := wiring.DefaultGlobalPaths()
		if err != nil {
			fatal(1, "resolving home directory: %v", err)
		}

		if installUninstall {
			report, err := wiring.UninstallGlobal(paths)
			if err != nil {
				fatal(1, "uninstalling global wiring: %v", err)
			}
			if jsonOutput {
				outputJSON(report)
				return
			}
			if report.Changed() {
				info("Global wiring removed (hooks, permissions, CLAUDE.md block).")
			} else {
				info("Nothing to remove.")
			}
			return
		}

		installPackage(ctx, "memctl", memctlSpec)
		installPackage(ctx, "cloakmcp", cloakmcpSpec)

		if installGlobal {
			report, err := wiring.InstallGlobal(ctx, paths, wiring.GlobalOptions{Profile: installProfile})
			if err != nil {
				fatal(1, "global wiring failed: %v", err)
			}
			if jsonOutput {
				outputJSON(report)
			} else if report.Changed() {
				info("Global wiring complete. Run 'toolboxctl doctor' to verify.")
			} else {
				info("Global wiring already in place.")
			}
		} else {
			// Permissions are granted even without --global: the tools are
			// unusable from hooks without them.
			if _, err := wiring.InstallGlobalPermissions(paths); err != nil {
				fatal(1, "granting global permissions: %v", err)
			}
		}

		if installFTS != "" && installFTS != "fr" {
			warnMsg("FTS language set to %q, pass the same value to 'toolboxctl init'", installFTS)
		}
		if !jsonOutput {
			info("Install complete.")
		}
	},
}

// installPackage installs one tool through pipx when available, pip
// otherwise. Already-installed tools are skipped unless --upgrade.
func installPackage(ctx context.Context, tool, spec string) {
	if ver := update.InstalledVersion(ctx, toolCommand(tool)); ver != "" && !installUpgrade {
		info("%s %s is already installed (use --upgrade to force).", tool, ver)
		return
	}

	var res extrun.Result
	var err error
	switch {
	case extrun.Available("pipx"):
		args := []string{"install", spec}
		if installUpgrade {
			args = append(args, "--force")
		}
		res, err = extrun.Run(ctx, "pipx", args...)
	case extrun.Available("python3"):
		args := []string{"-m", "pip", "install"}
		if installUpgrade {
			args = append(args, "--upgrade")
		}
		res, err = extrun.Run(ctx, "python3", append(args, spec)...)
	default:
		fatal(2, "neither pipx nor python3 found on PATH")
	}
	if err != nil {
		fatal(2, "installing %s: %v", tool, err)
	}
	if res.ExitCode != 0 {
		detail := strings.TrimSpace(res.Stderr)
		fatal(2, "failed to install %s: %s", tool, detail)
	}
	info("%s installed.", tool)
}

func toolCommand(pkg string) string {
	for _, p := range update.Packages {
		if p.Name == pkg {
			return p.Cmd
		}
	}
	return pkg
}

func init() {
	installCmd.Flags().BoolVar(&installGlobal, "global", false, "Wire CloakMCP hooks and conventions into ~/.claude/")
	installCmd.Flags().BoolVar(&installUninstall, "uninstall", false, "Remove global wiring (hooks, permissions, CLAUDE.md block)")
	installCmd.Flags().BoolVar(&installUpgrade, "upgrade", false, "Force upgrade of already-installed packages")
	installCmd.Flags().StringVar(&installFTS, "fts", "fr", "FTS tokenizer language (fr, en, raw)")
	installCmd.Flags().StringVar(&installProfile, "profile", wiring.HookProfileSecrets, fmt.Sprintf("Hook profile (%s, %s)", wiring.HookProfileSecrets, wiring.HookProfileMinimal))
	rootCmd.AddCommand(installCmd)
}
