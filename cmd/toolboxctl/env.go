package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ovitrac/AdservioToolbox/internal/config"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Export the resolved config as environment variables",
	Long: `Prints sourceable shell exports for the effective configuration:

    eval "$(toolboxctl env)"

--json emits the same mapping as a JSON object.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.ResolveFromCwd(nil)
		if err != nil {
			fatal(1, "%v", err)
		}
		envMap := cfg.EnvMap()

		if jsonOutput {
			outputJSON(envMap)
			return
		}

		keys := make([]string, 0, len(envMap))
		for key := range envMap {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Printf("export %s=%s\n", key, shellQuote(envMap[key]))
		}
		if term.IsTerminal(int(os.Stdout.Fd())) {
			info("Paste or eval the lines above to inject into your shell.")
		}
	},
}

// shellQuote single-quotes a value for POSIX shells.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[](){}<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func init() {
	rootCmd.AddCommand(envCmd)
}
