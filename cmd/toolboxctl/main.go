package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "toolboxctl",
	Short: "toolboxctl - Adservio toolbox installer and configurator",
	Long: `Wires memctl (project memory) and CloakMCP (secret redaction) into
Claude Code: global hooks and permissions, per-project commands and
instructions, plus doctor, update, and rescue workflows.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("toolboxctl version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help() // Help() always returns nil for cobra commands
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.Flags().Bool("version", false, "Print version and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
