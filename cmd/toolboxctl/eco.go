package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ovitrac/AdservioToolbox/internal/config"
)

var ecoCmd = &cobra.Command{
	Use:       "eco [on|off]",
	Short:     "Toggle eco mode in the toolbox config",
	Long:      `Without an argument, shows the current state. "on"/"off" writes the flag to the config file, creating it from defaults when absent.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"on", "off"},
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fatal(1, "resolving working directory: %v", err)
		}
		configPath := config.FindConfig(cwd)

		cfg, err := config.Resolve(configPath, nil)
		if err != nil {
			fatal(1, "%v", err)
		}

		if len(args) == 0 {
			state := "off"
			if cfg.Eco.EnabledGlobal {
				state = "on"
			}
			if jsonOutput {
				outputJSON(map[string]any{"eco": state, "config": configPath})
				return
			}
			info("Eco mode is currently: %s", state)
			if configPath != "" {
				info("Config: %s", configPath)
			} else {
				warnMsg("No config file found. Run 'toolboxctl init' first.")
			}
			return
		}

		enabled := args[0] == "on"
		if enabled == cfg.Eco.EnabledGlobal && configPath != "" {
			info("Eco mode is already %s.", args[0])
			return
		}

		// No config yet: create one from defaults in the working directory.
		if configPath == "" {
			configPath = filepath.Join(cwd, config.ConfigFileName)
		}
		if err := config.SetEco(configPath, enabled); err != nil {
			fatal(1, "writing config: %v", err)
		}
		if jsonOutput {
			outputJSON(map[string]any{"eco": args[0], "config": configPath})
			return
		}
		info("Eco mode set to %s in %s", args[0], configPath)
	},
}

func init() {
	rootCmd.AddCommand(ecoCmd)
}
