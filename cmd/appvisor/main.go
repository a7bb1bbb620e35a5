package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	root := createRootCommand(global)
	root.AddCommand(
		createRunCommand(global),
		createValidateCommand(),
		createShowCommand(),
		createListCommand(global),
		createStatusCommand(global),
		createActionCommand(global, "start", "Start a stopped or errored app"),
		createActionCommand(global, "stop", "Stop an app and cancel pending relaunches"),
		createActionCommand(global, "restart", "Restart an app without counting against max_restarts"),
		createActionCommand(global, "reset", "Clear an app's restart counter and errored state"),
		createHistoryCommand(global),
	)
	return root
}

// createRootCommand creates the root command with persistent flags.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "appvisor",
		Short: "Supervise apps declared in pm2-style ecosystem files",
		Long: `appvisor launches the apps declared in ecosystem files (.js, .json,
.yaml, .toml), restarts them according to their restart policy and
exposes a small HTTP API to control them.

Examples:
  appvisor validate ecosystem.config.js
  appvisor run ecosystem.config.js
  appvisor status goroskop-bot-prod
  appvisor restart goroskop-bot-prod`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to daemon settings file (toml, yaml or json)")
	pf.StringVar(&flags.APIUrl, "api-url", "", "daemon API URL (default from settings, e.g. http://127.0.0.1:9615/api)")
	pf.DurationVar(&flags.APITimeout, "api-timeout", defaultAPITimeout, "daemon request timeout")
	return root
}
