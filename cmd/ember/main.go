// Ember is a game server for the build 317 client. It runs the login
// handshake, the 600ms world cycle and player persistence, and exposes a
// REST API, Prometheus metrics and MQTT telemetry for operators.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ember-project/ember/internal/config"
)

const (
	AppName    = "Ember"
	AppVersion = "1.0.0"
	Banner     = `
  _____           _
 | ____|_ __ ___ | |__   ___ _ __
 |  _| | '_ ' _ \| '_ \ / _ \ '__|
 | |___| | | | | | |_) |  __/ |
 |_____|_| |_| |_|_.__/ \___|_|   v%s
 317 Game Server
`
)

// options are the command line overrides applied on top of the config file.
type options struct {
	configPath string
	host       string
	port       int
	cycleMS    int
	noConsole  bool
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "ember",
		Short: "Game server for the build 317 client",
		Long: `Ember accepts client logins, runs the world cycle and saves players
to SQLite. An admin REST API, Prometheus metrics and MQTT telemetry
can be enabled in the config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to the config file (default config/ember.json)")
	flags.StringVar(&opts.host, "host", "", "override the game listener host")
	flags.IntVarP(&opts.port, "port", "p", 0, "override the game listener port")
	flags.IntVar(&opts.cycleMS, "cycle", 0, "override the cycle rate in milliseconds")
	rootCmd.Flags().BoolVar(&opts.noConsole, "no-console", false, "run without the interactive console")

	rootCmd.AddCommand(
		initCmd(opts),
		validateCmd(opts),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", AppName, AppVersion)
		},
	}
}

func initCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or update the config file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			return config.RunSetupWizard(cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func validateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			result := config.Validate(cfg)
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "warning: %s: %s\n", w.Field, w.Message)
			}
			if !result.IsValid() {
				for _, e := range result.Errors {
					fmt.Fprintf(out, "error: %s: %s\n", e.Field, e.Message)
				}
				return fmt.Errorf("%d configuration errors", len(result.Errors))
			}
			fmt.Fprintf(out, "%s is valid\n", cfg.Path())
			return nil
		},
	}
}
