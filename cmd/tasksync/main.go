// Command tasksync keeps a local task list in step with a remote list
// service. Every change lands locally first and is pushed in the
// background; whatever could not be pushed is reconciled later.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/tasksync/internal/config"
	"github.com/Mschirtzinger/tasksync/internal/logging"
	"github.com/Mschirtzinger/tasksync/internal/ui"
)

var (
	configPath string
	noColor    bool

	cfg  *config.Config
	logs *logging.Factory
)

var rootCmd = &cobra.Command{
	Use:   "tasksync",
	Short: "Local-first task list synchronized with a remote list service",
	Long: `tasksync manages a task list stored on this machine and mirrored to a
remote list service.

Changes are applied locally right away and sent to the service in the
background. When the service cannot be reached the list is marked dirty
and the next successful contact reconciles both sides.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.DisableColor()
		} else {
			ui.Init(os.Stdout)
		}

		loaded, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded

		factory, err := logging.Setup(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Quiet:      cfg.Log.Quiet,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
			os.Exit(1)
		}
		logs = factory
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "items", Title: "Working With Items:"},
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default: ./tasksync.yaml or $XDG_CONFIG_HOME/tasksync/tasksync.yaml)")
	flags.String("url", "", "Remote list service base URL")
	flags.String("token", "", "Bearer token for the remote service")
	flags.String("backend", "", "Local store backend: file or sqlite")
	flags.String("data", "", "Local store path")
	flags.String("actor", "", "Name recorded as the last updater of changed items")
	flags.String("log-file", "", "Also write logs to this file, rotated by size")
	flags.BoolP("quiet", "q", false, "Suppress log output on stderr")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
