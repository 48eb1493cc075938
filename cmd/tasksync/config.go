package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/tasksync/internal/config"
	"github.com/Mschirtzinger/tasksync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Inspect and create configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the effective settings",
	Long: `Write the effective configuration (defaults, environment and flags
applied) to a file. Without a path the file goes to
$XDG_CONFIG_HOME/tasksync/tasksync.<format>. The file is created with
mode 0600 since it may hold the remote token.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		force, _ := cmd.Flags().GetBool("force")

		path := filepath.Join(config.ConfigDir(), "tasksync."+format)
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.Write(path, cfg, format, force); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		shown := *cfg
		if shown.Remote.Token != "" {
			shown.Remote.Token = "<redacted>"
		}
		data, err := shown.Encode(format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if cfg.File != "" {
			fmt.Printf("# loaded from %s\n", cfg.File)
		}
		os.Stdout.Write(data)
	},
}

func init() {
	configInitCmd.Flags().String("format", config.FormatYAML, "File format: yaml or toml")
	configInitCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
	configShowCmd.Flags().String("format", config.FormatYAML, "Output format: yaml or toml")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
