package main

import (
	"fmt"
	"os"

	"github.com/goodtune/focusguard/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
	envFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "focusguard",
	Short: "focusguard - site protection and time tracking agent",
	Long: `focusguard is a per-user agent that enforces password gates and daily time
limits on websites, accumulates foreground usage time per domain and replicates
it to a remote account. A browser shim connects over a local websocket.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnv(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to serve when no subcommand is provided
		return runServe(cmd, args)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file with FOCUSGUARD_* overrides")
}

// loadEnv loads the dotenv file if present. Variables already set in the
// environment win.
func loadEnv(cmd *cobra.Command) error {
	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) && !cmd.Flags().Changed("env-file") {
			return nil
		}
		return fmt.Errorf("env file %s: %w", envFile, err)
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
