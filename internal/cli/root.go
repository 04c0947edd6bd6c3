// Package cli defines Cobra command definitions for the qascout CLI.
// This file contains the root command, which launches the chat TUI.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qascout/qascout/internal/backend"
	"github.com/qascout/qascout/internal/config"
	"github.com/qascout/qascout/internal/log"
	"github.com/qascout/qascout/internal/orchestrator"
	"github.com/qascout/qascout/internal/tui"
)

var (
	backendFlag string
	version     = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "qascout",
	Short: "Conversational QA agent for web testing",
	Long: `QA Scout turns a conversation into a web test suite. Paste a URL to
explore a page, then ask it to design test cases, generate test code, and
verify the suite against the live page. Requires a running QA backend.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// When no subcommand is provided, launch TUI if TTY, show help otherwise
		if !tui.IsTTY() {
			return cmd.Help()
		}

		dir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}

		o, cfg, err := buildOrchestrator(dir)
		if err != nil {
			return err
		}
		return tui.Run(tui.NewModel(o, cfg.HealthTimeout(), dir))
	},
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildOrchestrator loads config from dir (defaults when not initialized),
// applies the --backend override, and wires the client and logger.
func buildOrchestrator(dir string) (*orchestrator.Orchestrator, *config.Config, error) {
	cfg, err := config.ReadConfig(dir)
	if err != nil {
		// Config not found or invalid, use defaults
		cfg = config.DefaultConfig()
	}
	if backendFlag != "" {
		cfg.Backend.BaseURL = backendFlag
	}

	logger, err := log.NewLogger(dir)
	if err != nil {
		return nil, nil, err
	}

	client := backend.NewClient(cfg.Backend.BaseURL, cfg.RequestTimeout())
	return orchestrator.New(client, logger, cfg), cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Backend base URL (overrides config)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(healthCmd)
}
