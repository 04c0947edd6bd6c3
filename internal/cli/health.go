// health.go implements the "qascout health" command.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qascout/qascout/internal/session"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check backend connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}

		o, cfg, err := buildOrchestrator(dir)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.HealthTimeout())
		defer cancel()

		status := o.CheckHealth(ctx)
		fmt.Printf("backend %s: %s\n", cfg.Backend.BaseURL, status)
		if status == session.StatusDisconnected {
			return fmt.Errorf("backend unreachable")
		}
		return nil
	},
}
