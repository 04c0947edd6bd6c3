// init.go implements the "qascout init" command.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qascout/qascout/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize qascout in the current directory",
	Long: `Write a default .qascout/config.yaml with the backend URL, timeouts,
and export settings. An existing config is left unchanged.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	if _, err := config.ReadConfig(dir); err == nil {
		fmt.Println(".qascout/config.yaml already exists; leaving it unchanged.")
		return nil
	}

	if err := config.WriteConfig(dir, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Println("Initialized .qascout/config.yaml")
	return nil
}
