// run.go implements the "qascout run" command which drives the full
// explore -> design -> implement -> verify pipeline without the TUI.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qascout/qascout/internal/intent"
	"github.com/qascout/qascout/internal/orchestrator"
	"github.com/qascout/qascout/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run <url>",
	Short: "Run the full QA pipeline against a URL",
	Long: `Run explore, design, implement, and verify in sequence, printing
progress to stdout. Suitable for scripts and CI.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	exportFlag     bool
	skipVerifyFlag bool
)

func init() {
	runCmd.Flags().BoolVar(&exportFlag, "export", false, "Write the generated test code to the configured filename")
	runCmd.Flags().BoolVar(&skipVerifyFlag, "skip-verify", false, "Stop after code generation")
}

func runRun(cmd *cobra.Command, args []string) error {
	url := args[0]
	if !intent.IsURL(url) {
		return fmt.Errorf("%q is not a URL (must start with http:// or https://)", url)
	}

	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	o, cfg, err := buildOrchestrator(dir)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	healthCtx, cancel := context.WithTimeout(ctx, cfg.HealthTimeout())
	status := o.CheckHealth(healthCtx)
	cancel()
	if status == session.StatusDisconnected {
		return fmt.Errorf("backend unreachable at %s", cfg.Backend.BaseURL)
	}
	if status == session.StatusAPIMissing {
		fmt.Fprintln(os.Stderr, "Warning: backend is up but its model provider is unavailable.")
	}

	steps := []string{url, "design test cases", "implement the code"}
	if !skipVerifyFlag {
		steps = append(steps, "verify the tests")
	}
	for _, input := range steps {
		if err := runStep(ctx, o, input); err != nil {
			return err
		}
	}

	if exportFlag {
		path, err := o.ExportCode(dir)
		if err != nil {
			return err
		}
		fmt.Printf("Exported test code to %s\n", path)
	}
	return nil
}

// runStep dispatches one input and prints assistant messages until the
// action finishes. The action's error, if any, fails the pipeline.
func runStep(ctx context.Context, o *orchestrator.Orchestrator, input string) error {
	ch, err := o.Dispatch(ctx, input)
	if err != nil {
		return err
	}

	var doneErr error
	for up := range ch {
		switch up.Kind {
		case orchestrator.UpdateMessage:
			if up.Message.Role == session.RoleAssistant {
				fmt.Println(up.Message.Content)
			}
		case orchestrator.UpdateDone:
			doneErr = up.Err
		}
	}
	return doneErr
}
