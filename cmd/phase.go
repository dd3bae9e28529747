package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var phaseCmd = &cobra.Command{
	Use:   "phase <id>",
	Short: "Run a single phase",
	Long: `Run one phase by id, regardless of its position in the plan or whether it
completed before. Useful for re-running a phase after a manual fix.`,
	Args: cobra.ExactArgs(1),
	RunE: runOnePhase,
}

func runOnePhase(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	a.openLogFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := a.buildOrchestrator()
	result, err := orch.RunPhase(ctx, args[0])
	if err != nil {
		if ctx.Err() != nil {
			a.logger.Warning("Interrupted. Progress saved; run 'phaser run' to resume.")
			return nil
		}
		return err
	}
	if !result.Success {
		return fmt.Errorf("phase %s failed: %s", result.PhaseID, result.ErrorMessage)
	}
	return nil
}
