package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runFlags struct {
	fresh bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all remaining phases",
	Long: `Run every phase that has not completed yet. A run interrupted by Ctrl-C,
a rate limit, or a manual intervention resumes from the persisted step the
next time you run this command. Use --fresh to discard saved progress and
start over from the first phase.`,
	RunE: runAll,
}

func init() {
	runCmd.Flags().BoolVar(&runFlags.fresh, "fresh", false, "discard saved progress and start from the first phase")
}

func runAll(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	a.openLogFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := a.buildOrchestrator()
	done, err := orch.RunAll(ctx, runFlags.fresh)
	if err != nil {
		if ctx.Err() != nil {
			a.logger.Warning("Interrupted. Progress saved; run 'phaser run' to resume.")
			return nil
		}
		return err
	}
	if !done {
		return fmt.Errorf("run stopped before completion; fix the reported failure and run 'phaser run' to resume")
	}
	return nil
}
