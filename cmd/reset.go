package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resetFlags struct {
	force bool
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard all saved progress",
	Long: `Reset the persisted execution state: completed and failed phase history,
the current step, and rate limit counters. The analytics database and logs
are untouched.`,
	RunE: resetState,
}

func init() {
	resetCmd.Flags().BoolVar(&resetFlags.force, "force", false, "skip the confirmation prompt")
}

func resetState(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.store.State()
	if !resetFlags.force {
		fmt.Fprintf(a.logger.Out, "This discards progress for %d completed phases. Type 'yes' to continue: ",
			len(st.CompletedPhases))
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "yes" {
			a.logger.Info("Reset cancelled")
			return nil
		}
	}

	if err := a.store.Reset(); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	a.logger.Success("State reset; the next run starts from the first phase")
	return nil
}
