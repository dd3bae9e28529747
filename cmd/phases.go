package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var phasesCmd = &cobra.Command{
	Use:   "phases",
	Short: "List the phase plan with completion markers",
	RunE:  listPhases,
}

func listPhases(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.store.State()
	failed := make(map[string]bool, len(st.FailedPhases))
	for _, id := range st.FailedPhases {
		failed[id] = true
	}

	for _, m := range a.plan.Modules {
		a.logger.Section(fmt.Sprintf("MODULE %s: %s", m.ID, m.Name))
		for _, p := range m.Phases {
			marker := " "
			switch {
			case st.IsPhaseCompleted(p.ID):
				marker = "x"
			case failed[p.ID]:
				marker = "!"
			case p.ID == st.CurrentPhase:
				marker = ">"
			}
			tests := ""
			if !p.TestsRequired {
				tests = " (tests skipped)"
			}
			fmt.Fprintf(a.logger.Out, "  [%s] %-6s %s%s\n", marker, p.ID, p.Name, tests)
		}
	}
	return nil
}
