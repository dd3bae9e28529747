package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "v0.3.0"

var rootFlags struct {
	configPath string
	verbose    bool
}

var rootCmd = &cobra.Command{
	Use:   "phaser",
	Short: "phaser drives an AI coding assistant through phased app development",
	Long: `phaser executes a phase plan against an Xcode project: each phase sends a
prompt to a coding assistant CLI, applies the generated files, builds and
tests the project, and commits the result. Failed builds and tests are fed
back to the assistant as fix prompts until the phase passes or the retry
budget runs out. Progress is persisted so an interrupted run resumes where
it stopped.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&rootFlags.configPath, "config", "c", "config/config.yaml", "path to the config file")
	rootCmd.PersistentFlags().BoolVar(&rootFlags.verbose, "verbose", false, "enable debug output")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(phaseCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(phasesCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(exportCmd)
}
