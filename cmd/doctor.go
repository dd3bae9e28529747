package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tbarron/phaser/internal/assistant"
	"github.com/tbarron/phaser/internal/config"
	"github.com/tbarron/phaser/internal/git"
	"github.com/tbarron/phaser/internal/log"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the environment is ready to run",
	Long: `Verify the pieces a run depends on: the config and phase plan parse, every
prompt file exists, the Xcode project is present, the assistant CLI and the
Xcode command line tools are on PATH, and the project directory is a git
repository when auto-commit is enabled.`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	logger := log.New(rootFlags.verbose)
	failures := 0
	check := func(name string, err error) {
		if err != nil {
			logger.Error(fmt.Sprintf("%s: %v", name, err))
			failures++
		} else {
			logger.Success(name)
		}
	}

	logger.Section("ENVIRONMENT CHECK")

	cfg, err := config.Load(rootFlags.configPath)
	check("config parses", err)
	if err != nil {
		return fmt.Errorf("cannot continue without config")
	}

	modules, err := config.LoadPhases(cfg.PhasesFile)
	check("phase plan parses", err)

	if err == nil {
		plan := config.NewPlan(modules)
		missing := 0
		for _, p := range plan.AllPhases() {
			path := filepath.Join(cfg.PromptsDir, p.PromptFile)
			if _, statErr := os.Stat(path); statErr != nil {
				logger.Error(fmt.Sprintf("prompt for phase %s missing: %s", p.ID, path))
				missing++
			}
		}
		if missing == 0 {
			logger.Success(fmt.Sprintf("all %d prompt files present", len(plan.AllPhases())))
		} else {
			failures += missing
		}
	}

	_, statErr := os.Stat(cfg.Project.Path)
	check("Xcode project exists", statErr)

	client := assistant.NewClient(cfg.Assistant.Command, cfg.Assistant.Model, cfg.AssistantTimeout(), logger)
	if client.CheckAvailable() {
		logger.Success(fmt.Sprintf("assistant CLI found (%s)", cfg.Assistant.Command))
	} else {
		logger.Error(fmt.Sprintf("assistant CLI not on PATH: %s", cfg.Assistant.Command))
		failures++
	}

	for _, tool := range []string{"xcodebuild", "xcrun"} {
		_, lookErr := exec.LookPath(tool)
		check(tool+" on PATH", lookErr)
	}

	if cfg.Git.Enabled {
		repoDir := filepath.Dir(cfg.Project.Path)
		if git.IsRepo(repoDir) {
			logger.Success("project directory is a git repository")
		} else {
			logger.Error(fmt.Sprintf("auto-commit enabled but %s is not a git repository", repoDir))
			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	logger.Success("Ready to run")
	return nil
}
