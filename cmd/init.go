package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tbarron/phaser/internal/log"
)

var initFlags struct {
	force bool
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new phaser project",
	Long:  "Scaffold config/config.yaml, config/phases.yaml, and a starter prompt file in the current directory.",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initFlags.force, "force", false, "overwrite existing files")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	return initProject(dir, initFlags.force, log.New(rootFlags.verbose))
}

// initProject is the testable core of the init command. It writes the config
// file, a starter phase plan, and the matching prompt stub.
func initProject(dir string, force bool, logger *log.Logger) error {
	if !force {
		if _, statErr := os.Stat(filepath.Join(dir, "config", "config.yaml")); statErr == nil {
			return fmt.Errorf("config/config.yaml already exists; use --force to overwrite")
		}
	}

	type fileSpec struct {
		rel     string
		content string
	}
	specs := []fileSpec{
		{filepath.Join("config", "config.yaml"), configYAMLContent()},
		{filepath.Join("config", "phases.yaml"), phasesYAMLContent()},
		{filepath.Join("phases", "phase-1.1-project-setup.md"), promptStubContent()},
	}

	for _, spec := range specs {
		path := filepath.Join(dir, spec.rel)
		if !force {
			if _, statErr := os.Stat(path); statErr == nil {
				logger.Warning(fmt.Sprintf("%s already exists, skipping (use --force to overwrite)", spec.rel))
				continue
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", spec.rel, err)
		}
		if err := os.WriteFile(path, []byte(spec.content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", spec.rel, err)
		}
		logger.Success(fmt.Sprintf("created %s", spec.rel))
	}

	logger.Info("project initialized; edit config/config.yaml and config/phases.yaml, then run: phaser doctor")
	return nil
}

func configYAMLContent() string {
	return `# phaser configuration
project:
  path: "MyApp/MyApp.xcodeproj"   # .xcodeproj or .xcworkspace
  scheme: "MyApp"
  test_scheme: ""                 # defaults to scheme when empty
  bundle_id: "com.example.myapp"

simulator:
  name: "iPhone 16"
  os: "18.0"
  udid: ""                        # set to pin a specific device

assistant:
  command: "claude"
  model: ""                       # assistant default when empty
  timeout_seconds: 600

automation:
  max_retries_per_phase: 15
  max_same_error_retries: 3
  pause_between_phases: 5
  confirmation_timeout: 20
  build_timeout_seconds: 180
  test_timeout_seconds: 300
  capture_screenshots: true
  screenshot_delay: 3
  heartbeat_interval: 30
  rate_limit_base_wait: 60
  rate_limit_max_wait: 900
  rate_limit_multiplier: 2.0
  delay_between_calls: 5
  delay_after_failure: 10

git:
  enabled: true
  auto_commit: true
  auto_push: false
  commit_message_template: "feat({{.Module}}): Phase {{.PhaseID}} - {{.PhaseName}}"

analytics:
  database_path: "state/analytics.db"

dashboard:
  enabled: true
  dir: "dashboard/data"
`
}

func phasesYAMLContent() string {
	return `modules:
  - id: "1"
    name: "Foundation"
    description: "Project skeleton and first screen"
    phases:
      - id: "1.1"
        name: "Project Setup"
        prompt_file: "phase-1.1-project-setup.md"
        description: "Create the app entry point and main view"
        tests_required: false
        screenshot: true
        expected_files:
          - "MyApp/MyAppApp.swift"
          - "MyApp/ContentView.swift"
`
}

func promptStubContent() string {
	return `# Phase 1.1: Project Setup

Create the SwiftUI app entry point and a ContentView showing a placeholder
title. Keep the code minimal; later phases build on it.

## Files

- MyApp/MyAppApp.swift
- MyApp/ContentView.swift
`
}
