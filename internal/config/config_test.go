package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tbarron/phaser/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Automation.MaxRetriesPerPhase != 15 {
		t.Errorf("MaxRetriesPerPhase = %d, want 15", cfg.Automation.MaxRetriesPerPhase)
	}
	if cfg.Automation.RateLimitBaseWait != 60 {
		t.Errorf("RateLimitBaseWait = %d, want 60", cfg.Automation.RateLimitBaseWait)
	}
	if cfg.Assistant.Command != "claude" {
		t.Errorf("Assistant.Command = %q, want claude", cfg.Assistant.Command)
	}
	if !cfg.Git.AutoCommit {
		t.Error("Git.AutoCommit = false, want true")
	}
}

func TestLoadPartialOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
project:
  path: App.xcodeproj
  scheme: App
automation:
  max_retries_per_phase: 5
  capture_screenshots: false
git:
  auto_commit: false
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Automation.MaxRetriesPerPhase != 5 {
		t.Errorf("MaxRetriesPerPhase = %d, want 5", cfg.Automation.MaxRetriesPerPhase)
	}
	// Explicit false must override the true default.
	if cfg.Automation.CaptureScreenshots {
		t.Error("CaptureScreenshots = true, want false")
	}
	if cfg.Git.AutoCommit {
		t.Error("Git.AutoCommit = true, want false")
	}
	// Untouched sections keep defaults.
	if cfg.Automation.MaxSameErrorRetries != 3 {
		t.Errorf("MaxSameErrorRetries = %d, want 3", cfg.Automation.MaxSameErrorRetries)
	}
	// Test scheme falls back to the build scheme.
	if cfg.Project.TestScheme != "App" {
		t.Errorf("TestScheme = %q, want App", cfg.Project.TestScheme)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "project: [unclosed")

	_, err := config.Load(path)
	var pe *config.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Load error = %v, want *ParseError", err)
	}
}

func TestLoadPhases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phases.yaml")
	writeFile(t, path, `
modules:
  - id: core
    name: Core Data Layer
    phases:
      - id: "1.1"
        name: Models
        prompt_file: phase-1.1.md
        screenshot: false
      - id: "1.2"
        name: Persistence
        prompt_file: phase-1.2.md
        tests_required: false
        screenshot: true
  - id: ui
    name: Interface
    phases:
      - id: "2.1"
        name: Main View
        prompt_file: phase-2.1.md
`)
	modules, err := config.LoadPhases(path)
	if err != nil {
		t.Fatalf("LoadPhases: %v", err)
	}
	if len(modules) != 2 {
		t.Fatalf("got %d modules, want 2", len(modules))
	}
	if len(modules[0].Phases) != 2 {
		t.Fatalf("got %d phases in core, want 2", len(modules[0].Phases))
	}
	// tests_required defaults to true when absent.
	if !modules[0].Phases[0].TestsRequired {
		t.Error("phase 1.1 TestsRequired = false, want true")
	}
	if modules[0].Phases[1].TestsRequired {
		t.Error("phase 1.2 TestsRequired = true, want false")
	}

	plan := config.NewPlan(modules)
	if got := len(plan.AllPhases()); got != 3 {
		t.Errorf("AllPhases = %d, want 3", got)
	}
	ph, ok := plan.Phase("2.1")
	if !ok || ph.Name != "Main View" {
		t.Errorf("Phase(2.1) = %+v, %v", ph, ok)
	}
	if got := plan.ModuleID("1.2"); got != "core" {
		t.Errorf("ModuleID(1.2) = %q, want core", got)
	}
	if _, ok := plan.Phase("9.9"); ok {
		t.Error("Phase(9.9) found, want missing")
	}
}

func TestLoadPhasesMissing(t *testing.T) {
	_, err := config.LoadPhases(filepath.Join(t.TempDir(), "phases.yaml"))
	if !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
