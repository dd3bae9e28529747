package cmd

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tbarron/phaser/internal/config"
	"github.com/tbarron/phaser/internal/log"
)

func quietLogger() *log.Logger {
	l := log.New(false)
	l.Out = io.Discard
	return l
}

func TestInitProjectGeneratesFiles(t *testing.T) {
	dir := t.TempDir()
	if err := initProject(dir, false, quietLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, rel := range []string{
		filepath.Join("config", "config.yaml"),
		filepath.Join("config", "phases.yaml"),
		filepath.Join("phases", "phase-1.1-project-setup.md"),
	} {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			t.Errorf("file %s not created: %v", rel, err)
		}
	}
}

func TestInitProjectOutputParses(t *testing.T) {
	dir := t.TempDir()
	if err := initProject(dir, false, quietLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := config.Load(filepath.Join(dir, "config", "config.yaml"))
	if err != nil {
		t.Fatalf("generated config does not parse: %v", err)
	}
	if cfg.Assistant.Command != "claude" {
		t.Errorf("assistant command = %q", cfg.Assistant.Command)
	}

	modules, err := config.LoadPhases(filepath.Join(dir, "config", "phases.yaml"))
	if err != nil {
		t.Fatalf("generated phases do not parse: %v", err)
	}
	plan := config.NewPlan(modules)
	phase, ok := plan.Phase("1.1")
	if !ok {
		t.Fatal("phase 1.1 missing from generated plan")
	}
	if phase.TestsRequired {
		t.Error("starter phase should not require tests")
	}

	// The starter prompt must exist where the plan points.
	if _, err := plan.LoadPrompt(filepath.Join(dir, "phases"), phase); err != nil {
		t.Errorf("starter prompt unreadable: %v", err)
	}
}

func TestInitProjectRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	if err := initProject(dir, false, quietLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := initProject(dir, false, quietLogger())
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("second init error = %v, want already-exists refusal", err)
	}
	if err := initProject(dir, true, quietLogger()); err != nil {
		t.Errorf("forced init failed: %v", err)
	}
}
