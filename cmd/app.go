package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tbarron/phaser/internal/analytics"
	"github.com/tbarron/phaser/internal/assistant"
	"github.com/tbarron/phaser/internal/config"
	"github.com/tbarron/phaser/internal/dashboard"
	"github.com/tbarron/phaser/internal/intervene"
	"github.com/tbarron/phaser/internal/log"
	"github.com/tbarron/phaser/internal/orchestrator"
	"github.com/tbarron/phaser/internal/ratelimit"
	"github.com/tbarron/phaser/internal/screenshot"
	"github.com/tbarron/phaser/internal/state"
	"github.com/tbarron/phaser/internal/xcode"
)

// app bundles what every subcommand needs once config, phases, and state
// are loaded. Close releases the analytics database and the log file.
type app struct {
	cfg       *config.Config
	plan      *config.Plan
	logger    *log.Logger
	store     *state.Store
	collector *analytics.Collector
	logFile   *os.File
}

func (a *app) Close() {
	if a.collector != nil {
		a.collector.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

// loadApp loads config, the phase plan, and persisted state. Analytics is
// optional: a broken database logs a warning and the run continues without
// it.
func loadApp() (*app, error) {
	logger := log.New(rootFlags.verbose)

	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	modules, err := config.LoadPhases(cfg.PhasesFile)
	if err != nil {
		return nil, fmt.Errorf("load phases: %w", err)
	}

	store, err := state.Open(cfg.StateDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	a := &app{
		cfg:    cfg,
		plan:   config.NewPlan(modules),
		logger: logger,
		store:  store,
	}

	if cfg.Analytics.DatabasePath != "" {
		collector, err := analytics.Open(cfg.Analytics.DatabasePath)
		if err != nil {
			logger.Warning(fmt.Sprintf("Analytics disabled: %v", err))
		} else {
			a.collector = collector
		}
	}
	return a, nil
}

// openLogFile tees run output into a timestamped file under the log dir.
// Failures are warnings only.
func (a *app) openLogFile() {
	if a.cfg.LogDir == "" {
		return
	}
	if err := os.MkdirAll(a.cfg.LogDir, 0o755); err != nil {
		a.logger.Warning(fmt.Sprintf("Log dir unavailable: %v", err))
		return
	}
	path := filepath.Join(a.cfg.LogDir, "run-"+time.Now().Format("20060102-150405")+".log")
	f, err := os.Create(path)
	if err != nil {
		a.logger.Warning(fmt.Sprintf("Log file unavailable: %v", err))
		return
	}
	a.logFile = f
	a.logger.File = f
}

// buildOrchestrator wires the collaborators around the loaded app. Disabled
// features (screenshots, git, analytics, dashboard) leave their slot nil.
func (a *app) buildOrchestrator() *orchestrator.Orchestrator {
	auto := a.cfg.Automation

	limiter := ratelimit.New(
		time.Duration(auto.RateLimitBaseWait)*time.Second,
		time.Duration(auto.RateLimitMaxWait)*time.Second,
		auto.RateLimitMultiplier,
	)
	limiter.DelayBetweenCalls = time.Duration(auto.DelayBetweenCalls) * time.Second
	limiter.DelayAfterFailure = time.Duration(auto.DelayAfterFailure) * time.Second

	deps := orchestrator.Deps{
		Store:     a.store,
		Assistant: assistant.NewClient(a.cfg.Assistant.Command, a.cfg.Assistant.Model, a.cfg.AssistantTimeout(), a.logger),
		Builder:   xcode.NewRunner(a.cfg, a.logger),
		Limiter:   limiter,
		Detector:  intervene.NewDetector(auto.MaxSameErrorRetries),
	}
	if auto.CaptureScreenshots {
		deps.Shots = screenshot.NewCapturer(a.cfg.ScreenshotsDir, time.Duration(auto.ScreenshotDelay)*time.Second, a.logger)
	}
	if a.cfg.Git.Enabled {
		deps.Committer = &orchestrator.RepoCommitter{
			Dir:      filepath.Dir(a.cfg.Project.Path),
			Template: a.cfg.Git.CommitMessageTemplate,
			AutoPush: a.cfg.Git.AutoPush,
		}
	}
	if a.collector != nil {
		deps.Analytics = a.collector
	}
	if a.cfg.Dashboard.Enabled {
		deps.Dashboard = dashboard.New(a.cfg.Dashboard.Dir, true, a.collector, a.logger)
	}
	return orchestrator.New(a.cfg, a.plan, a.logger, deps)
}
