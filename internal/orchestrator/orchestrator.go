// Package orchestrator drives the phase loop: for each phase it walks the
// GENERATE, BUILD, TEST, SCREENSHOT, COMMIT, COMPLETE step machine,
// retrying failed steps through the assistant, backing off on rate limits,
// and pausing for manual intervention when an error cannot be fixed
// automatically. Every transition is persisted before the next step runs,
// so an interrupted run resumes exactly where it stopped.
package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tbarron/phaser/internal/config"
	"github.com/tbarron/phaser/internal/intervene"
	"github.com/tbarron/phaser/internal/log"
	"github.com/tbarron/phaser/internal/ratelimit"
	"github.com/tbarron/phaser/internal/state"
)

// Orchestrator owns the run loop and all its collaborators.
type Orchestrator struct {
	cfg    *config.Config
	plan   *config.Plan
	logger *log.Logger
	store  *state.Store

	assistant Assistant
	builder   Builder
	shots     Screenshotter
	committer Committer
	limiter   *ratelimit.Limiter
	detector  *intervene.Detector
	analytics Recorder
	dash      Dashboard

	// ConfirmIn is the stream read for the between-phase confirmation
	// gate. Defaults to stdin. Set it before the first gate fires; the
	// reader goroutine starts once and keeps the stream for the run.
	ConfirmIn io.Reader

	confirmOnce sync.Once
	confirmCh   chan string

	// sleep is context-aware and swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Deps bundles the collaborators for New. Analytics, Dashboard, Shots,
// and Committer may be nil; the corresponding steps degrade to no-ops.
type Deps struct {
	Store     *state.Store
	Assistant Assistant
	Builder   Builder
	Shots     Screenshotter
	Committer Committer
	Limiter   *ratelimit.Limiter
	Detector  *intervene.Detector
	Analytics Recorder
	Dashboard Dashboard
}

// New assembles an Orchestrator.
func New(cfg *config.Config, plan *config.Plan, logger *log.Logger, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		plan:      plan,
		logger:    logger,
		store:     deps.Store,
		assistant: deps.Assistant,
		builder:   deps.Builder,
		shots:     deps.Shots,
		committer: deps.Committer,
		limiter:   deps.Limiter,
		detector:  deps.Detector,
		analytics: deps.Analytics,
		dash:      deps.Dashboard,
		ConfirmIn: os.Stdin,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// projectDir is where assistant file changes land: the directory holding
// the .xcodeproj.
func (o *Orchestrator) projectDir() string {
	return filepath.Dir(o.cfg.Project.Path)
}

// RunAll executes every phase in plan order. Completed phases are skipped.
// When the persisted state is resumable and fresh is false, the run picks
// up at the persisted phase, step, and iteration. Returns true when the
// run ended cleanly (all phases done, or the user quit at a gate).
func (o *Orchestrator) RunAll(ctx context.Context, fresh bool) (bool, error) {
	st := o.store.State()
	resuming := !fresh && st.Status.Resumable() && st.CurrentPhase != ""
	if resuming {
		o.logger.Info(fmt.Sprintf("Resuming from phase %s, step %s (iteration %d)",
			st.CurrentPhase, st.CurrentStep, st.Iteration))
	} else {
		o.logger.Info("Starting fresh execution")
	}
	if err := o.store.StartExecution(fresh); err != nil {
		return false, err
	}

	phases := o.plan.AllPhases()
	for _, phase := range phases {
		if o.store.IsPhaseCompleted(phase.ID) {
			o.logger.Debug(fmt.Sprintf("Skipping completed phase %s", phase.ID))
			continue
		}

		result, err := o.RunPhase(ctx, phase.ID)
		if err != nil {
			return false, err
		}
		if !result.Success {
			o.logger.Error(fmt.Sprintf("Phase %s failed, stopping execution", phase.ID))
			return false, nil
		}

		if !o.waitForConfirmation(ctx, phase.Name) {
			o.logger.Info("Stopping after completed phase at user request")
			if err := o.store.Pause(); err != nil {
				return false, err
			}
			return true, nil
		}

		if delay := o.cfg.Automation.PauseBetweenPhases; delay > 0 {
			if err := o.sleep(ctx, time.Duration(delay)*time.Second); err != nil {
				return false, o.pauseOnCancel(err)
			}
		}
	}

	if err := o.store.CompleteExecution(); err != nil {
		return false, err
	}
	o.updateDashboard(ctx, "")
	o.logger.Success("All phases completed")
	return true, nil
}

// pauseOnCancel persists PAUSED before propagating a cancellation, so the
// next run resumes in place.
func (o *Orchestrator) pauseOnCancel(err error) error {
	if pauseErr := o.store.Pause(); pauseErr != nil {
		o.logger.Warning(fmt.Sprintf("Failed to persist pause: %v", pauseErr))
	}
	return err
}

// waitForConfirmation gives the user a window to stop between phases.
// Reading "q" (or quit/exit/stop) stops the run; any other line, or the
// timeout elapsing, continues.
func (o *Orchestrator) waitForConfirmation(ctx context.Context, phaseName string) bool {
	timeout := time.Duration(o.cfg.Automation.ConfirmationTimeout) * time.Second
	if timeout <= 0 {
		return true
	}

	o.logger.Section(fmt.Sprintf("Phase '%s' completed. Press 'q' + Enter to quit, or wait %s to continue",
		phaseName, log.FormatDuration(timeout)))

	select {
	case line, ok := <-o.confirmLines():
		if !ok {
			// Input stream closed; nothing left to read, keep running.
			return true
		}
		switch line {
		case "q", "quit", "exit", "stop":
			return false
		default:
			return true
		}
	case <-time.After(timeout):
		o.logger.Debug("No input before timeout, continuing")
		return true
	case <-ctx.Done():
		return false
	}
}

// confirmLines starts the single reader goroutine on first use and returns
// its channel. One scanner owns ConfirmIn for the whole run, so a line
// typed after one gate times out is delivered to the next gate instead of
// sitting in an abandoned scanner's buffer.
func (o *Orchestrator) confirmLines() <-chan string {
	o.confirmOnce.Do(func() {
		o.confirmCh = make(chan string)
		go func() {
			scanner := bufio.NewScanner(o.ConfirmIn)
			for scanner.Scan() {
				o.confirmCh <- strings.ToLower(strings.TrimSpace(scanner.Text()))
			}
			close(o.confirmCh)
		}()
	})
	return o.confirmCh
}

// updateDashboard refreshes all projections with the current state.
func (o *Orchestrator) updateDashboard(ctx context.Context, phaseName string) {
	if o.dash == nil {
		return
	}
	o.dash.UpdateStatus(ctx, o.store.State(), phaseName, len(o.plan.AllPhases()))
	o.dash.UpdateHistory(ctx)
	o.dash.UpdateAnalytics(ctx)
}

// record runs an analytics call and downgrades any error to a warning.
func (o *Orchestrator) record(what string, fn func() error) {
	if o.analytics == nil {
		return
	}
	if err := fn(); err != nil {
		o.logger.Warning(fmt.Sprintf("Analytics %s failed: %v", what, err))
	}
}
