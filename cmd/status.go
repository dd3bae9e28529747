package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbarron/phaser/internal/log"
	"github.com/tbarron/phaser/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show execution state and progress",
	RunE:  showStatus,
}

func showStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.store.State()
	total := len(a.plan.AllPhases())

	a.logger.Section("EXECUTION STATUS")
	a.logger.Info(fmt.Sprintf("Status:    %s", st.Status))
	a.logger.Info(fmt.Sprintf("Progress:  %d/%d phases complete", len(st.CompletedPhases), total))
	if st.CurrentPhase != "" {
		a.logger.Info(fmt.Sprintf("Current:   phase %s, step %s (iteration %d)",
			st.CurrentPhase, st.CurrentStep, st.Iteration))
	}
	if len(st.FailedPhases) > 0 {
		a.logger.Warning(fmt.Sprintf("Failed:    %v", st.FailedPhases))
	}
	if st.IsRateLimited && st.RateLimitUntil != nil {
		remaining := time.Until(*st.RateLimitUntil)
		if remaining > 0 {
			a.logger.Warning(fmt.Sprintf("Rate limited until %s (%s remaining)",
				st.RateLimitUntil.Format("15:04:05"), log.FormatDuration(remaining)))
		} else {
			a.logger.Info("Rate limit window has passed; safe to resume")
		}
	}
	if st.LastError != "" {
		a.logger.Info(fmt.Sprintf("Last error: %s", st.LastError))
	}
	if st.TotalIterations > 0 {
		a.logger.Info(fmt.Sprintf("Totals:    %d iterations, %d build errors, %d test failures, %d rate limits",
			st.TotalIterations, st.TotalBuildErrors, st.TotalTestFailures, st.TotalRateLimits))
	}

	if info := a.store.Resume(); info.Resumable {
		a.logger.Info("Run 'phaser run' to resume")
	} else if st.Status == types.StatusComplete {
		a.logger.Success("All phases complete")
	}

	if a.collector != nil {
		stats, err := a.collector.Overall(cmd.Context())
		if err != nil {
			a.logger.Warning(fmt.Sprintf("Analytics unavailable: %v", err))
			return nil
		}
		a.logger.Section("ANALYTICS")
		a.logger.Info(fmt.Sprintf("Phases:    %d done, %d failed, %d started (%.0f%%)",
			stats.CompletedPhases, stats.FailedPhases, stats.TotalPhases, stats.CompletionPercentage))
		if stats.CompletedPhases > 0 {
			a.logger.Info(fmt.Sprintf("Avg iterations per completed phase: %.1f", stats.AvgIterationsPerDone))
		}
		if stats.TotalInputTokens > 0 || stats.TotalOutputTokens > 0 {
			a.logger.Info(fmt.Sprintf("Tokens:    %d in, %d out", stats.TotalInputTokens, stats.TotalOutputTokens))
		}
	}
	return nil
}
