// Package dashboard writes push-only JSON projections of run progress for
// a static dashboard page: status.json with the live state, history.json
// with per-phase outcomes, analytics.json with the full report. All
// updates are best effort and never fail the run.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tbarron/phaser/internal/analytics"
	"github.com/tbarron/phaser/internal/log"
	"github.com/tbarron/phaser/internal/types"
)

// Generator writes dashboard data files into a directory.
type Generator struct {
	Enabled bool
	Dir     string

	analytics *analytics.Collector
	logger    *log.Logger
}

// New returns a Generator writing into dir. A nil analytics collector
// disables the statistics sections.
func New(dir string, enabled bool, collector *analytics.Collector, logger *log.Logger) *Generator {
	return &Generator{
		Enabled:   enabled,
		Dir:       dir,
		analytics: collector,
		logger:    logger,
	}
}

// statusData is the shape of status.json.
type statusData struct {
	LastUpdated      string          `json:"last_updated"`
	CurrentPhase     string          `json:"current_phase"`
	CurrentPhaseName string          `json:"current_phase_name,omitempty"`
	CurrentStep      string          `json:"current_step"`
	CurrentIteration int             `json:"current_iteration"`
	Status           string          `json:"status"`
	OverallProgress  progressData    `json:"overall_progress"`
	RateLimitStatus  rateLimitData   `json:"rate_limit_status"`
	Statistics       *statisticsData `json:"statistics,omitempty"`
}

type progressData struct {
	TotalPhases     int     `json:"total_phases"`
	CompletedPhases int     `json:"completed_phases"`
	FailedPhases    int     `json:"failed_phases"`
	Percentage      float64 `json:"percentage"`
}

type rateLimitData struct {
	IsLimited         bool   `json:"is_limited"`
	WaitUntil         string `json:"wait_until,omitempty"`
	ConsecutiveLimits int    `json:"consecutive_limits"`
	TotalLimits       int    `json:"total_limits"`
}

type statisticsData struct {
	TotalIterations      int     `json:"total_iterations"`
	AvgIterationsPerDone float64 `json:"avg_iterations_per_phase"`
	TotalBuildErrors     int     `json:"total_build_errors"`
	TotalTestFailures    int     `json:"total_test_failures"`
	TotalRateLimits      int     `json:"total_rate_limits"`
	TotalDurationMinutes float64 `json:"total_duration_minutes"`
	TotalInputTokens     int     `json:"total_input_tokens"`
	TotalOutputTokens    int     `json:"total_output_tokens"`
}

// UpdateStatus regenerates status.json from the current execution state.
// phaseName may be empty when no phase is active.
func (g *Generator) UpdateStatus(ctx context.Context, st types.ExecutionState, phaseName string, totalPhases int) {
	if !g.Enabled {
		return
	}

	data := statusData{
		LastUpdated:      time.Now().Format(time.RFC3339),
		CurrentPhase:     st.CurrentPhase,
		CurrentPhaseName: phaseName,
		CurrentStep:      string(st.CurrentStep),
		CurrentIteration: st.Iteration,
		Status:           string(st.Status),
		OverallProgress: progressData{
			TotalPhases:     totalPhases,
			CompletedPhases: len(st.CompletedPhases),
			FailedPhases:    len(st.FailedPhases),
		},
		RateLimitStatus: rateLimitData{
			IsLimited:         st.IsRateLimited,
			ConsecutiveLimits: st.ConsecutiveRateLimits,
			TotalLimits:       st.TotalRateLimits,
		},
	}
	if totalPhases > 0 {
		data.OverallProgress.Percentage = float64(len(st.CompletedPhases)) / float64(totalPhases) * 100
	}
	if st.RateLimitUntil != nil {
		data.RateLimitStatus.WaitUntil = st.RateLimitUntil.Format(time.RFC3339)
	}

	if g.analytics != nil {
		if s, err := g.analytics.Overall(ctx); err == nil {
			data.Statistics = &statisticsData{
				TotalIterations:      s.TotalIterations,
				AvgIterationsPerDone: s.AvgIterationsPerDone,
				TotalBuildErrors:     s.TotalBuildErrors,
				TotalTestFailures:    s.TotalTestFailures,
				TotalRateLimits:      s.TotalRateLimits,
				TotalDurationMinutes: s.TotalDurationSeconds / 60,
				TotalInputTokens:     s.TotalInputTokens,
				TotalOutputTokens:    s.TotalOutputTokens,
			}
		} else {
			g.logger.Debug(fmt.Sprintf("dashboard stats unavailable: %v", err))
		}
	}

	g.writeJSON("status.json", data)
}

// historyData is the shape of history.json.
type historyData struct {
	LastUpdated string                 `json:"last_updated"`
	Phases      []analytics.PhaseStats `json:"phases"`
}

// UpdateHistory regenerates history.json from the analytics database.
func (g *Generator) UpdateHistory(ctx context.Context) {
	if !g.Enabled || g.analytics == nil {
		return
	}
	phases, err := g.analytics.History(ctx)
	if err != nil {
		g.logger.Warning(fmt.Sprintf("Dashboard history update failed: %v", err))
		return
	}
	g.writeJSON("history.json", historyData{
		LastUpdated: time.Now().Format(time.RFC3339),
		Phases:      phases,
	})
}

// UpdateAnalytics regenerates the full analytics.json report.
func (g *Generator) UpdateAnalytics(ctx context.Context) {
	if !g.Enabled || g.analytics == nil {
		return
	}
	if err := g.analytics.ExportJSON(ctx, filepath.Join(g.Dir, "analytics.json")); err != nil {
		g.logger.Warning(fmt.Sprintf("Dashboard analytics update failed: %v", err))
	}
}

// writeJSON marshals v into the dashboard directory, atomically.
func (g *Generator) writeJSON(name string, v any) {
	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		g.logger.Warning(fmt.Sprintf("Dashboard dir unavailable: %v", err))
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		g.logger.Warning(fmt.Sprintf("Dashboard marshal failed: %v", err))
		return
	}
	path := filepath.Join(g.Dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		g.logger.Warning(fmt.Sprintf("Dashboard write failed: %v", err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		g.logger.Warning(fmt.Sprintf("Dashboard rename failed: %v", err))
	}
}
