package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"time"
)

// OverallStats aggregates the whole run history.
type OverallStats struct {
	TotalPhases          int     `json:"total_phases"`
	CompletedPhases      int     `json:"completed_phases"`
	FailedPhases         int     `json:"failed_phases"`
	CompletionPercentage float64 `json:"completion_percentage"`
	TotalIterations      int     `json:"total_iterations"`
	AvgIterationsPerDone float64 `json:"avg_iterations_per_phase"`
	TotalBuildErrors     int     `json:"total_build_errors"`
	TotalTestFailures    int     `json:"total_test_failures"`
	TotalRateLimits      int     `json:"total_rate_limits"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
	TotalInputTokens     int     `json:"total_input_tokens"`
	TotalOutputTokens    int     `json:"total_output_tokens"`
}

// PhaseStats summarizes one phase row with its error counts.
type PhaseStats struct {
	ID              string  `json:"id"`
	ModuleID        string  `json:"module_id"`
	Name            string  `json:"name"`
	Status          string  `json:"status"`
	Iterations      int     `json:"iterations"`
	DurationSeconds float64 `json:"duration_seconds"`
	BuildErrors     int     `json:"build_errors"`
	TestFailures    int     `json:"test_failures"`
}

// Overall computes aggregate statistics across all recorded phases.
func (c *Collector) Overall(ctx context.Context) (*OverallStats, error) {
	s := &OverallStats{}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM phases`, &s.TotalPhases},
		{`SELECT COUNT(*) FROM phases WHERE status = 'completed'`, &s.CompletedPhases},
		{`SELECT COUNT(*) FROM phases WHERE status = 'failed'`, &s.FailedPhases},
		{`SELECT COUNT(*) FROM iterations`, &s.TotalIterations},
		{`SELECT COUNT(*) FROM build_errors`, &s.TotalBuildErrors},
		{`SELECT COUNT(*) FROM test_failures`, &s.TotalTestFailures},
		{`SELECT COUNT(*) FROM rate_limits`, &s.TotalRateLimits},
	}
	for _, q := range counts {
		if err := c.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	var duration sql.NullFloat64
	if err := c.db.QueryRowContext(ctx, `SELECT SUM(total_duration_seconds) FROM phases`).Scan(&duration); err != nil {
		return nil, err
	}
	s.TotalDurationSeconds = duration.Float64

	var in, out sql.NullInt64
	if err := c.db.QueryRowContext(ctx, `SELECT SUM(input_tokens), SUM(output_tokens) FROM token_usage`).Scan(&in, &out); err != nil {
		return nil, err
	}
	s.TotalInputTokens = int(in.Int64)
	s.TotalOutputTokens = int(out.Int64)

	if s.TotalPhases > 0 {
		s.CompletionPercentage = float64(s.CompletedPhases) / float64(s.TotalPhases) * 100
	}
	if s.CompletedPhases > 0 {
		s.AvgIterationsPerDone = float64(s.TotalIterations) / float64(s.CompletedPhases)
	}
	return s, nil
}

// Phase returns statistics for one phase, or sql.ErrNoRows when unknown.
func (c *Collector) Phase(ctx context.Context, phaseID string) (*PhaseStats, error) {
	p := &PhaseStats{}
	var moduleID, name, status sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT id, module_id, name, status, total_iterations, total_duration_seconds
		 FROM phases WHERE id = ?`, phaseID,
	).Scan(&p.ID, &moduleID, &name, &status, &p.Iterations, &p.DurationSeconds)
	if err != nil {
		return nil, err
	}
	p.ModuleID = moduleID.String
	p.Name = name.String
	p.Status = status.String

	if err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM build_errors WHERE phase_id = ?`, phaseID).Scan(&p.BuildErrors); err != nil {
		return nil, err
	}
	if err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM test_failures WHERE phase_id = ?`, phaseID).Scan(&p.TestFailures); err != nil {
		return nil, err
	}
	return p, nil
}

// History returns per-phase statistics in recorded order.
func (c *Collector) History(ctx context.Context) ([]PhaseStats, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, module_id, name, status, total_iterations, total_duration_seconds
		 FROM phases ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PhaseStats
	for rows.Next() {
		var p PhaseStats
		var moduleID, name, status sql.NullString
		if err := rows.Scan(&p.ID, &moduleID, &name, &status, &p.Iterations, &p.DurationSeconds); err != nil {
			return nil, err
		}
		p.ModuleID = moduleID.String
		p.Name = name.String
		p.Status = status.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// exportReport is the shape of the JSON export file.
type exportReport struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Overall     *OverallStats `json:"overall"`
	Phases      []PhaseStats  `json:"phases"`
}

// ExportJSON writes the full analytics report to path.
func (c *Collector) ExportJSON(ctx context.Context, path string) error {
	overall, err := c.Overall(ctx)
	if err != nil {
		return err
	}
	phases, err := c.History(ctx)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(exportReport{
		GeneratedAt: time.Now(),
		Overall:     overall,
		Phases:      phases,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
