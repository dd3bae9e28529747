// Package analytics records run telemetry in SQLite: phase outcomes,
// iterations, build errors, test failures, rate limits, commits,
// screenshots, and token usage. Recording is fire-and-forget from the
// orchestrator's perspective; a broken database degrades analytics, not
// the run.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tbarron/phaser/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS phases (
	id TEXT PRIMARY KEY,
	module_id TEXT,
	name TEXT,
	status TEXT,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	total_iterations INTEGER DEFAULT 0,
	total_duration_seconds REAL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS iterations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	phase_id TEXT,
	iteration_number INTEGER,
	step TEXT,
	status TEXT,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	duration_seconds REAL,
	error_message TEXT,
	FOREIGN KEY (phase_id) REFERENCES phases(id)
);

CREATE TABLE IF NOT EXISTS build_errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	phase_id TEXT,
	iteration_number INTEGER,
	file_path TEXT,
	line_number INTEGER,
	error_message TEXT,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (phase_id) REFERENCES phases(id)
);

CREATE TABLE IF NOT EXISTS test_failures (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	phase_id TEXT,
	iteration_number INTEGER,
	test_class TEXT,
	test_name TEXT,
	failure_message TEXT,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (phase_id) REFERENCES phases(id)
);

CREATE TABLE IF NOT EXISTS rate_limits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	phase_id TEXT,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	wait_seconds INTEGER
);

CREATE TABLE IF NOT EXISTS commits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	phase_id TEXT,
	commit_hash TEXT,
	message TEXT,
	files_changed INTEGER DEFAULT 0,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (phase_id) REFERENCES phases(id)
);

CREATE TABLE IF NOT EXISTS screenshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	phase_id TEXT,
	file_path TEXT,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (phase_id) REFERENCES phases(id)
);

CREATE TABLE IF NOT EXISTS token_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	phase_id TEXT,
	iteration_number INTEGER,
	input_tokens INTEGER DEFAULT 0,
	output_tokens INTEGER DEFAULT 0,
	model TEXT,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (phase_id) REFERENCES phases(id)
);

CREATE INDEX IF NOT EXISTS idx_iterations_phase ON iterations(phase_id);
CREATE INDEX IF NOT EXISTS idx_build_errors_phase ON build_errors(phase_id);
CREATE INDEX IF NOT EXISTS idx_test_failures_phase ON test_failures(phase_id);
`

// Collector writes telemetry rows into the analytics database.
type Collector struct {
	db *sql.DB
}

// Open opens (creating if needed) the analytics database at path and
// applies the schema.
func Open(path string) (*Collector, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create analytics dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply analytics schema: %w", err)
	}
	return &Collector{db: db}, nil
}

// Close releases the database handle.
func (c *Collector) Close() error {
	return c.db.Close()
}

// StartPhase upserts a phase row in the running state.
func (c *Collector) StartPhase(ctx context.Context, phaseID, moduleID, name string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO phases (id, module_id, name, status, started_at)
		 VALUES (?, ?, ?, 'running', ?)`,
		phaseID, moduleID, name, time.Now().Format(time.RFC3339))
	return err
}

// CompletePhase closes a phase row as completed.
func (c *Collector) CompletePhase(ctx context.Context, phaseID string, iterations int, duration time.Duration) error {
	return c.finishPhase(ctx, phaseID, "completed", iterations, duration)
}

// FailPhase closes a phase row as failed.
func (c *Collector) FailPhase(ctx context.Context, phaseID string, iterations int, duration time.Duration) error {
	return c.finishPhase(ctx, phaseID, "failed", iterations, duration)
}

func (c *Collector) finishPhase(ctx context.Context, phaseID, status string, iterations int, duration time.Duration) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE phases
		 SET status = ?, completed_at = ?, total_iterations = ?, total_duration_seconds = ?
		 WHERE id = ?`,
		status, time.Now().Format(time.RFC3339), iterations, duration.Seconds(), phaseID)
	return err
}

// RecordIterationStart inserts a running iteration row.
func (c *Collector) RecordIterationStart(ctx context.Context, phaseID string, iteration int, step types.Step) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO iterations (phase_id, iteration_number, step, status, started_at)
		 VALUES (?, ?, ?, 'running', ?)`,
		phaseID, iteration, string(step), time.Now().Format(time.RFC3339))
	return err
}

// RecordIterationComplete marks an iteration row completed.
func (c *Collector) RecordIterationComplete(ctx context.Context, phaseID string, iteration int, step types.Step, duration time.Duration) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE iterations
		 SET status = 'completed', completed_at = ?, duration_seconds = ?
		 WHERE phase_id = ? AND iteration_number = ? AND step = ?`,
		time.Now().Format(time.RFC3339), duration.Seconds(), phaseID, iteration, string(step))
	return err
}

// RecordIterationFailed marks an iteration row failed with the error text.
func (c *Collector) RecordIterationFailed(ctx context.Context, phaseID string, iteration int, step types.Step, errMsg string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE iterations
		 SET status = 'failed', completed_at = ?, error_message = ?
		 WHERE phase_id = ? AND iteration_number = ? AND step = ?`,
		time.Now().Format(time.RFC3339), errMsg, phaseID, iteration, string(step))
	return err
}

// RecordBuildErrors inserts one row per build error in a single transaction.
func (c *Collector) RecordBuildErrors(ctx context.Context, phaseID string, iteration int, errs []types.BuildError) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range errs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO build_errors (phase_id, iteration_number, file_path, line_number, error_message)
			 VALUES (?, ?, ?, ?, ?)`,
			phaseID, iteration, e.FilePath, e.Line, e.Message); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordTestFailures inserts one row per test failure.
func (c *Collector) RecordTestFailures(ctx context.Context, phaseID string, iteration int, failures []types.TestFailure) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, f := range failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO test_failures (phase_id, iteration_number, test_class, test_name, failure_message)
			 VALUES (?, ?, ?, ?, ?)`,
			phaseID, iteration, f.TestClass, f.TestName, f.Message); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordRateLimit inserts one rate limit event.
func (c *Collector) RecordRateLimit(ctx context.Context, phaseID string, wait time.Duration) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO rate_limits (phase_id, wait_seconds) VALUES (?, ?)`,
		phaseID, int(wait.Seconds()))
	return err
}

// RecordCommit inserts one commit event.
func (c *Collector) RecordCommit(ctx context.Context, phaseID, hash, message string, filesChanged int) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO commits (phase_id, commit_hash, message, files_changed) VALUES (?, ?, ?, ?)`,
		phaseID, hash, message, filesChanged)
	return err
}

// RecordScreenshot inserts one screenshot event.
func (c *Collector) RecordScreenshot(ctx context.Context, phaseID, filePath string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO screenshots (phase_id, file_path) VALUES (?, ?)`,
		phaseID, filePath)
	return err
}

// RecordTokenUsage inserts one token usage sample.
func (c *Collector) RecordTokenUsage(ctx context.Context, phaseID string, iteration, inputTokens, outputTokens int, model string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO token_usage (phase_id, iteration_number, input_tokens, output_tokens, model)
		 VALUES (?, ?, ?, ?, ?)`,
		phaseID, iteration, inputTokens, outputTokens, model)
	return err
}
