// Package xcode drives xcodebuild and the simulator: building, testing,
// cleaning, and parsing the resulting output into structured errors and
// failures. A timed-out build or test run is reported as a failed result,
// not an error, so the orchestrator treats it like any other failure.
package xcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tbarron/phaser/internal/config"
	"github.com/tbarron/phaser/internal/log"
	"github.com/tbarron/phaser/internal/types"
)

// keptOutputLines bounds how much raw tool output results carry.
const keptOutputLines = 50

// Runner executes xcodebuild against one project and destination.
type Runner struct {
	cfg    *config.Config
	logger *log.Logger

	cachedUDID string

	// run is swapped out in tests.
	run func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// NewRunner returns a Runner for the configured project.
func NewRunner(cfg *config.Config, logger *log.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// destination builds the xcodebuild -destination argument. An explicit
// UDID in config wins over name and OS matching.
func (r *Runner) destination() string {
	if r.cfg.Simulator.UDID != "" {
		return "id=" + r.cfg.Simulator.UDID
	}
	return fmt.Sprintf("platform=iOS Simulator,name=%s,OS=%s", r.cfg.Simulator.Name, r.cfg.Simulator.OS)
}

// projectArgs selects -project or -workspace based on the path suffix.
func (r *Runner) projectArgs() []string {
	flag := "-project"
	if strings.HasSuffix(r.cfg.Project.Path, ".xcworkspace") {
		flag = "-workspace"
	}
	return []string{flag, r.cfg.Project.Path}
}

// Build compiles the project and parses diagnostics from the output.
// Build only returns an error for cancellation; compile failures and
// timeouts come back inside the result.
func (r *Runner) Build(ctx context.Context) (*types.BuildResult, error) {
	start := time.Now()

	args := append(r.projectArgs(),
		"-scheme", r.cfg.Project.Scheme,
		"-destination", r.destination(),
		"-configuration", "Debug",
		"build",
	)

	buildCtx, cancel := context.WithTimeout(ctx, r.cfg.BuildTimeout())
	defer cancel()

	stdout, stderr, err := r.run(buildCtx, "xcodebuild", args...)
	duration := time.Since(start)

	if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
		msg := fmt.Sprintf("Build timed out after %s", log.FormatDuration(r.cfg.BuildTimeout()))
		return &types.BuildResult{
			Success:     false,
			ErrorOutput: msg,
			Duration:    duration,
			Errors:      []types.BuildError{{Message: msg, ErrorType: "error"}},
		}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	buildErrors, warnings := ParseBuildOutput(stdout + "\n" + stderr)
	success := err == nil && len(buildErrors) == 0

	return &types.BuildResult{
		Success:     success,
		Output:      tailLines(stdout, keptOutputLines),
		ErrorOutput: tailLines(stderr, keptOutputLines),
		Duration:    duration,
		Errors:      buildErrors,
		Warnings:    warnings,
	}, nil
}

// Test runs the test scheme and parses results. Like Build, failures and
// timeouts are results rather than errors.
func (r *Runner) Test(ctx context.Context) (*types.TestResult, error) {
	start := time.Now()

	args := append(r.projectArgs(),
		"-scheme", r.cfg.Project.TestScheme,
		"-destination", r.destination(),
		"-configuration", "Debug",
		"test",
	)

	testCtx, cancel := context.WithTimeout(ctx, r.cfg.TestTimeout())
	defer cancel()

	stdout, stderr, err := r.run(testCtx, "xcodebuild", args...)
	duration := time.Since(start)

	if errors.Is(testCtx.Err(), context.DeadlineExceeded) {
		msg := fmt.Sprintf("Tests timed out after %s", log.FormatDuration(r.cfg.TestTimeout()))
		return &types.TestResult{
			Success:     false,
			ErrorOutput: msg,
			Duration:    duration,
			Failures:    []types.TestFailure{{Message: msg}},
		}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	combined := stdout + "\n" + stderr
	failures, total, passed, failed := ParseTestOutput(combined)
	success := err == nil && failed == 0

	return &types.TestResult{
		Success:     success,
		Output:      tailLines(stdout, keptOutputLines),
		ErrorOutput: tailLines(stderr, keptOutputLines),
		Duration:    duration,
		TotalTests:  total,
		PassedTests: passed,
		FailedTests: failed,
		Failures:    failures,
	}, nil
}

// Clean removes build products. Failures are logged and swallowed.
func (r *Runner) Clean(ctx context.Context) {
	args := append(r.projectArgs(), "-scheme", r.cfg.Project.Scheme, "clean")

	cleanCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, stderr, err := r.run(cleanCtx, "xcodebuild", args...); err != nil {
		r.logger.Warning(fmt.Sprintf("Clean failed: %v %s", err, strings.TrimSpace(stderr)))
		return
	}
	r.logger.Debug("Build cleaned")
}
