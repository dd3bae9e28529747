package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/tbarron/phaser/internal/git"
	"github.com/tbarron/phaser/internal/types"
)

// The orchestrator consumes its collaborators through narrow interfaces so
// tests can substitute fakes for the assistant CLI, xcodebuild, and git.

// Assistant sends prompts and applies the resulting file changes.
type Assistant interface {
	Send(ctx context.Context, prompt, contextText string) (*types.AssistantResponse, error)
	ApplyFileChanges(projectDir string, files []types.FileChange) ([]string, error)
}

// Builder runs builds and tests against the project.
type Builder interface {
	Build(ctx context.Context) (*types.BuildResult, error)
	Test(ctx context.Context) (*types.TestResult, error)
	SimulatorUDID(ctx context.Context) (string, error)
}

// Screenshotter captures a simulator screenshot, returning an empty path
// on failure.
type Screenshotter interface {
	Capture(ctx context.Context, udid, phaseID string) string
}

// Committer commits a completed phase. A clean tree returns an empty hash
// with no error.
type Committer interface {
	CommitPhase(info git.CommitInfo) (hash string, filesChanged int, err error)
}

// Recorder is the analytics sink. All methods are fire-and-forget from the
// orchestrator's perspective; errors are logged, never acted on.
type Recorder interface {
	StartPhase(ctx context.Context, phaseID, moduleID, name string) error
	CompletePhase(ctx context.Context, phaseID string, iterations int, duration time.Duration) error
	FailPhase(ctx context.Context, phaseID string, iterations int, duration time.Duration) error
	RecordIterationStart(ctx context.Context, phaseID string, iteration int, step types.Step) error
	RecordIterationComplete(ctx context.Context, phaseID string, iteration int, step types.Step, duration time.Duration) error
	RecordIterationFailed(ctx context.Context, phaseID string, iteration int, step types.Step, errMsg string) error
	RecordBuildErrors(ctx context.Context, phaseID string, iteration int, errs []types.BuildError) error
	RecordTestFailures(ctx context.Context, phaseID string, iteration int, failures []types.TestFailure) error
	RecordRateLimit(ctx context.Context, phaseID string, wait time.Duration) error
	RecordCommit(ctx context.Context, phaseID, hash, message string, filesChanged int) error
	RecordScreenshot(ctx context.Context, phaseID, filePath string) error
	RecordTokenUsage(ctx context.Context, phaseID string, iteration, inputTokens, outputTokens int, model string) error
}

// Dashboard regenerates the JSON projections. Implementations never fail.
type Dashboard interface {
	UpdateStatus(ctx context.Context, st types.ExecutionState, phaseName string, totalPhases int)
	UpdateHistory(ctx context.Context)
	UpdateAnalytics(ctx context.Context)
}

// RepoCommitter is the production Committer backed by the git package.
type RepoCommitter struct {
	Dir      string
	Template string
	AutoPush bool
}

// CommitPhase renders the configured commit message template and commits
// the working tree. Nothing to commit is not an error.
func (r *RepoCommitter) CommitPhase(info git.CommitInfo) (string, int, error) {
	message, err := git.RenderMessage(r.Template, info)
	if err != nil {
		return "", 0, err
	}

	files, err := git.ChangedFiles(r.Dir)
	if err != nil {
		return "", 0, err
	}

	hash, err := git.CommitAll(r.Dir, message)
	if err != nil {
		if errors.Is(err, git.ErrNothingToCommit) {
			return "", 0, nil
		}
		return "", 0, err
	}

	if r.AutoPush {
		if err := git.Push(r.Dir); err != nil {
			// The commit landed; a failed push should not fail the phase.
			return hash, len(files), err
		}
	}
	return hash, len(files), nil
}
