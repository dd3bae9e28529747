// Package types defines all shared structs and typed constants used by the
// phaser automation loop. JSON struct tags on persisted types match the
// snake_case schema of the state file so a run can be resumed across
// versions.
package types

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Typed constants
// ---------------------------------------------------------------------------

// Step represents one step within a phase execution.
type Step string

const (
	StepGenerate   Step = "generate"
	StepBuild      Step = "build"
	StepTest       Step = "test"
	StepScreenshot Step = "screenshot"
	StepCommit     Step = "commit"
	StepComplete   Step = "complete"
)

// Valid reports whether s is one of the six known steps.
func (s Step) Valid() bool {
	switch s {
	case StepGenerate, StepBuild, StepTest, StepScreenshot, StepCommit, StepComplete:
		return true
	}
	return false
}

// Status represents the overall execution status.
type Status string

const (
	StatusNotStarted  Status = "not_started"
	StatusRunning     Status = "running"
	StatusPaused      Status = "paused"
	StatusRateLimited Status = "rate_limited"
	StatusFailed      Status = "failed"
	StatusComplete    Status = "complete"
)

// Valid reports whether s is one of the six known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusRunning, StatusPaused, StatusRateLimited, StatusFailed, StatusComplete:
		return true
	}
	return false
}

// Resumable reports whether a run persisted with this status can be picked up
// where it left off.
func (s Status) Resumable() bool {
	return s == StatusRunning || s == StatusPaused || s == StatusRateLimited
}

// ---------------------------------------------------------------------------
// phases.yaml types
// ---------------------------------------------------------------------------

// Phase is a single unit of generate/build/test/commit work. Immutable once
// loaded from phases.yaml.
type Phase struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	PromptFile    string   `yaml:"prompt_file"`
	Description   string   `yaml:"description"`
	ExpectedFiles []string `yaml:"expected_files"`
	TestsRequired bool     `yaml:"tests_required"`
	Screenshot    bool     `yaml:"screenshot"`
}

// Module groups an ordered list of phases.
type Module struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Phases      []Phase `yaml:"phases"`
}

// ---------------------------------------------------------------------------
// Build and test results
// ---------------------------------------------------------------------------

// BuildError is a single diagnostic parsed from xcodebuild output.
// FilePath may be empty for linker or toolchain-level errors.
type BuildError struct {
	FilePath  string `json:"file_path"`
	Line      int    `json:"line_number"`
	Column    int    `json:"column_number"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"` // "error" or "warning"
}

func (e BuildError) String() string {
	loc := e.FilePath
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
		if e.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, e.Column)
		}
	}
	typ := e.ErrorType
	if typ == "" {
		typ = "error"
	}
	return fmt.Sprintf("%s: %s: %s", loc, typ, e.Message)
}

// TestFailure is a single failed test case.
type TestFailure struct {
	TestName  string `json:"test_name"`
	TestClass string `json:"test_class"`
	Message   string `json:"failure_message"`
	FilePath  string `json:"file_path"`
	Line      int    `json:"line_number"`
}

func (f TestFailure) String() string {
	return fmt.Sprintf("%s.%s: %s", f.TestClass, f.TestName, f.Message)
}

// BuildResult is the outcome of one build invocation.
type BuildResult struct {
	Success     bool
	Output      string
	ErrorOutput string
	Duration    time.Duration
	Errors      []BuildError
	Warnings    []BuildError
}

// TestResult is the outcome of one test invocation.
type TestResult struct {
	Success     bool
	Output      string
	ErrorOutput string
	Duration    time.Duration
	TotalTests  int
	PassedTests int
	FailedTests int
	Failures    []TestFailure
}

// ---------------------------------------------------------------------------
// Assistant types
// ---------------------------------------------------------------------------

// FileChange is one file edit extracted from an assistant response.
type FileChange struct {
	Path    string
	Content string
	Action  string // create, update, delete
}

// AssistantResponse is the result of one prompt sent to the coding assistant.
//
// Rate limiting is ordinary result data, not an error: when RateLimited is
// true the caller should back off and re-enter the same step. RetryAfter is
// the server-provided wait, or 0 when the server gave none.
type AssistantResponse struct {
	Success      bool
	Content      string
	Files        []FileChange
	InputTokens  int
	OutputTokens int
	Model        string
	Error        string
	RateLimited  bool
	RetryAfter   time.Duration
}

// ---------------------------------------------------------------------------
// Phase results and interventions
// ---------------------------------------------------------------------------

// PhaseResult is returned by the executor after a phase reaches a terminal
// outcome.
type PhaseResult struct {
	PhaseID           string
	Success           bool
	Iterations        int
	Duration          time.Duration
	BuildErrorsFixed  int
	TestFailuresFixed int
	ScreenshotPath    string
	CommitHash        string
	ErrorMessage      string
}

// Intervention describes a condition that requires a human to act before
// automation can continue.
type Intervention struct {
	Category      string
	Title         string
	Description   string
	Steps         []string
	AffectedFiles []string
	Blocking      bool
}

// ---------------------------------------------------------------------------
// Persisted execution state
// ---------------------------------------------------------------------------

// ExecutionState is the persisted, resumable core entity. It is owned
// exclusively by the state store; the executor mutates it only through the
// store's transition operations.
type ExecutionState struct {
	RunID         string `json:"run_id"`
	CurrentModule string `json:"current_module"`
	CurrentPhase  string `json:"current_phase"`
	CurrentStep   Step   `json:"current_step"`
	Iteration     int    `json:"iteration"`
	Status        Status `json:"status"`

	CompletedPhases []string `json:"completed_phases"`
	FailedPhases    []string `json:"failed_phases"`

	IsRateLimited         bool       `json:"is_rate_limited"`
	RateLimitUntil        *time.Time `json:"rate_limit_until"`
	ConsecutiveRateLimits int        `json:"consecutive_rate_limits"`

	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`

	LastError           string `json:"last_error"`
	ConsecutiveFailures int    `json:"consecutive_failures"`

	TotalIterations   int `json:"total_iterations"`
	TotalBuildErrors  int `json:"total_build_errors"`
	TotalTestFailures int `json:"total_test_failures"`
	TotalRateLimits   int `json:"total_rate_limits"`
}

// IsPhaseCompleted reports whether phaseID is in the completed set.
func (s *ExecutionState) IsPhaseCompleted(phaseID string) bool {
	for _, id := range s.CompletedPhases {
		if id == phaseID {
			return true
		}
	}
	return false
}

// Normalize replaces unknown enum values with safe defaults. Called after
// loading persisted state so a file written by a different version degrades
// to "start fresh" semantics instead of crashing.
func (s *ExecutionState) Normalize() {
	if !s.CurrentStep.Valid() {
		s.CurrentStep = StepGenerate
	}
	if !s.Status.Valid() {
		s.Status = StatusNotStarted
	}
}
