package orchestrator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tbarron/phaser/internal/config"
	"github.com/tbarron/phaser/internal/git"
	"github.com/tbarron/phaser/internal/intervene"
	"github.com/tbarron/phaser/internal/log"
	"github.com/tbarron/phaser/internal/ratelimit"
	"github.com/tbarron/phaser/internal/state"
	"github.com/tbarron/phaser/internal/types"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeAssistant struct {
	responses []*types.AssistantResponse
	prompts   []string
	applied   [][]types.FileChange
}

func (f *fakeAssistant) Send(_ context.Context, prompt, _ string) (*types.AssistantResponse, error) {
	f.prompts = append(f.prompts, prompt)
	i := len(f.prompts) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func (f *fakeAssistant) ApplyFileChanges(_ string, files []types.FileChange) ([]string, error) {
	f.applied = append(f.applied, files)
	paths := make([]string, len(files))
	for i, fc := range files {
		paths[i] = fc.Path
	}
	return paths, nil
}

func okResponse() *types.AssistantResponse {
	return &types.AssistantResponse{
		Success: true,
		Content: "done",
		Files:   []types.FileChange{{Path: "Sources/A.swift", Content: "struct A {}", Action: "create"}},
	}
}

type fakeBuilder struct {
	buildResults []*types.BuildResult
	testResults  []*types.TestResult
	builds       int
	tests        int
}

func (f *fakeBuilder) Build(context.Context) (*types.BuildResult, error) {
	i := f.builds
	f.builds++
	if i >= len(f.buildResults) {
		return &types.BuildResult{Success: true}, nil
	}
	return f.buildResults[i], nil
}

func (f *fakeBuilder) Test(context.Context) (*types.TestResult, error) {
	i := f.tests
	f.tests++
	if i >= len(f.testResults) {
		return &types.TestResult{Success: true, TotalTests: 1, PassedTests: 1}, nil
	}
	return f.testResults[i], nil
}

func (f *fakeBuilder) SimulatorUDID(context.Context) (string, error) {
	return "FAKE-UDID", nil
}

type fakeCommitter struct {
	commits []git.CommitInfo
}

func (f *fakeCommitter) CommitPhase(info git.CommitInfo) (string, int, error) {
	f.commits = append(f.commits, info)
	return "0123456789abcdef0123456789abcdef01234567", 2, nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	orch   *Orchestrator
	store  *state.Store
	asst   *fakeAssistant
	build  *fakeBuilder
	commit *fakeCommitter
	slept  []time.Duration
}

func newHarness(t *testing.T, modules []types.Module, asst *fakeAssistant, build *fakeBuilder) *harness {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Project.Path = filepath.Join(dir, "App.xcodeproj")
	cfg.PromptsDir = filepath.Join(dir, "phases")
	cfg.Automation.PauseBetweenPhases = 0
	cfg.Automation.ConfirmationTimeout = 0
	cfg.Automation.HeartbeatInterval = 0
	cfg.Automation.DelayBetweenCalls = 0
	cfg.Automation.DelayAfterFailure = 0

	if err := os.MkdirAll(cfg.PromptsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, m := range modules {
		for _, p := range m.Phases {
			path := filepath.Join(cfg.PromptsDir, p.PromptFile)
			if err := os.WriteFile(path, []byte("prompt for "+p.ID), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}

	logger := log.New(false)
	logger.Out = io.Discard

	store, err := state.Open(filepath.Join(dir, "state"), logger)
	if err != nil {
		t.Fatal(err)
	}

	limiter := ratelimit.New(60*time.Second, 900*time.Second, 2.0)
	limiter.WithClock(time.Now, func() float64 { return 0.5 })

	commit := &fakeCommitter{}
	h := &harness{store: store, asst: asst, build: build, commit: commit}

	h.orch = New(&cfg, config.NewPlan(modules), logger, Deps{
		Store:     store,
		Assistant: asst,
		Builder:   build,
		Committer: commit,
		Limiter:   limiter,
		Detector:  intervene.NewDetector(cfg.Automation.MaxSameErrorRetries),
	})
	h.orch.sleep = func(ctx context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return ctx.Err()
	}
	return h
}

func onePhase(id string, opts ...func(*types.Phase)) []types.Module {
	p := types.Phase{
		ID:            id,
		Name:          "Phase " + id,
		PromptFile:    "phase-" + id + ".md",
		TestsRequired: true,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return []types.Module{{ID: "core", Name: "Core", Phases: []types.Phase{p}}}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRunPhaseHappyPath(t *testing.T) {
	asst := &fakeAssistant{responses: []*types.AssistantResponse{okResponse()}}
	build := &fakeBuilder{}
	h := newHarness(t, onePhase("1.1"), asst, build)

	result, err := h.orch.RunPhase(context.Background(), "1.1")
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}
	if result.CommitHash == "" {
		t.Error("no commit hash")
	}
	if len(h.commit.commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(h.commit.commits))
	}
	if h.commit.commits[0].PhaseID != "1.1" || h.commit.commits[0].Module != "core" {
		t.Errorf("commit info = %+v", h.commit.commits[0])
	}
	if !h.store.IsPhaseCompleted("1.1") {
		t.Error("phase not marked completed")
	}
	if len(asst.applied) != 1 {
		t.Errorf("file changes applied %d times, want 1", len(asst.applied))
	}
}

func TestRunPhaseBuildFailureRetriesWithFixPrompt(t *testing.T) {
	asst := &fakeAssistant{responses: []*types.AssistantResponse{okResponse(), okResponse()}}
	build := &fakeBuilder{
		buildResults: []*types.BuildResult{
			{Success: false, Errors: []types.BuildError{
				{FilePath: "Sources/A.swift", Line: 3, Message: "cannot find type 'B' in scope", ErrorType: "error"},
			}},
		},
	}
	h := newHarness(t, onePhase("1.1"), asst, build)

	result, err := h.orch.RunPhase(context.Background(), "1.1")
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}
	if result.BuildErrorsFixed != 1 {
		t.Errorf("BuildErrorsFixed = %d, want 1", result.BuildErrorsFixed)
	}
	if len(asst.prompts) != 2 {
		t.Fatalf("assistant called %d times, want 2", len(asst.prompts))
	}
	if asst.prompts[0] != "prompt for 1.1" {
		t.Errorf("first prompt = %q", asst.prompts[0])
	}
	if !strings.Contains(asst.prompts[1], "## Build Errors") ||
		!strings.Contains(asst.prompts[1], "cannot find type 'B' in scope") ||
		!strings.Contains(asst.prompts[1], "prompt for 1.1") {
		t.Errorf("second prompt is not a fix prompt:\n%s", asst.prompts[1])
	}
	if h.build.builds != 2 {
		t.Errorf("builds = %d, want 2", h.build.builds)
	}
}

func TestRunPhaseTestFailureRetries(t *testing.T) {
	asst := &fakeAssistant{responses: []*types.AssistantResponse{okResponse(), okResponse()}}
	build := &fakeBuilder{
		testResults: []*types.TestResult{
			{Success: false, FailedTests: 1, TotalTests: 3, Failures: []types.TestFailure{
				{TestClass: "ATests", TestName: "testA", Message: "XCTAssertTrue failed"},
			}},
		},
	}
	h := newHarness(t, onePhase("1.1"), asst, build)

	result, err := h.orch.RunPhase(context.Background(), "1.1")
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if !result.Success || result.Iterations != 2 || result.TestFailuresFixed != 1 {
		t.Errorf("result = %+v", result)
	}
	if !strings.Contains(asst.prompts[1], "## Test Failures") {
		t.Errorf("second prompt is not a test fix prompt:\n%s", asst.prompts[1])
	}
}

func TestRunPhaseBlockingInterventionFailsAndPauses(t *testing.T) {
	asst := &fakeAssistant{responses: []*types.AssistantResponse{okResponse()}}
	build := &fakeBuilder{
		buildResults: []*types.BuildResult{
			{Success: false, Errors: []types.BuildError{
				{FilePath: "Tests/ATests.swift", Line: 1, Message: "No such module 'XCTest'", ErrorType: "error"},
			}},
		},
	}
	h := newHarness(t, onePhase("1.1"), asst, build)

	result, err := h.orch.RunPhase(context.Background(), "1.1")
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if result.Success {
		t.Fatal("phase succeeded despite blocking intervention")
	}
	if !strings.Contains(result.ErrorMessage, "Manual intervention required") {
		t.Errorf("ErrorMessage = %q", result.ErrorMessage)
	}
	st := h.store.State()
	if st.Status != types.StatusFailed {
		t.Errorf("Status = %s, want %s", st.Status, types.StatusFailed)
	}
	if len(st.FailedPhases) != 1 || st.FailedPhases[0] != "1.1" {
		t.Errorf("FailedPhases = %v", st.FailedPhases)
	}
	// The assistant must not be asked to fix a configuration problem.
	if len(asst.prompts) != 1 {
		t.Errorf("assistant called %d times, want 1", len(asst.prompts))
	}
}

func TestRunPhaseRateLimitBacksOffWithoutConsumingIteration(t *testing.T) {
	asst := &fakeAssistant{responses: []*types.AssistantResponse{
		{RateLimited: true, RetryAfter: 30 * time.Second, Error: "rate limit"},
		okResponse(),
	}}
	h := newHarness(t, onePhase("1.1"), asst, &fakeBuilder{})

	result, err := h.orch.RunPhase(context.Background(), "1.1")
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if !result.Success || result.Iterations != 1 {
		t.Errorf("result = %+v, want success at iteration 1", result)
	}

	var total time.Duration
	for _, d := range h.slept {
		total += d
	}
	if total != 30*time.Second {
		t.Errorf("slept %v total, want exactly the 30s hint", total)
	}

	st := h.store.State()
	if st.TotalRateLimits != 1 {
		t.Errorf("TotalRateLimits = %d, want 1", st.TotalRateLimits)
	}
	if st.IsRateLimited || st.ConsecutiveRateLimits != 0 {
		t.Errorf("rate limit not cleared: %+v", st)
	}
}

func TestRunPhaseSkipsTestsWhenNotRequired(t *testing.T) {
	asst := &fakeAssistant{responses: []*types.AssistantResponse{okResponse()}}
	build := &fakeBuilder{}
	h := newHarness(t, onePhase("1.1", func(p *types.Phase) { p.TestsRequired = false }), asst, build)

	result, err := h.orch.RunPhase(context.Background(), "1.1")
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if build.tests != 0 {
		t.Errorf("Test invoked %d times for a tests_required=false phase", build.tests)
	}
}

func TestRunPhaseRetryCeiling(t *testing.T) {
	asst := &fakeAssistant{responses: []*types.AssistantResponse{
		{Success: false, Error: "generation failed"},
	}}
	h := newHarness(t, onePhase("1.1"), asst, &fakeBuilder{})
	h.orch.cfg.Automation.MaxRetriesPerPhase = 2

	result, err := h.orch.RunPhase(context.Background(), "1.1")
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if result.Success {
		t.Fatal("result succeeded past the retry ceiling")
	}
	if result.Iterations != 3 {
		t.Errorf("Iterations = %d, want maxRetries+1 = 3", result.Iterations)
	}
	if !strings.Contains(result.ErrorMessage, "Max retries (2) exceeded") {
		t.Errorf("ErrorMessage = %q", result.ErrorMessage)
	}
}

func TestRunPhaseResumesAtPersistedStep(t *testing.T) {
	asst := &fakeAssistant{responses: []*types.AssistantResponse{okResponse()}}
	build := &fakeBuilder{}
	h := newHarness(t, onePhase("1.1"), asst, build)

	// Simulate an earlier run interrupted during TEST at iteration 2.
	if err := h.store.StartPhase("core", "1.1"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.RecordRetry(); err != nil {
		t.Fatal(err)
	}
	if err := h.store.AdvanceStep(types.StepTest); err != nil {
		t.Fatal(err)
	}
	if err := h.store.Pause(); err != nil {
		t.Fatal(err)
	}

	result, err := h.orch.RunPhase(context.Background(), "1.1")
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want persisted iteration 2", result.Iterations)
	}
	// GENERATE and BUILD already ran in the earlier run; only TEST onward
	// executes now.
	if len(asst.prompts) != 0 {
		t.Errorf("assistant called %d times on resume into TEST", len(asst.prompts))
	}
	if build.builds != 0 {
		t.Errorf("Build invoked %d times on resume into TEST", build.builds)
	}
	if build.tests != 1 {
		t.Errorf("Test invoked %d times, want 1", build.tests)
	}
}

func TestRunPhaseCancelledContextPersistsPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	asst := &fakeAssistant{responses: []*types.AssistantResponse{okResponse()}}
	h := newHarness(t, onePhase("1.1"), asst, &fakeBuilder{})

	if _, err := h.orch.RunPhase(ctx, "1.1"); err == nil {
		t.Fatal("RunPhase returned nil error for cancelled context")
	}
	if got := h.store.State().Status; got != types.StatusPaused {
		t.Errorf("Status = %s, want %s", got, types.StatusPaused)
	}
}

func TestRunPhaseUnknownPhase(t *testing.T) {
	h := newHarness(t, onePhase("1.1"), &fakeAssistant{responses: []*types.AssistantResponse{okResponse()}}, &fakeBuilder{})
	result, err := h.orch.RunPhase(context.Background(), "9.9")
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if result.Success || !strings.Contains(result.ErrorMessage, "not found") {
		t.Errorf("result = %+v", result)
	}
}

func TestRunAllSkipsCompletedPhases(t *testing.T) {
	modules := []types.Module{{ID: "core", Name: "Core", Phases: []types.Phase{
		{ID: "1.1", Name: "One", PromptFile: "phase-1.1.md", TestsRequired: false},
		{ID: "1.2", Name: "Two", PromptFile: "phase-1.2.md", TestsRequired: false},
	}}}
	asst := &fakeAssistant{responses: []*types.AssistantResponse{okResponse()}}
	h := newHarness(t, modules, asst, &fakeBuilder{})

	if err := h.store.CompletePhase("1.1"); err != nil {
		t.Fatal(err)
	}

	done, err := h.orch.RunAll(context.Background(), false)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if !done {
		t.Fatal("RunAll = false")
	}
	if len(asst.prompts) != 1 || asst.prompts[0] != "prompt for 1.2" {
		t.Errorf("prompts = %v, want only phase 1.2", asst.prompts)
	}
	if got := h.store.State().Status; got != types.StatusComplete {
		t.Errorf("Status = %s, want %s", got, types.StatusComplete)
	}
}

func TestRunAllStopsOnFailedPhase(t *testing.T) {
	modules := []types.Module{{ID: "core", Name: "Core", Phases: []types.Phase{
		{ID: "1.1", Name: "One", PromptFile: "phase-1.1.md", TestsRequired: false},
		{ID: "1.2", Name: "Two", PromptFile: "phase-1.2.md", TestsRequired: false},
	}}}
	asst := &fakeAssistant{responses: []*types.AssistantResponse{okResponse()}}
	build := &fakeBuilder{
		buildResults: []*types.BuildResult{
			{Success: false, Errors: []types.BuildError{
				{Message: "ld: framework not found CoreML", ErrorType: "error"},
			}},
		},
	}
	h := newHarness(t, modules, asst, build)

	done, err := h.orch.RunAll(context.Background(), false)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if done {
		t.Fatal("RunAll = true despite failed phase")
	}
	// Phase 1.2 never started.
	for _, p := range asst.prompts {
		if strings.Contains(p, "1.2") {
			t.Errorf("phase 1.2 ran after 1.1 failed")
		}
	}
}

func TestRunAllFreshDiscardsProgress(t *testing.T) {
	modules := onePhase("1.1", func(p *types.Phase) { p.TestsRequired = false })
	asst := &fakeAssistant{responses: []*types.AssistantResponse{okResponse()}}
	h := newHarness(t, modules, asst, &fakeBuilder{})

	if err := h.store.CompletePhase("1.1"); err != nil {
		t.Fatal(err)
	}

	done, err := h.orch.RunAll(context.Background(), true)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if !done {
		t.Fatal("RunAll = false")
	}
	// Fresh run re-executes the previously completed phase.
	if len(asst.prompts) != 1 {
		t.Errorf("assistant called %d times, want 1", len(asst.prompts))
	}
}

func TestWaitForConfirmationQuit(t *testing.T) {
	h := newHarness(t, onePhase("1.1"), &fakeAssistant{responses: []*types.AssistantResponse{okResponse()}}, &fakeBuilder{})
	h.orch.cfg.Automation.ConfirmationTimeout = 5
	h.orch.ConfirmIn = strings.NewReader("\nq\n")

	// One reader owns the stream across gates: the first gate consumes the
	// Enter line, the second still sees the "q" typed after it.
	if !h.orch.waitForConfirmation(context.Background(), "One") {
		t.Error("confirmation returned false for Enter")
	}
	if h.orch.waitForConfirmation(context.Background(), "Two") {
		t.Error("confirmation returned true for 'q'")
	}
}

func TestWaitForConfirmationClosedInput(t *testing.T) {
	h := newHarness(t, onePhase("1.1"), &fakeAssistant{responses: []*types.AssistantResponse{okResponse()}}, &fakeBuilder{})
	h.orch.cfg.Automation.ConfirmationTimeout = 5
	h.orch.ConfirmIn = strings.NewReader("")

	// Exhausted input closes the line channel; gates keep running instead
	// of blocking until the timeout.
	for i := 0; i < 3; i++ {
		if !h.orch.waitForConfirmation(context.Background(), "One") {
			t.Fatalf("gate %d returned false on closed input", i+1)
		}
	}
}

func TestCountdownInterval(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want time.Duration
	}{
		{30 * time.Second, 10 * time.Second},
		{5 * time.Minute, 30 * time.Second},
		{2 * time.Hour, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := countdownInterval(tt.wait); got != tt.want {
			t.Errorf("countdownInterval(%v) = %v, want %v", tt.wait, got, tt.want)
		}
	}
}
