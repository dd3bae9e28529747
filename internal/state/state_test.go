package state_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tbarron/phaser/internal/log"
	"github.com/tbarron/phaser/internal/state"
	"github.com/tbarron/phaser/internal/types"
)

func quietLogger() *log.Logger {
	l := log.New(false)
	l.Out = io.Discard
	return l
}

func open(t *testing.T, dir string) *state.Store {
	t.Helper()
	s, err := state.Open(dir, quietLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestOpenFresh(t *testing.T) {
	s := open(t, t.TempDir())
	st := s.State()
	if st.Status != types.StatusNotStarted {
		t.Errorf("Status = %s, want %s", st.Status, types.StatusNotStarted)
	}
	if st.CurrentStep != types.StepGenerate {
		t.Errorf("CurrentStep = %s, want %s", st.CurrentStep, types.StepGenerate)
	}
	if st.Iteration != 1 {
		t.Errorf("Iteration = %d, want 1", st.Iteration)
	}
}

func TestPersistenceAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	s := open(t, dir)
	if err := s.StartExecution(false); err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	if err := s.StartPhase("core", "1.1"); err != nil {
		t.Fatalf("StartPhase: %v", err)
	}
	if err := s.AdvanceStep(types.StepTest); err != nil {
		t.Fatalf("AdvanceStep: %v", err)
	}
	if _, err := s.RecordRetry(); err != nil {
		t.Fatalf("RecordRetry: %v", err)
	}
	runID := s.State().RunID
	if runID == "" {
		t.Fatal("RunID is empty after StartExecution")
	}

	s2 := open(t, dir)
	st := s2.State()
	if st.RunID != runID {
		t.Errorf("RunID = %q, want %q", st.RunID, runID)
	}
	if st.CurrentPhase != "1.1" || st.CurrentStep != types.StepTest || st.Iteration != 2 {
		t.Errorf("resumed state = phase %q step %s iter %d", st.CurrentPhase, st.CurrentStep, st.Iteration)
	}
}

func TestCorruptStateStartsFresh(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "current_state.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := open(t, dir)
	if got := s.State().Status; got != types.StatusNotStarted {
		t.Errorf("Status = %s, want %s", got, types.StatusNotStarted)
	}
}

func TestUnknownEnumsNormalized(t *testing.T) {
	dir := t.TempDir()
	blob := `{"current_step": "deploy", "status": "warp", "iteration": 3}`
	if err := os.WriteFile(filepath.Join(dir, "current_state.json"), []byte(blob), 0o644); err != nil {
		t.Fatal(err)
	}
	st := open(t, dir).State()
	if st.CurrentStep != types.StepGenerate {
		t.Errorf("CurrentStep = %s, want %s", st.CurrentStep, types.StepGenerate)
	}
	if st.Status != types.StatusNotStarted {
		t.Errorf("Status = %s, want %s", st.Status, types.StatusNotStarted)
	}
}

func TestCompleteAndFailAreExclusive(t *testing.T) {
	s := open(t, t.TempDir())
	if err := s.FailPhase("1.1", "build broke"); err != nil {
		t.Fatal(err)
	}
	if s.IsPhaseCompleted("1.1") {
		t.Error("failed phase reported completed")
	}
	if err := s.CompletePhase("1.1"); err != nil {
		t.Fatal(err)
	}
	st := s.State()
	if !s.IsPhaseCompleted("1.1") {
		t.Error("completed phase not reported completed")
	}
	if len(st.FailedPhases) != 0 {
		t.Errorf("FailedPhases = %v, want empty", st.FailedPhases)
	}

	// Completing twice must not duplicate the entry.
	if err := s.CompletePhase("1.1"); err != nil {
		t.Fatal(err)
	}
	if got := len(s.State().CompletedPhases); got != 1 {
		t.Errorf("CompletedPhases has %d entries, want 1", got)
	}
}

func TestStartPhaseResumesInPlace(t *testing.T) {
	dir := t.TempDir()
	s := open(t, dir)
	if err := s.StartExecution(false); err != nil {
		t.Fatal(err)
	}
	if err := s.StartPhase("core", "1.2"); err != nil {
		t.Fatal(err)
	}
	if err := s.AdvanceStep(types.StepBuild); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordRetry(); err != nil {
		t.Fatal(err)
	}
	if err := s.Pause(); err != nil {
		t.Fatal(err)
	}

	// Reopen and start the same phase: step and iteration survive.
	s2 := open(t, dir)
	if err := s2.StartPhase("core", "1.2"); err != nil {
		t.Fatal(err)
	}
	st := s2.State()
	if st.CurrentStep != types.StepBuild || st.Iteration != 2 {
		t.Errorf("resume gave step %s iter %d, want build/2", st.CurrentStep, st.Iteration)
	}

	// Starting a different phase resets position.
	if err := s2.StartPhase("core", "1.3"); err != nil {
		t.Fatal(err)
	}
	st = s2.State()
	if st.CurrentStep != types.StepGenerate || st.Iteration != 1 {
		t.Errorf("new phase gave step %s iter %d, want generate/1", st.CurrentStep, st.Iteration)
	}
}

func TestRateLimitRoundTrip(t *testing.T) {
	s := open(t, t.TempDir())
	until := time.Now().Add(2 * time.Minute)
	if err := s.RecordRateLimit(until); err != nil {
		t.Fatal(err)
	}
	st := s.State()
	if st.Status != types.StatusRateLimited || !st.IsRateLimited {
		t.Errorf("status = %s limited=%v", st.Status, st.IsRateLimited)
	}
	if st.ConsecutiveRateLimits != 1 || st.TotalRateLimits != 1 {
		t.Errorf("counters = %d/%d, want 1/1", st.ConsecutiveRateLimits, st.TotalRateLimits)
	}

	if err := s.ClearRateLimit(); err != nil {
		t.Fatal(err)
	}
	st = s.State()
	if st.Status != types.StatusRunning || st.RateLimitUntil != nil || st.ConsecutiveRateLimits != 0 {
		t.Errorf("after clear: status=%s until=%v consecutive=%d", st.Status, st.RateLimitUntil, st.ConsecutiveRateLimits)
	}
	if st.TotalRateLimits != 1 {
		t.Errorf("TotalRateLimits = %d, want 1 (total is never cleared)", st.TotalRateLimits)
	}
}

func TestResumeInfo(t *testing.T) {
	s := open(t, t.TempDir())
	if s.Resume().Resumable {
		t.Error("fresh state reported resumable")
	}
	if err := s.StartExecution(false); err != nil {
		t.Fatal(err)
	}
	if err := s.StartPhase("core", "1.1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Pause(); err != nil {
		t.Fatal(err)
	}
	info := s.Resume()
	if !info.Resumable || info.PhaseID != "1.1" {
		t.Errorf("Resume = %+v", info)
	}

	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if s.Resume().Resumable {
		t.Error("reset state reported resumable")
	}
}
