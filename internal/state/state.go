// Package state persists execution progress so an interrupted run can resume
// at the exact phase, step, and iteration where it stopped. State lives in
// current_state.json under the state directory; every mutation is written
// atomically before the mutator returns.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tbarron/phaser/internal/log"
	"github.com/tbarron/phaser/internal/types"
)

const (
	stateFile   = "current_state.json"
	historyFile = "history.json"
)

// Store owns the on-disk execution state. All mutators save before
// returning, so a crash between calls never loses more than the current
// mutation. Store is not safe for concurrent use; the orchestrator is the
// single writer.
type Store struct {
	dir    string
	logger *log.Logger
	state  *types.ExecutionState
}

// historyEntry is one line of the append-only event log.
type historyEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	PhaseID   string    `json:"phase_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Open loads the state file from dir, creating the directory if needed.
// A missing file yields a fresh NOT_STARTED state. A corrupt file is
// logged as a warning and replaced by a fresh state rather than aborting
// the run.
func Open(dir string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &Store{dir: dir, logger: logger}

	data, err := os.ReadFile(filepath.Join(dir, stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			s.state = freshState()
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var st types.ExecutionState
	if err := json.Unmarshal(data, &st); err != nil {
		logger.Warning(fmt.Sprintf("State file is corrupt, starting fresh: %v", err))
		s.state = freshState()
		return s, nil
	}
	st.Normalize()
	s.state = &st
	return s, nil
}

func freshState() *types.ExecutionState {
	return &types.ExecutionState{
		CurrentStep: types.StepGenerate,
		Status:      types.StatusNotStarted,
		Iteration:   1,
	}
}

// State returns a copy of the current state for inspection.
func (s *Store) State() types.ExecutionState {
	return *s.state
}

// save writes the state atomically: marshal to a temp file in the same
// directory, then rename over the real file.
func (s *Store) save() error {
	s.state.LastUpdated = time.Now()

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	path := filepath.Join(s.dir, stateFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// appendHistory records an event in history.json. History is informational;
// failures are logged and swallowed so they never interrupt the run.
func (s *Store) appendHistory(event, phaseID, detail string) {
	path := filepath.Join(s.dir, historyFile)

	var entries []historyEntry
	if data, err := os.ReadFile(path); err == nil {
		// Ignore decode errors; a damaged history restarts empty.
		_ = json.Unmarshal(data, &entries)
	}
	entries = append(entries, historyEntry{
		Timestamp: time.Now(),
		Event:     event,
		PhaseID:   phaseID,
		Detail:    detail,
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Debug(fmt.Sprintf("history write failed: %v", err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.logger.Debug(fmt.Sprintf("history rename failed: %v", err))
	}
}

// ---------------------------------------------------------------------------
// Mutators
// ---------------------------------------------------------------------------

// StartExecution begins a new run: stamps a fresh run id and start time and
// moves to RUNNING. Completed phase history is preserved unless fresh is set.
func (s *Store) StartExecution(fresh bool) error {
	if fresh {
		s.state = freshState()
	}
	s.state.RunID = ulid.Make().String()
	s.state.Status = types.StatusRunning
	s.state.StartedAt = time.Now()
	s.state.LastError = ""
	s.state.ConsecutiveFailures = 0
	s.appendHistory("execution_started", "", s.state.RunID)
	return s.save()
}

// StartPhase positions the state at the beginning of a phase. When the
// store already points at this phase in a resumable status, the persisted
// step and iteration are kept so the run continues where it stopped;
// otherwise the phase starts at GENERATE, iteration 1.
func (s *Store) StartPhase(moduleID, phaseID string) error {
	resuming := s.state.CurrentPhase == phaseID && s.state.Status.Resumable()
	if !resuming {
		s.state.CurrentStep = types.StepGenerate
		s.state.Iteration = 1
	}
	s.state.CurrentModule = moduleID
	s.state.CurrentPhase = phaseID
	s.state.Status = types.StatusRunning
	s.appendHistory("phase_started", phaseID, "")
	return s.save()
}

// AdvanceStep moves the current phase to the given step.
func (s *Store) AdvanceStep(step types.Step) error {
	s.state.CurrentStep = step
	return s.save()
}

// RecordRetry bumps the iteration counter after a failed fix attempt and
// returns the new iteration number.
func (s *Store) RecordRetry() (int, error) {
	s.state.Iteration++
	s.state.TotalIterations++
	return s.state.Iteration, s.save()
}

// RecordBuildErrors adds to the running build error total.
func (s *Store) RecordBuildErrors(n int) error {
	s.state.TotalBuildErrors += n
	return s.save()
}

// RecordTestFailures adds to the running test failure total.
func (s *Store) RecordTestFailures(n int) error {
	s.state.TotalTestFailures += n
	return s.save()
}

// CompletePhase marks a phase complete. The id is added to the completed
// list (once) and removed from the failed list if a previous run failed it.
func (s *Store) CompletePhase(phaseID string) error {
	if !s.state.IsPhaseCompleted(phaseID) {
		s.state.CompletedPhases = append(s.state.CompletedPhases, phaseID)
	}
	s.state.FailedPhases = remove(s.state.FailedPhases, phaseID)
	s.state.CurrentStep = types.StepComplete
	s.state.ConsecutiveFailures = 0
	s.state.LastError = ""
	s.appendHistory("phase_completed", phaseID, "")
	return s.save()
}

// FailPhase marks a phase failed with a reason. The id is removed from the
// completed list so the two sets stay mutually exclusive.
func (s *Store) FailPhase(phaseID, reason string) error {
	if !contains(s.state.FailedPhases, phaseID) {
		s.state.FailedPhases = append(s.state.FailedPhases, phaseID)
	}
	s.state.CompletedPhases = remove(s.state.CompletedPhases, phaseID)
	s.state.Status = types.StatusFailed
	s.state.LastError = reason
	s.state.ConsecutiveFailures++
	s.appendHistory("phase_failed", phaseID, reason)
	return s.save()
}

// RecordRateLimit enters the rate-limited status with a resume deadline.
func (s *Store) RecordRateLimit(until time.Time) error {
	s.state.Status = types.StatusRateLimited
	s.state.IsRateLimited = true
	s.state.RateLimitUntil = &until
	s.state.ConsecutiveRateLimits++
	s.state.TotalRateLimits++
	s.appendHistory("rate_limited", s.state.CurrentPhase, until.Format(time.RFC3339))
	return s.save()
}

// ClearRateLimit returns to RUNNING after a successful call and resets the
// consecutive counter.
func (s *Store) ClearRateLimit() error {
	s.state.Status = types.StatusRunning
	s.state.IsRateLimited = false
	s.state.RateLimitUntil = nil
	s.state.ConsecutiveRateLimits = 0
	return s.save()
}

// Pause records a user-initiated stop so the next run resumes in place.
func (s *Store) Pause() error {
	s.state.Status = types.StatusPaused
	s.appendHistory("paused", s.state.CurrentPhase, "")
	return s.save()
}

// CompleteExecution marks the whole run finished.
func (s *Store) CompleteExecution() error {
	s.state.Status = types.StatusComplete
	s.appendHistory("execution_completed", "", "")
	return s.save()
}

// Reset discards all progress and writes a fresh state.
func (s *Store) Reset() error {
	s.state = freshState()
	s.appendHistory("reset", "", "")
	return s.save()
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// IsPhaseCompleted reports whether the phase finished in this or a prior run.
func (s *Store) IsPhaseCompleted(phaseID string) bool {
	return s.state.IsPhaseCompleted(phaseID)
}

// ResumeInfo describes where an interrupted run would pick up.
type ResumeInfo struct {
	Resumable bool
	PhaseID   string
	Step      types.Step
	Iteration int
}

// Resume reports whether the persisted state points at an interrupted phase.
func (s *Store) Resume() ResumeInfo {
	if s.state.CurrentPhase == "" || !s.state.Status.Resumable() {
		return ResumeInfo{}
	}
	return ResumeInfo{
		Resumable: true,
		PhaseID:   s.state.CurrentPhase,
		Step:      s.state.CurrentStep,
		Iteration: s.state.Iteration,
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
