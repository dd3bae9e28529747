// Package intervene classifies build and test errors into those the
// assistant can fix automatically and those that require a human: Xcode
// target membership, code signing, missing frameworks, simulator setup.
// It also detects when iteration is stuck producing the same errors over
// and over.
package intervene

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tbarron/phaser/internal/types"
)

// Detector holds the repeated-error tracking across iterations of a phase.
type Detector struct {
	maxSameErrorRetries int
	errorCounts         map[string]int
}

// NewDetector returns a Detector. maxSameErrorRetries is how many times the
// identical error set may appear before the run pauses; values below one
// fall back to three.
func NewDetector(maxSameErrorRetries int) *Detector {
	if maxSameErrorRetries < 1 {
		maxSameErrorRetries = 3
	}
	return &Detector{
		maxSameErrorRetries: maxSameErrorRetries,
		errorCounts:         make(map[string]int),
	}
}

// ClassifyBuildErrors checks build errors against the manual patterns.
// The first matching rule produces the intervention; nil means the
// assistant should keep trying.
func (d *Detector) ClassifyBuildErrors(errors []types.BuildError) *types.Intervention {
	for _, e := range errors {
		text := strings.ToLower(e.Message + " " + e.FilePath)
		if r := matchRule(text); r != nil {
			var files []string
			if e.FilePath != "" {
				files = []string{e.FilePath}
			}
			return r.intervention(files)
		}
	}
	return nil
}

// ClassifyTestFailures checks test failure messages against the manual
// patterns. Ordinary assertion failures never match.
func (d *Detector) ClassifyTestFailures(failures []types.TestFailure) *types.Intervention {
	for _, f := range failures {
		if r := matchRule(strings.ToLower(f.Message)); r != nil {
			var files []string
			if f.FilePath != "" {
				files = []string{f.FilePath}
			}
			return r.intervention(files)
		}
	}
	return nil
}

// ClassifyRepeated tracks the signature of the current error set and
// reports an intervention once the identical set has been seen
// maxSameErrorRetries times with no recoverable pattern among the
// messages. Every call with a non-empty error set counts.
func (d *Detector) ClassifyRepeated(errors []types.BuildError) *types.Intervention {
	if len(errors) == 0 {
		return nil
	}

	sig := signature(errors)
	d.errorCounts[sig]++
	count := d.errorCounts[sig]

	if count < d.maxSameErrorRetries {
		return nil
	}
	if hasRecoverable(errors) {
		return nil
	}

	var files []string
	for _, e := range errors {
		if e.FilePath != "" {
			files = append(files, e.FilePath)
		}
	}
	return &types.Intervention{
		Category:    "repeated_failure",
		Title:       "Repeated Build Failures",
		Description: fmt.Sprintf("The same errors have occurred %d times.", count),
		Steps: []string{
			"1. Review the error messages below",
			"2. Check if files need to be added to the correct Xcode target",
			"3. Check for any missing dependencies or configurations",
			"4. Try building manually in Xcode to get more context",
			"5. Fix the issue and resume the run",
		},
		AffectedFiles: files,
		Blocking:      true,
	}
}

// Reset clears repeated-error tracking. Called when a phase completes.
func (d *Detector) Reset() {
	d.errorCounts = make(map[string]int)
}

func matchRule(text string) *rule {
	for i := range manualRules {
		for _, sub := range manualRules[i].substrings {
			if strings.Contains(text, sub) {
				return &manualRules[i]
			}
		}
	}
	return nil
}

func (r *rule) intervention(files []string) *types.Intervention {
	return &types.Intervention{
		Category:      r.category,
		Title:         r.title,
		Description:   r.description,
		Steps:         r.steps,
		AffectedFiles: files,
		Blocking:      true,
	}
}

func hasRecoverable(errors []types.BuildError) bool {
	for _, e := range errors {
		msg := strings.ToLower(e.Message)
		for _, p := range recoverablePatterns {
			if strings.Contains(msg, p) {
				return true
			}
		}
	}
	return false
}

// signature builds a stable key from the first five errors, sorted, so the
// same error set hashes identically regardless of report order. Messages
// are truncated to fifty characters to tolerate minor wording drift.
func signature(errors []types.BuildError) string {
	parts := make([]string, 0, len(errors))
	for _, e := range errors {
		msg := e.Message
		if len(msg) > 50 {
			msg = msg[:50]
		}
		parts = append(parts, fmt.Sprintf("%s:%d:%s", e.FilePath, e.Line, msg))
	}
	sort.Strings(parts)
	if len(parts) > 5 {
		parts = parts[:5]
	}
	return strings.Join(parts, "|")
}
