// Package log provides colored terminal output for the phaser automation
// loop. All output uses ANSI escape codes; no external dependencies are
// required. A Logger is constructed explicitly and passed to each component
// rather than accessed through a package-level singleton.
package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tbarron/phaser/internal/types"
)

// ANSI escape codes for terminal colors.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorCyan   = "\033[0;36m"
	colorWhite  = "\033[1;37m"
	colorDim    = "\033[2m"
)

// sectionLine is the unicode box-draw separator used by Section.
const sectionLine = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// Logger writes leveled, colored messages to Out and optionally mirrors them
// (without color) to File. The zero value is not usable; construct with New.
type Logger struct {
	Out     io.Writer
	File    io.Writer // optional plain-text mirror, may be nil
	Verbose bool      // enables Debug output
}

// New returns a Logger writing to stdout.
func New(verbose bool) *Logger {
	return &Logger{Out: os.Stdout, Verbose: verbose}
}

func (l *Logger) print(color, tag, msg string) {
	fmt.Fprintf(l.Out, "%s[%s]%s %s\n", color, tag, colorReset, msg)
	if l.File != nil {
		fmt.Fprintf(l.File, "%s [%s] %s\n", time.Now().UTC().Format(time.RFC3339), tag, msg)
	}
}

// Info prints a white [INFO] message.
func (l *Logger) Info(msg string) { l.print(colorWhite, "INFO", msg) }

// Success prints a green [SUCCESS] message.
func (l *Logger) Success(msg string) { l.print(colorGreen, "SUCCESS", msg) }

// Warning prints a yellow [WARNING] message.
func (l *Logger) Warning(msg string) { l.print(colorYellow, "WARNING", msg) }

// Error prints a red [ERROR] message.
func (l *Logger) Error(msg string) { l.print(colorRed, "ERROR", msg) }

// Debug prints a dim [DEBUG] message when Verbose is set. The file mirror
// always receives debug lines regardless of Verbose.
func (l *Logger) Debug(msg string) {
	if l.Verbose {
		l.print(colorDim, "DEBUG", msg)
		return
	}
	if l.File != nil {
		fmt.Fprintf(l.File, "%s [DEBUG] %s\n", time.Now().UTC().Format(time.RFC3339), msg)
	}
}

// Section prints a cyan unicode box-draw separator with a title.
func (l *Logger) Section(title string) {
	fmt.Fprintf(l.Out, "\n%s%s%s\n", colorCyan, sectionLine, colorReset)
	fmt.Fprintf(l.Out, "%s%s%s\n", colorCyan, title, colorReset)
	fmt.Fprintf(l.Out, "%s%s%s\n\n", colorCyan, sectionLine, colorReset)
	if l.File != nil {
		fmt.Fprintf(l.File, "%s === %s ===\n", time.Now().UTC().Format(time.RFC3339), title)
	}
}

// ---------------------------------------------------------------------------
// Domain helpers with fixed phrasing so log output is grep-able across runs.
// ---------------------------------------------------------------------------

// PhaseStart announces the beginning of a phase.
func (l *Logger) PhaseStart(phaseID, name string) {
	l.Section(fmt.Sprintf("PHASE %s: %s", phaseID, name))
}

// PhaseComplete announces a successful phase with its cost.
func (l *Logger) PhaseComplete(phaseID string, iterations int, duration time.Duration) {
	l.Success(fmt.Sprintf("phase %s complete after %d iteration(s) in %s",
		phaseID, iterations, FormatDuration(duration)))
}

// PhaseFailed announces a terminal phase failure.
func (l *Logger) PhaseFailed(phaseID, reason string) {
	l.Error(fmt.Sprintf("phase %s failed: %s", phaseID, reason))
}

// StepStart announces a step attempt.
func (l *Logger) StepStart(step types.Step, iteration int) {
	l.Info(fmt.Sprintf("step %s (iteration %d)", step, iteration))
}

// StepComplete announces step success.
func (l *Logger) StepComplete(step types.Step) {
	l.Success(fmt.Sprintf("step %s passed", step))
}

// StepFailed announces step failure with the number of diagnostics found.
func (l *Logger) StepFailed(step types.Step, count int) {
	l.Error(fmt.Sprintf("step %s failed with %d error(s)", step, count))
}

// RateLimit announces a backoff wait.
func (l *Logger) RateLimit(wait time.Duration) {
	l.Warning(fmt.Sprintf("rate limited, waiting %s", FormatDuration(wait)))
}

// FormatDuration renders a duration as "45s", "3m 15s", or "1h 2m".
func FormatDuration(d time.Duration) string {
	sec := int(d.Seconds())
	if sec < 0 {
		sec = 0
	}
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
