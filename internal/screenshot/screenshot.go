// Package screenshot captures simulator screenshots after a phase's UI
// work lands. Capture is best effort: any failure is logged and reported
// as an empty path, never as an error that would fail the phase.
package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tbarron/phaser/internal/log"
)

// Capturer takes screenshots of a booted simulator via simctl.
type Capturer struct {
	Dir    string
	Delay  time.Duration
	logger *log.Logger

	// run is swapped out in tests.
	run func(ctx context.Context, name string, args ...string) (string, error)
}

// NewCapturer returns a Capturer writing into dir.
func NewCapturer(dir string, delay time.Duration, logger *log.Logger) *Capturer {
	return &Capturer{
		Dir:    dir,
		Delay:  delay,
		logger: logger,
		run:    runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// Capture waits the configured settle delay, then screenshots the device
// into the capture directory. The returned path is empty when capture
// failed for any reason.
func (c *Capturer) Capture(ctx context.Context, udid, phaseID string) string {
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return ""
		}
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		c.logger.Warning(fmt.Sprintf("Screenshot dir unavailable: %v", err))
		return ""
	}

	name := fmt.Sprintf("phase-%s-%s.png", sanitize(phaseID), time.Now().Format("20060102-150405"))
	path := filepath.Join(c.Dir, name)

	captureCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	stderr, err := c.run(captureCtx, "xcrun", "simctl", "io", udid, "screenshot", path)
	if err != nil {
		c.logger.Warning(fmt.Sprintf("Screenshot failed: %v %s", err, strings.TrimSpace(stderr)))
		return ""
	}

	c.logger.Debug(fmt.Sprintf("Screenshot saved: %s", path))
	return path
}

// sanitize keeps phase ids filesystem-safe ("1.2" stays, "a/b" does not).
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, id)
}
