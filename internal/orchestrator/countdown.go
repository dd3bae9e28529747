package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/tbarron/phaser/internal/log"
)

// countdownInterval picks how often the remaining time is reprinted: long
// waits update every five minutes, medium every thirty seconds, short
// every ten.
func countdownInterval(wait time.Duration) time.Duration {
	switch {
	case wait > time.Hour:
		return 5 * time.Minute
	case wait > 2*time.Minute:
		return 30 * time.Second
	default:
		return 10 * time.Second
	}
}

// countdown waits out a duration in bounded slices, printing the remaining
// time between slices. Cancelling the context aborts the wait immediately
// and returns the context error; the run never sleeps through a shutdown.
func (o *Orchestrator) countdown(ctx context.Context, wait time.Duration, reason string) error {
	if wait <= 0 {
		return ctx.Err()
	}

	resume := time.Now().Add(wait)
	resumeStr := resume.Format("15:04:05")
	if wait > 24*time.Hour {
		resumeStr = resume.Format("Jan 2 at 3:04PM")
	} else if wait > time.Hour {
		resumeStr = resume.Format("today at 3:04PM")
	}

	o.logger.Section(fmt.Sprintf("%s: waiting %s, auto-resume at %s (Ctrl+C to abort)",
		reason, log.FormatDuration(wait), resumeStr))

	interval := countdownInterval(wait)
	remaining := wait
	for remaining > 0 {
		slice := interval
		if slice > remaining {
			slice = remaining
		}
		if err := o.sleep(ctx, slice); err != nil {
			return err
		}
		remaining -= slice
		if remaining > 0 {
			fmt.Fprintf(o.logger.Out, "\r   %s remaining...        ", log.FormatDuration(remaining))
		}
	}
	fmt.Fprintln(o.logger.Out)
	return nil
}
