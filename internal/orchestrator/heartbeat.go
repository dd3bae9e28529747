package orchestrator

import (
	"fmt"
	"time"

	"github.com/tbarron/phaser/internal/log"
)

// startHeartbeat logs elapsed time at the configured interval while a long
// operation (assistant call, build, tests) runs. The returned stop function
// must be called when the operation finishes; it is safe to call once.
func (o *Orchestrator) startHeartbeat(what string) (stop func()) {
	interval := time.Duration(o.cfg.Automation.HeartbeatInterval) * time.Second
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	start := time.Now()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.logger.Info(fmt.Sprintf("%s still running (%s elapsed)", what, log.FormatDuration(time.Since(start))))
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}
