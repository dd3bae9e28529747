package xcode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// simctlDevice is one entry in `simctl list devices -j` output.
type simctlDevice struct {
	Name        string `json:"name"`
	UDID        string `json:"udid"`
	State       string `json:"state"`
	IsAvailable bool   `json:"isAvailable"`
}

type simctlList struct {
	Devices map[string][]simctlDevice `json:"devices"`
}

// SimulatorUDID resolves the configured simulator to a UDID. An explicit
// UDID in config is returned as is; otherwise the device list is searched
// for an available iOS device with the configured name. The result is
// cached for the life of the Runner.
func (r *Runner) SimulatorUDID(ctx context.Context) (string, error) {
	if r.cachedUDID != "" {
		return r.cachedUDID, nil
	}
	if r.cfg.Simulator.UDID != "" {
		r.cachedUDID = r.cfg.Simulator.UDID
		return r.cachedUDID, nil
	}

	list, err := r.listDevices(ctx)
	if err != nil {
		return "", err
	}

	for runtime, devices := range list.Devices {
		if !strings.Contains(runtime, "iOS") {
			continue
		}
		for _, d := range devices {
			if d.Name == r.cfg.Simulator.Name && d.IsAvailable {
				r.logger.Debug(fmt.Sprintf("Found simulator: %s (%s)", d.Name, d.UDID))
				r.cachedUDID = d.UDID
				return d.UDID, nil
			}
		}
	}
	return "", fmt.Errorf("simulator not found: %s", r.cfg.Simulator.Name)
}

func (r *Runner) listDevices(ctx context.Context) (*simctlList, error) {
	listCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	stdout, _, err := r.run(listCtx, "xcrun", "simctl", "list", "devices", "-j")
	if err != nil {
		return nil, fmt.Errorf("list simulators: %w", err)
	}
	var list simctlList
	if err := json.Unmarshal([]byte(stdout), &list); err != nil {
		return nil, fmt.Errorf("parse simulator list: %w", err)
	}
	return &list, nil
}

// BootSimulator boots the target simulator when it is not already running.
// A device already booted is not an error.
func (r *Runner) BootSimulator(ctx context.Context) error {
	udid, err := r.SimulatorUDID(ctx)
	if err != nil {
		return err
	}

	list, err := r.listDevices(ctx)
	if err != nil {
		return err
	}
	for _, devices := range list.Devices {
		for _, d := range devices {
			if d.UDID == udid && d.State == "Booted" {
				r.logger.Debug("Simulator already booted")
				return nil
			}
		}
	}

	r.logger.Info(fmt.Sprintf("Booting simulator: %s", r.cfg.Simulator.Name))

	bootCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, stderr, err := r.run(bootCtx, "xcrun", "simctl", "boot", udid); err != nil {
		if strings.Contains(strings.ToLower(stderr), "already booted") {
			return nil
		}
		return fmt.Errorf("boot simulator: %v: %s", err, strings.TrimSpace(stderr))
	}

	// Give the device a moment to finish booting.
	select {
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
