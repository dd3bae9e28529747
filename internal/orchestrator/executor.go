package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/tbarron/phaser/internal/assistant"
	"github.com/tbarron/phaser/internal/git"
	"github.com/tbarron/phaser/internal/intervene"
	"github.com/tbarron/phaser/internal/log"
	"github.com/tbarron/phaser/internal/types"
	"github.com/tbarron/phaser/internal/xcode"
)

// RunPhase executes one phase through the step machine until it completes,
// fails, or exhausts the retry budget. Domain outcomes (build failures,
// interventions, exhausted retries) come back inside the PhaseResult; an
// error return means the run was cancelled or state could not be persisted.
func (o *Orchestrator) RunPhase(ctx context.Context, phaseID string) (*types.PhaseResult, error) {
	phase, ok := o.plan.Phase(phaseID)
	if !ok {
		return &types.PhaseResult{
			PhaseID:      phaseID,
			ErrorMessage: fmt.Sprintf("phase %s not found", phaseID),
		}, nil
	}
	moduleID := o.plan.ModuleID(phaseID)
	start := time.Now()

	o.logger.PhaseStart(phaseID, phase.Name)

	if err := o.store.StartPhase(moduleID, phaseID); err != nil {
		return nil, err
	}
	o.record("start phase", func() error { return o.analytics.StartPhase(ctx, phaseID, moduleID, phase.Name) })
	o.updateDashboard(ctx, phase.Name)

	prompt, err := o.plan.LoadPrompt(o.cfg.PromptsDir, phase)
	if err != nil {
		o.logger.Error(err.Error())
		return o.failPhase(ctx, phase, "Failed to load prompt", start)
	}
	originalPrompt := prompt

	iteration := o.store.State().Iteration
	maxRetries := o.cfg.Automation.MaxRetriesPerPhase
	buildErrorsFixed := 0
	testFailuresFixed := 0

	for iteration <= maxRetries {
		if ctx.Err() != nil {
			return nil, o.pauseOnCancel(ctx.Err())
		}
		st := o.store.State()
		stepStart := time.Now()

		// GENERATE: send the prompt, apply file changes. A rate limited
		// response backs off and re-enters this step with the same
		// iteration number; only real failures consume a retry.
		if st.CurrentStep == types.StepGenerate {
			o.logger.StepStart(types.StepGenerate, iteration)
			o.record("iteration start", func() error {
				return o.analytics.RecordIterationStart(ctx, phaseID, iteration, types.StepGenerate)
			})

			if delay := o.limiter.PacingDelay(); delay > 0 {
				o.logger.Debug(fmt.Sprintf("Pacing delay: %s", log.FormatDuration(delay)))
				if err := o.sleep(ctx, delay); err != nil {
					return nil, o.pauseOnCancel(err)
				}
			}

			stop := o.startHeartbeat("Generation")
			resp, err := o.assistant.Send(ctx, prompt, "")
			stop()
			if err != nil {
				if ctx.Err() != nil {
					return nil, o.pauseOnCancel(ctx.Err())
				}
				o.logger.Error(fmt.Sprintf("Assistant call failed: %v", err))
				iteration, err = o.retryStep(ctx, phase, iteration, types.StepGenerate, err.Error())
				if err != nil {
					return nil, err
				}
				continue
			}

			if resp.RateLimited {
				if err := o.handleRateLimit(ctx, phase, resp.RetryAfter); err != nil {
					return nil, err
				}
				continue
			}

			if !resp.Success {
				msg := resp.Error
				if msg == "" {
					msg = "generation failed"
				}
				iteration, err = o.retryStep(ctx, phase, iteration, types.StepGenerate, msg)
				if err != nil {
					return nil, err
				}
				continue
			}

			written, err := o.assistant.ApplyFileChanges(o.projectDir(), resp.Files)
			if err != nil {
				o.logger.Error(fmt.Sprintf("Failed to apply file changes: %v", err))
				iteration, err = o.retryStep(ctx, phase, iteration, types.StepGenerate, err.Error())
				if err != nil {
					return nil, err
				}
				continue
			}
			for _, path := range written {
				o.logger.Debug(fmt.Sprintf("Wrote %s", path))
			}

			if resp.InputTokens > 0 || resp.OutputTokens > 0 {
				o.record("token usage", func() error {
					return o.analytics.RecordTokenUsage(ctx, phaseID, iteration, resp.InputTokens, resp.OutputTokens, resp.Model)
				})
			}

			o.logger.StepComplete(types.StepGenerate)
			o.record("iteration complete", func() error {
				return o.analytics.RecordIterationComplete(ctx, phaseID, iteration, types.StepGenerate, time.Since(stepStart))
			})

			o.limiter.RecordSuccess()
			if err := o.store.AdvanceStep(types.StepBuild); err != nil {
				return nil, err
			}
			st = o.store.State()
		}

		// BUILD: compile, then either advance or classify the errors. A
		// blocking intervention pauses the run; anything else becomes a
		// fix prompt for the next GENERATE.
		if st.CurrentStep == types.StepBuild {
			o.logger.StepStart(types.StepBuild, iteration)
			o.record("iteration start", func() error {
				return o.analytics.RecordIterationStart(ctx, phaseID, iteration, types.StepBuild)
			})

			stop := o.startHeartbeat("Build")
			result, err := o.builder.Build(ctx)
			stop()
			if err != nil {
				return nil, o.pauseOnCancel(err)
			}

			if !result.Success {
				o.logger.StepFailed(types.StepBuild, len(result.Errors))
				for i, e := range result.Errors {
					if i == 5 {
						break
					}
					o.logger.Error(e.String())
				}

				iv := o.detector.ClassifyBuildErrors(result.Errors)
				if iv == nil {
					iv = o.detector.ClassifyRepeated(result.Errors)
				}
				if iv != nil && iv.Blocking {
					return o.pauseForIntervention(ctx, phase, iv, result.Errors, start)
				}

				o.record("build errors", func() error {
					return o.analytics.RecordBuildErrors(ctx, phaseID, iteration, result.Errors)
				})
				if err := o.store.RecordBuildErrors(len(result.Errors)); err != nil {
					return nil, err
				}
				buildErrorsFixed += len(result.Errors)

				prompt = assistant.BuildFixPrompt(originalPrompt, result.Errors)

				iteration, err = o.retryStep(ctx, phase, iteration, types.StepBuild,
					fmt.Sprintf("%d build errors", len(result.Errors)))
				if err != nil {
					return nil, err
				}
				continue
			}

			o.detector.Reset()
			o.logger.StepComplete(types.StepBuild)
			o.record("iteration complete", func() error {
				return o.analytics.RecordIterationComplete(ctx, phaseID, iteration, types.StepBuild, result.Duration)
			})

			if err := o.store.AdvanceStep(types.StepTest); err != nil {
				return nil, err
			}
			st = o.store.State()
		}

		// TEST: run the test scheme unless the phase opts out. Raw error
		// output is re-scanned for build-style diagnostics because target
		// membership problems surface here as compile errors.
		if st.CurrentStep == types.StepTest {
			if !phase.TestsRequired {
				o.logger.Debug("Tests not required, skipping")
				if err := o.store.AdvanceStep(types.StepScreenshot); err != nil {
					return nil, err
				}
				st = o.store.State()
			} else {
				o.logger.StepStart(types.StepTest, iteration)
				o.record("iteration start", func() error {
					return o.analytics.RecordIterationStart(ctx, phaseID, iteration, types.StepTest)
				})

				stop := o.startHeartbeat("Tests")
				result, err := o.builder.Test(ctx)
				stop()
				if err != nil {
					return nil, o.pauseOnCancel(err)
				}

				if !result.Success {
					o.logger.StepFailed(types.StepTest, len(result.Failures))
					for i, f := range result.Failures {
						if i == 5 {
							break
						}
						o.logger.Error(f.String())
					}

					iv := o.detector.ClassifyTestFailures(result.Failures)
					if iv == nil && result.ErrorOutput != "" {
						if embedded, _ := xcode.ParseBuildOutput(result.ErrorOutput); len(embedded) > 0 {
							iv = o.detector.ClassifyBuildErrors(embedded)
						}
					}
					if iv != nil && iv.Blocking {
						return o.pauseForIntervention(ctx, phase, iv, nil, start)
					}

					o.record("test failures", func() error {
						return o.analytics.RecordTestFailures(ctx, phaseID, iteration, result.Failures)
					})
					if err := o.store.RecordTestFailures(len(result.Failures)); err != nil {
						return nil, err
					}
					testFailuresFixed += len(result.Failures)

					prompt = assistant.BuildTestFixPrompt(originalPrompt, result.Failures)

					iteration, err = o.retryStep(ctx, phase, iteration, types.StepTest,
						fmt.Sprintf("%d test failures", len(result.Failures)))
					if err != nil {
						return nil, err
					}
					continue
				}

				o.logger.StepComplete(types.StepTest)
				o.logger.Info(fmt.Sprintf("Tests: %d/%d passed", result.PassedTests, result.TotalTests))
				o.record("iteration complete", func() error {
					return o.analytics.RecordIterationComplete(ctx, phaseID, iteration, types.StepTest, result.Duration)
				})

				if err := o.store.AdvanceStep(types.StepScreenshot); err != nil {
					return nil, err
				}
				st = o.store.State()
			}
		}

		// SCREENSHOT: best effort, never fails the phase.
		var screenshotPath string
		if st.CurrentStep == types.StepScreenshot {
			if phase.Screenshot && o.cfg.Automation.CaptureScreenshots && o.shots != nil {
				o.logger.StepStart(types.StepScreenshot, iteration)
				if udid, err := o.builder.SimulatorUDID(ctx); err != nil {
					o.logger.Warning(fmt.Sprintf("Screenshot skipped: %v", err))
				} else if path := o.shots.Capture(ctx, udid, phaseID); path != "" {
					screenshotPath = path
					o.record("screenshot", func() error {
						return o.analytics.RecordScreenshot(ctx, phaseID, path)
					})
				}
			}
			if err := o.store.AdvanceStep(types.StepCommit); err != nil {
				return nil, err
			}
			st = o.store.State()
		}

		// COMMIT: best effort when auto-commit is enabled.
		var commitHash string
		if st.CurrentStep == types.StepCommit {
			if o.cfg.Git.Enabled && o.cfg.Git.AutoCommit && o.committer != nil {
				o.logger.StepStart(types.StepCommit, iteration)
				hash, filesChanged, err := o.committer.CommitPhase(git.CommitInfo{
					Module:     moduleID,
					PhaseID:    phaseID,
					PhaseName:  phase.Name,
					Iterations: iteration,
					Duration:   log.FormatDuration(time.Since(start)),
				})
				if err != nil {
					o.logger.Warning(fmt.Sprintf("Commit failed: %v", err))
				}
				if hash != "" {
					commitHash = hash
					o.logger.Debug(fmt.Sprintf("Committed %s (%d files)", hash[:min(8, len(hash))], filesChanged))
					o.record("commit", func() error {
						return o.analytics.RecordCommit(ctx, phaseID, hash, phase.Name, filesChanged)
					})
				}
			}
			if err := o.store.AdvanceStep(types.StepComplete); err != nil {
				return nil, err
			}
			st = o.store.State()
		}

		// COMPLETE: close out the phase.
		if st.CurrentStep == types.StepComplete {
			duration := time.Since(start)

			o.record("complete phase", func() error {
				return o.analytics.CompletePhase(ctx, phaseID, iteration, duration)
			})
			if err := o.store.CompletePhase(phaseID); err != nil {
				return nil, err
			}
			o.detector.Reset()
			o.updateDashboard(ctx, phase.Name)
			o.logger.PhaseComplete(phaseID, iteration, duration)

			return &types.PhaseResult{
				PhaseID:           phaseID,
				Success:           true,
				Iterations:        iteration,
				Duration:          duration,
				BuildErrorsFixed:  buildErrorsFixed,
				TestFailuresFixed: testFailuresFixed,
				ScreenshotPath:    screenshotPath,
				CommitHash:        commitHash,
			}, nil
		}
	}

	return o.failPhase(ctx, phase,
		fmt.Sprintf("Max retries (%d) exceeded", maxRetries), start)
}

// handleRateLimit backs off for a rate limited assistant call: record the
// hit, persist RATE_LIMITED with the resume deadline, count down, clear.
// The caller re-enters the same step without consuming an iteration.
func (o *Orchestrator) handleRateLimit(ctx context.Context, phase types.Phase, retryAfter time.Duration) error {
	wait, until := o.limiter.RecordHit(retryAfter)

	if err := o.store.RecordRateLimit(until); err != nil {
		return err
	}
	o.record("rate limit", func() error {
		return o.analytics.RecordRateLimit(ctx, phase.ID, wait)
	})
	o.updateDashboard(ctx, phase.Name)
	o.logger.RateLimit(wait)

	if err := o.countdown(ctx, wait, "Rate limit"); err != nil {
		return o.pauseOnCancel(err)
	}

	if err := o.store.ClearRateLimit(); err != nil {
		return err
	}
	o.logger.Info("Rate limit cleared, resuming")
	return nil
}

// retryStep records a failed iteration, moves the phase back to GENERATE,
// and applies the failure delay. Returns the new iteration number.
func (o *Orchestrator) retryStep(ctx context.Context, phase types.Phase, iteration int, step types.Step, errMsg string) (int, error) {
	o.record("iteration failed", func() error {
		return o.analytics.RecordIterationFailed(ctx, phase.ID, iteration, step, errMsg)
	})

	if err := o.store.AdvanceStep(types.StepGenerate); err != nil {
		return iteration, err
	}
	next, err := o.store.RecordRetry()
	if err != nil {
		return iteration, err
	}
	o.updateDashboard(ctx, phase.Name)

	if delay := o.limiter.FailureDelay(); delay > 0 {
		o.logger.Debug(fmt.Sprintf("Failure delay: %s before retry", log.FormatDuration(delay)))
		if err := o.sleep(ctx, delay); err != nil {
			return next, o.pauseOnCancel(err)
		}
	}
	return next, nil
}

// pauseForIntervention prints the remediation block, pauses the run, and
// fails the phase.
func (o *Orchestrator) pauseForIntervention(ctx context.Context, phase types.Phase, iv *types.Intervention, errs []types.BuildError, start time.Time) (*types.PhaseResult, error) {
	fmt.Fprint(o.logger.Out, intervene.FormatMessage(iv, errs))
	o.logger.Warning(fmt.Sprintf("Manual intervention required: %s", iv.Title))

	if err := o.store.Pause(); err != nil {
		return nil, err
	}
	return o.failPhase(ctx, phase, fmt.Sprintf("Manual intervention required: %s", iv.Title), start)
}

// failPhase records the failure everywhere and builds the result.
func (o *Orchestrator) failPhase(ctx context.Context, phase types.Phase, reason string, start time.Time) (*types.PhaseResult, error) {
	duration := time.Since(start)

	if err := o.store.FailPhase(phase.ID, reason); err != nil {
		return nil, err
	}
	st := o.store.State()
	o.record("fail phase", func() error {
		return o.analytics.FailPhase(ctx, phase.ID, st.Iteration, duration)
	})
	o.updateDashboard(ctx, phase.Name)
	o.logger.PhaseFailed(phase.ID, reason)

	return &types.PhaseResult{
		PhaseID:      phase.ID,
		Iterations:   st.Iteration,
		Duration:     duration,
		ErrorMessage: reason,
	}, nil
}
