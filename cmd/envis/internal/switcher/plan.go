// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package switcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// =============================================================================
// Plan Step
// =============================================================================

// Step is one unit of work in a switch plan.
//
// # Description
//
// Steps execute sequentially. A step marked BestEffort records its
// failure and lets the plan continue; any other failure aborts the plan
// at that point. There is no compensation: earlier steps are never
// undone, because a half-finished switch is settled by reconciliation
// against the backend, not by rolling the client back to a state the
// backend may no longer be in.
//
// # Assumptions
//
//   - Execute respects context cancellation
type Step struct {
	// Name identifies the step for logging and outcome reporting.
	Name string

	// Execute performs the step's work.
	Execute func(ctx context.Context) error

	// BestEffort marks failures as recordable rather than fatal.
	BestEffort bool

	// Timeout overrides the plan's default step timeout. Zero uses the
	// default.
	Timeout time.Duration
}

// StepOutcome records how one step ended.
type StepOutcome struct {
	// Name is the step's name.
	Name string

	// Err is the step's failure, nil on success.
	Err error
}

// =============================================================================
// Plan
// =============================================================================

// Plan executes an ordered list of steps with per-step timeouts.
//
// # Thread Safety
//
// A Plan is built and run from a single goroutine; it is not reusable.
type Plan struct {
	steps       []Step
	stepTimeout time.Duration
	logger      *slog.Logger
}

// NewPlan creates an empty plan.
//
// A zero stepTimeout defaults to 60 seconds. A nil logger falls back to
// slog.Default().
func NewPlan(stepTimeout time.Duration, logger *slog.Logger) *Plan {
	if stepTimeout <= 0 {
		stepTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Plan{stepTimeout: stepTimeout, logger: logger}
}

// Add appends a step to the plan.
func (p *Plan) Add(step Step) {
	p.steps = append(p.steps, step)
}

// Run executes the steps in order.
//
// Returns the outcome of every step that ran, plus the fatal error that
// stopped the plan (nil when every non-best-effort step succeeded).
// Best-effort failures appear in the outcomes with a non-nil Err but do
// not stop later steps.
func (p *Plan) Run(ctx context.Context) ([]StepOutcome, error) {
	outcomes := make([]StepOutcome, 0, len(p.steps))

	for _, step := range p.steps {
		if ctx.Err() != nil {
			return outcomes, fmt.Errorf("plan cancelled before step %q: %w", step.Name, ctx.Err())
		}

		err := p.runStep(ctx, step)
		outcomes = append(outcomes, StepOutcome{Name: step.Name, Err: err})

		if err == nil {
			continue
		}
		if step.BestEffort {
			p.logger.Warn("best-effort step failed, continuing", "step", step.Name, "error", err)
			continue
		}
		return outcomes, fmt.Errorf("plan failed at step %q: %w", step.Name, err)
	}

	return outcomes, nil
}

func (p *Plan) runStep(ctx context.Context, step Step) error {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = p.stepTimeout
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p.logger.Debug("executing step", "step", step.Name)
	start := time.Now()

	err := step.Execute(stepCtx)
	duration := time.Since(start)

	if err != nil {
		if stepCtx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("step timed out after %v: %w", timeout, err)
		}
		p.logger.Error("step failed", "step", step.Name, "duration", duration, "error", err)
		return err
	}

	p.logger.Debug("step completed", "step", step.Name, "duration", duration)
	return nil
}
