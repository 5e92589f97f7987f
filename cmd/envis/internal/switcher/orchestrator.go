// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package switcher moves the single active-environment slot from one
environment to another.

A switch is deliberately non-transactional. The sequence is: stop the
outgoing environment's enabled services, deactivate it, activate the
target, then start the target's enabled services. Only target activation
is fatal; every service step is best effort, and its failures are
reported per service in the result rather than undone. The backend is
the source of truth for whatever a partial switch leaves behind, and the
poll loops converge the cache onto it.
*/
package switcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xopenbeta/envis/cmd/envis/internal/activation"
	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
	"github.com/xopenbeta/envis/cmd/envis/internal/gateway"
	"github.com/xopenbeta/envis/cmd/envis/internal/metrics"
	"github.com/xopenbeta/envis/cmd/envis/internal/store"
)

// =============================================================================
// Result Types
// =============================================================================

// ServiceOutcome reports how one service fared during a switch.
type ServiceOutcome struct {
	// ServiceID is the service the outcome belongs to.
	ServiceID string `json:"service_id"`

	// Success is true when the service reached its intended state.
	Success bool `json:"success"`

	// Message explains a failure. Empty on success.
	Message string `json:"message,omitempty"`
}

// SwitchResult is the settled outcome of a switch attempt.
//
// Activated reports whether the target environment holds the active
// slot when the switch returns. ServiceOutcomes covers the target's
// enabled services; it is empty when activation itself failed.
type SwitchResult struct {
	// Activated is true when the target environment became active.
	Activated bool `json:"activated"`

	// ServiceOutcomes lists per-service start results for the target.
	ServiceOutcomes []ServiceOutcome `json:"service_outcomes,omitempty"`
}

// Failures counts service outcomes that did not succeed.
func (r SwitchResult) Failures() int {
	n := 0
	for _, o := range r.ServiceOutcomes {
		if !o.Success {
			n++
		}
	}
	return n
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator performs environment switches.
//
// # Thread Safety
//
// Safe for concurrent use; concurrent Switch calls serialize inside the
// store's single-active invariant, but callers should avoid racing
// switches anyway — the second one wins whatever the first left behind.
type Orchestrator struct {
	store   *store.Store
	gw      gateway.Gateway
	session *activation.CredentialSession
	logger  *slog.Logger
	metrics metrics.Recorder

	// stepTimeout bounds each plan step. Zero uses the plan default.
	stepTimeout time.Duration

	// clearCredentials drops the cached elevation credential after
	// every switch when set.
	clearCredentials bool

	// AfterSwitch, when set, runs after every switch attempt, failed
	// activations included. Used to kick reconciliation so the cache
	// converges onto whatever the backend was left holding.
	AfterSwitch func(env entity.Environment)
}

// NewOrchestrator creates a switch orchestrator.
//
// session may be nil (no cached credentials to forward or clear). A nil
// logger falls back to slog.Default(); a nil recorder falls back to the
// no-op recorder.
func NewOrchestrator(st *store.Store, gw gateway.Gateway, session *activation.CredentialSession, logger *slog.Logger, rec metrics.Recorder, stepTimeout time.Duration, clearCredentials bool) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.NewNoOpMetrics()
	}
	return &Orchestrator{
		store:            st,
		gw:               gw,
		session:          session,
		logger:           logger,
		metrics:          rec,
		stepTimeout:      stepTimeout,
		clearCredentials: clearCredentials,
	}
}

// Switch makes targetEnvID the active environment.
//
// Phases, in order:
//
//  1. Vacate: stop the outgoing environment's enabled services (best
//     effort, failures logged), then deactivate it on the backend and
//     in the cache. A backend deactivation failure is tolerated — the
//     target activation decides the switch.
//  2. Activate: activate the target on the backend, then in the cache.
//     Failure here is fatal; the result reports Activated false.
//  3. Populate: start each of the target's enabled services, best
//     effort, one outcome per service. Elevated services use cred when
//     supplied, else the session-cached credential when present; a
//     service that demands elevation mid-switch fails its outcome
//     instead of prompting.
//
// Switching to the already-active environment is a no-op success.
func (o *Orchestrator) Switch(ctx context.Context, targetEnvID string, cred gateway.Credential) (SwitchResult, error) {
	target, ok := o.store.Environment(targetEnvID)
	if !ok {
		return SwitchResult{}, fmt.Errorf("switch to %s: %w", targetEnvID, store.ErrNotFound)
	}
	if target.Status == entity.StatusActive {
		o.logger.Debug("switch target already active", "env_id", targetEnvID)
		return SwitchResult{Activated: true}, nil
	}

	current, hasCurrent := o.store.ActiveEnvironment()

	plan := NewPlan(o.stepTimeout, o.logger)

	if hasCurrent {
		o.addVacateSteps(plan, current, cred)
	}
	plan.Add(Step{
		Name: "activate " + target.Name,
		Execute: func(ctx context.Context) error {
			res, err := o.gw.ActivateEnvironment(ctx, target.ID)
			if cerr := gateway.EnvelopeError("env.activate", res, err); cerr != nil {
				return cerr
			}
			if _, aerr := o.store.ActivateEnvironment(target.ID); aerr != nil {
				return aerr
			}
			return nil
		},
	})

	if _, err := plan.Run(ctx); err != nil {
		o.metrics.RecordSwitch(false, 0)
		// A failed activation can leave zero environments active; the
		// forced poll converges the cache onto the backend's answer.
		o.runAfterSwitch(target.ID)
		return SwitchResult{}, err
	}

	result := SwitchResult{Activated: true}
	for _, sd := range o.store.ServicesFor(target.ID) {
		if sd.Status != entity.StatusActive {
			continue
		}
		result.ServiceOutcomes = append(result.ServiceOutcomes, o.startService(ctx, sd, cred))
	}

	o.metrics.RecordSwitch(true, result.Failures())
	o.logger.Info("environment switch settled",
		"env_id", target.ID, "services", len(result.ServiceOutcomes), "failures", result.Failures())

	if o.clearCredentials && o.session != nil {
		o.session.Clear()
	}
	o.runAfterSwitch(target.ID)
	return result, nil
}

// runAfterSwitch fires the post-switch hook for both outcomes of a
// switch attempt.
func (o *Orchestrator) runAfterSwitch(envID string) {
	if o.AfterSwitch == nil {
		return
	}
	if env, ok := o.store.Environment(envID); ok {
		o.AfterSwitch(env)
	}
}

// addVacateSteps queues the stop-and-deactivate steps for the outgoing
// environment. Everything here is best effort.
func (o *Orchestrator) addVacateSteps(plan *Plan, current entity.Environment, cred gateway.Credential) {
	for _, sd := range o.store.ServicesFor(current.ID) {
		if sd.Status != entity.StatusActive {
			continue
		}
		if !sd.Type.Capabilities().CanRun && !sd.Type.Elevated() {
			continue
		}
		sd := sd
		plan.Add(Step{
			Name:       "stop " + sd.ID,
			BestEffort: true,
			Execute: func(ctx context.Context) error {
				res, err := o.gw.StopService(ctx, sd, o.credentialFor(sd.Type, cred))
				return gateway.EnvelopeError("service.stop", res, err)
			},
		})
	}
	plan.Add(Step{
		Name:       "deactivate " + current.Name,
		BestEffort: true,
		Execute: func(ctx context.Context) error {
			res, err := o.gw.DeactivateEnvironment(ctx, current.ID)
			if cerr := gateway.EnvelopeError("env.deactivate", res, err); cerr != nil {
				return cerr
			}
			return nil
		},
	})
	// The cache vacates unconditionally; the backend call above being
	// best effort must not leave two locally-active environments.
	plan.Add(Step{
		Name:       "vacate cache",
		BestEffort: true,
		Execute: func(ctx context.Context) error {
			_, err := o.store.DeactivateEnvironment(current.ID)
			return err
		},
	})
}

// startService brings one enabled target service up and reports the
// outcome. Never returns an error; failures land in the outcome.
func (o *Orchestrator) startService(ctx context.Context, sd entity.ServiceData, cred gateway.Credential) ServiceOutcome {
	if !sd.Type.Capabilities().CanRun && !sd.Type.Elevated() {
		// Enabled, no process to run, nothing to apply: activating the
		// environment is all there is to do. Elevated types still go
		// through the backend (hosts entries, CA trust) with the
		// credential forwarded.
		return ServiceOutcome{ServiceID: sd.ID, Success: true}
	}

	res, err := o.gw.StartService(ctx, sd, o.credentialFor(sd.Type, cred))
	if cerr := gateway.EnvelopeError("service.start", res, err); cerr != nil {
		o.logger.Warn("service start failed during switch", "service_id", sd.ID, "error", cerr)
		return ServiceOutcome{ServiceID: sd.ID, Success: false, Message: cerr.Error()}
	}

	if res.Data != nil {
		canonical := *res.Data
		if _, _, merr := o.store.MutateService(sd.ID, func(s *entity.ServiceData) {
			*s = canonical
		}); merr != nil {
			o.logger.Warn("service vanished during switch", "service_id", sd.ID, "error", merr)
		}
	}
	return ServiceOutcome{ServiceID: sd.ID, Success: true}
}

// credentialFor picks the credential to forward for one service type.
// An explicit caller-supplied credential wins over the session cache.
func (o *Orchestrator) credentialFor(t entity.ServiceType, explicit gateway.Credential) gateway.Credential {
	if !t.Elevated() {
		return ""
	}
	if !explicit.IsZero() {
		return explicit
	}
	if o.session == nil {
		return ""
	}
	if cred, ok := o.session.Get(); ok {
		return cred
	}
	return ""
}
