// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package activation drives user-requested activation toggles.

A toggle is applied optimistically (the cached status flips before the
backend is asked) so the UI reacts instantly, then settles against the
backend's answer:

  - success: the backend's canonical record replaces the optimistic
    guess in the cache, not just the flipped bit;
  - failure: the cached status is restored to its recorded pre-toggle
    baseline, always — no orphaned optimistic state;
  - elevation required: the flip is rolled back and the caller receives
    a resumable continuation instead of a generic error, so the
    credential prompt lives outside this package.

Concurrent toggles of the same service serialize; the second request
observes the first one's settled outcome, never a half-applied state.
*/
package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
	"github.com/xopenbeta/envis/cmd/envis/internal/gateway"
	"github.com/xopenbeta/envis/cmd/envis/internal/metrics"
	"github.com/xopenbeta/envis/cmd/envis/internal/store"
)

// =============================================================================
// Error Types
// =============================================================================

// EnvironmentNotActiveError means a toggle was requested for a service
// whose owning environment is not the active one.
//
// This is a redirect, not a plain failure: the caller should offer the
// switch-environment flow instead of retrying the toggle.
type EnvironmentNotActiveError struct {
	// EnvironmentID is the inactive owning environment.
	EnvironmentID string

	// ServiceID is the service whose toggle was refused.
	ServiceID string
}

// Error implements the error interface.
func (e *EnvironmentNotActiveError) Error() string {
	return fmt.Sprintf("environment %s is not active; switch to it before toggling service %s", e.EnvironmentID, e.ServiceID)
}

// ElevationRequiredError means the backend refused a credential-gated
// operation and supplied the elevation sentinel.
//
// The optimistic flip has already been rolled back. Resume re-runs the
// toggle with a credential against a fresh baseline; on success the
// credential is cached for the rest of the session. A Resume that fails
// again with a credential supplied is final — no automatic retry.
type ElevationRequiredError struct {
	// ServiceID is the service whose toggle needs elevation.
	ServiceID string

	// Resume re-invokes the toggle with the supplied credential.
	Resume func(ctx context.Context, cred gateway.Credential) (entity.ServiceData, error)
}

// Error implements the error interface.
func (e *ElevationRequiredError) Error() string {
	return fmt.Sprintf("service %s requires an elevation credential", e.ServiceID)
}

// Compile-time interface satisfaction checks.
var (
	_ error = (*EnvironmentNotActiveError)(nil)
	_ error = (*ElevationRequiredError)(nil)
)

// =============================================================================
// Controller
// =============================================================================

// Controller applies activation toggles with optimistic feedback, backend
// confirmation, rollback, and the credential-elevation retry protocol.
//
// # Thread Safety
//
// Safe for concurrent use. Toggles of distinct services proceed in
// parallel; toggles of the same service serialize on a per-entity mutex.
type Controller struct {
	store   *store.Store
	gw      gateway.Gateway
	session *CredentialSession
	logger  *slog.Logger
	metrics metrics.Recorder

	entityMuMu sync.Mutex
	entityMu   map[string]*sync.Mutex
}

// NewController creates an activation controller.
//
// A nil session disables credential caching (every elevated operation
// re-prompts). A nil logger falls back to slog.Default(); a nil recorder
// falls back to the no-op recorder.
func NewController(st *store.Store, gw gateway.Gateway, session *CredentialSession, logger *slog.Logger, rec metrics.Recorder) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.NewNoOpMetrics()
	}
	return &Controller{
		store:    st,
		gw:       gw,
		session:  session,
		logger:   logger,
		metrics:  rec,
		entityMu: make(map[string]*sync.Mutex),
	}
}

// Session returns the controller's credential session (may be nil).
func (c *Controller) Session() *CredentialSession { return c.session }

func (c *Controller) lockEntity(id string) *sync.Mutex {
	c.entityMuMu.Lock()
	defer c.entityMuMu.Unlock()
	mu, ok := c.entityMu[id]
	if !ok {
		mu = &sync.Mutex{}
		c.entityMu[id] = mu
	}
	return mu
}

// Toggle flips the activation status of one service.
//
// Contract:
//
//  1. If the owning environment is not active, fails with
//     *EnvironmentNotActiveError before anything is flipped.
//  2. The cached status flips immediately (optimistic), with the
//     pre-toggle status recorded as the rollback baseline.
//  3. The backend is asked to start or stop the service, forwarding the
//     credential if supplied, else the session-cached one if present.
//  4. On success the backend's canonical record overwrites the cache.
//  5. On failure the baseline is restored — hard rollback — and the error
//     is classified: elevation sentinel becomes *ElevationRequiredError
//     with a Resume continuation; everything else surfaces as-is.
//
// The returned record is the settled cache state, including after
// rollback.
func (c *Controller) Toggle(ctx context.Context, serviceID string, cred gateway.Credential) (entity.ServiceData, error) {
	mu := c.lockEntity(serviceID)
	mu.Lock()
	defer mu.Unlock()
	return c.toggleLocked(ctx, serviceID, cred)
}

func (c *Controller) toggleLocked(ctx context.Context, serviceID string, cred gateway.Credential) (entity.ServiceData, error) {
	sd, ok := c.store.Service(serviceID)
	if !ok {
		return entity.ServiceData{}, fmt.Errorf("toggle service %s: %w", serviceID, store.ErrNotFound)
	}
	env, ok := c.store.Environment(sd.EnvironmentID)
	if !ok {
		return entity.ServiceData{}, fmt.Errorf("toggle service %s: environment %s: %w", serviceID, sd.EnvironmentID, store.ErrNotFound)
	}
	if env.Status != entity.StatusActive {
		return sd, &EnvironmentNotActiveError{EnvironmentID: env.ID, ServiceID: serviceID}
	}

	previous := sd.Status
	desired := previous.Toggled()

	flipped, _, err := c.store.MutateService(serviceID, func(s *entity.ServiceData) {
		s.Status = desired
	})
	if err != nil {
		return entity.ServiceData{}, err
	}
	c.logger.Debug("optimistic flip applied",
		"service_id", serviceID, "from", previous.String(), "to", desired.String())

	explicit := !cred.IsZero()
	if !explicit && sd.Type.Elevated() && c.session != nil {
		if cached, ok := c.session.Get(); ok {
			cred = cached
		}
	}

	var (
		res gateway.Result[entity.ServiceData]
		op  string
	)
	if desired == entity.StatusActive {
		op = "service.start"
		res, err = c.gw.StartService(ctx, flipped, cred)
	} else {
		op = "service.stop"
		res, err = c.gw.StopService(ctx, flipped, cred)
	}

	if cerr := gateway.EnvelopeError(op, res, err); cerr != nil {
		return c.settleFailure(serviceID, previous, explicit, cerr)
	}

	settled := flipped
	if res.Data != nil {
		canonical := *res.Data
		settled, _, err = c.store.MutateService(serviceID, func(s *entity.ServiceData) {
			*s = canonical
		})
		if err != nil {
			return entity.ServiceData{}, err
		}
	}

	if sd.Type.Elevated() && !cred.IsZero() && c.session != nil {
		c.session.Put(cred)
	}

	c.metrics.RecordToggle(true)
	c.logger.Info("toggle settled", "service_id", serviceID, "status", settled.Status.String())
	return settled, nil
}

// settleFailure restores the rollback baseline and classifies the error.
func (c *Controller) settleFailure(serviceID string, previous entity.Status, explicit bool, cerr error) (entity.ServiceData, error) {
	restored, _, rerr := c.store.MutateService(serviceID, func(s *entity.ServiceData) {
		s.Status = previous
	})
	if rerr != nil {
		// The service vanished mid-toggle (deleted elsewhere). The
		// original failure is still the interesting one.
		c.logger.Warn("rollback target missing", "service_id", serviceID, "error", rerr)
	}
	c.metrics.RecordRollback(rollbackReason(cerr))
	c.logger.Info("optimistic flip rolled back", "service_id", serviceID, "restored", previous.String())

	var de *gateway.DomainError
	if errors.As(cerr, &de) && de.ElevationRequired() {
		if explicit {
			// The caller already supplied a credential and it was
			// rejected: final failure, no automatic retry.
			c.metrics.RecordToggle(false)
			return restored, cerr
		}
		return restored, &ElevationRequiredError{
			ServiceID: serviceID,
			Resume: func(ctx context.Context, cred gateway.Credential) (entity.ServiceData, error) {
				return c.Toggle(ctx, serviceID, cred)
			},
		}
	}

	c.metrics.RecordToggle(false)
	return restored, cerr
}

func rollbackReason(err error) string {
	var te *gateway.TransportError
	if errors.As(err, &te) {
		return "transport"
	}
	var de *gateway.DomainError
	if errors.As(err, &de) {
		if de.ElevationRequired() {
			return "elevation"
		}
		return "domain"
	}
	return "other"
}
