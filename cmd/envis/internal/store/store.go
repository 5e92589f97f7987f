// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package store implements the in-memory authoritative-shadow cache of
environments and services.

The store is the only place client-side entity state lives. There is no
ad-hoc global mutation: writers go through the controlled mutation API,
and every entity carries a monotonically increasing logical clock.

# Mutations vs. Polls

Two kinds of writes exist and they are not equal:

  - Mutations (optimistic flips, canonical-record adoption, rollbacks)
    bump the entity's clock. They represent user intent or settled backend
    truth and always win.
  - Poll applications carry the clock value observed when the poll was
    issued. If a mutation landed in between, the poll result is stale and
    is discarded: last-writer-wins by logical clock, not by arrival order.

# Invariants

  - At most one environment has StatusActive at any time.
  - An active environment cannot be deleted.
  - Reads return copies; callers can never mutate cached state in place.
*/
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound means the entity id is not in the cache.
	ErrNotFound = errors.New("entity not found")

	// ErrEnvironmentActive means an operation is forbidden while the
	// environment is active (e.g. delete).
	ErrEnvironmentActive = errors.New("environment is active")

	// ErrActiveEnvironmentExists means activating would violate the
	// single-active invariant.
	ErrActiveEnvironmentExists = errors.New("another environment is already active")
)

// =============================================================================
// Store
// =============================================================================

// Store is the client-side shadow of backend truth.
//
// # Thread Safety
//
// Safe for concurrent use. All state is guarded by a single RWMutex; every
// method that hands out entities returns clones.
type Store struct {
	mu sync.RWMutex

	envs     map[string]*entity.Environment
	services map[string]*entity.ServiceData

	// clocks holds the per-entity logical clock. Only mutations bump it.
	clocks map[string]uint64

	// runtime holds the ephemeral OS-observed state per service id. It is
	// observational output only and is not clock-guarded.
	runtime map[string]entity.RuntimeState

	logger *slog.Logger
}

// New creates an empty store.
//
// A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		envs:     make(map[string]*entity.Environment),
		services: make(map[string]*entity.ServiceData),
		clocks:   make(map[string]uint64),
		runtime:  make(map[string]entity.RuntimeState),
		logger:   logger,
	}
}

// =============================================================================
// Environment Reads
// =============================================================================

// Environment returns a copy of the environment, if cached.
func (s *Store) Environment(id string) (entity.Environment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.envs[id]
	if !ok {
		return entity.Environment{}, false
	}
	return env.Clone(), true
}

// Environments returns copies of all environments ordered by SortOrder.
func (s *Store) Environments() []entity.Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Environment, 0, len(s.envs))
	for _, env := range s.envs {
		out = append(out, env.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveEnvironment returns the currently active environment, if any.
func (s *Store) ActiveEnvironment() (entity.Environment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, env := range s.envs {
		if env.Status == entity.StatusActive {
			return env.Clone(), true
		}
	}
	return entity.Environment{}, false
}

// =============================================================================
// Service Reads
// =============================================================================

// Service returns a copy of the service record, if cached.
func (s *Store) Service(id string) (entity.ServiceData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sd, ok := s.services[id]
	if !ok {
		return entity.ServiceData{}, false
	}
	return sd.Clone(), true
}

// ServicesFor returns copies of the environment's services ordered by
// SortOrder.
func (s *Store) ServicesFor(envID string) []entity.ServiceData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.ServiceData
	for _, sd := range s.services {
		if sd.EnvironmentID == envID {
			out = append(out, sd.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Clock returns the current logical clock for an entity id.
//
// Reconciliation loops read the clock before issuing a backend poll and
// pass it back to ApplyServicePoll so stale results can be detected.
func (s *Store) Clock(id string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clocks[id]
}

// =============================================================================
// Seeding
// =============================================================================

// PutEnvironment inserts or replaces an environment record. Counts as a
// mutation (bumps the clock).
//
// Inserting an active environment while a different one is active violates
// the single-active invariant and fails.
func (s *Store) PutEnvironment(env entity.Environment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if env.Status == entity.StatusActive {
		if other := s.activeLocked(); other != "" && other != env.ID {
			return fmt.Errorf("put environment %s: %w", env.ID, ErrActiveEnvironmentExists)
		}
	}
	clone := env.Clone()
	s.envs[env.ID] = &clone
	s.clocks[env.ID]++
	return nil
}

// PutService inserts or replaces a service record. Counts as a mutation.
func (s *Store) PutService(sd entity.ServiceData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.envs[sd.EnvironmentID]; !ok {
		return fmt.Errorf("put service %s: environment %s: %w", sd.ID, sd.EnvironmentID, ErrNotFound)
	}
	clone := sd.Clone()
	s.services[sd.ID] = &clone
	s.clocks[sd.ID]++
	env := s.envs[sd.EnvironmentID]
	if !containsID(env.ServiceDataIDs, sd.ID) {
		env.ServiceDataIDs = append(env.ServiceDataIDs, sd.ID)
	}
	return nil
}

// =============================================================================
// Mutations
// =============================================================================

// MutateService applies fn to the cached service record under the write
// lock, bumps its clock, and returns the updated copy with the new clock.
//
// This is the write path for optimistic flips, rollbacks, and adopting a
// canonical record returned by the backend.
func (s *Store) MutateService(id string, fn func(*entity.ServiceData)) (entity.ServiceData, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sd, ok := s.services[id]
	if !ok {
		return entity.ServiceData{}, 0, fmt.Errorf("mutate service %s: %w", id, ErrNotFound)
	}
	fn(sd)
	s.clocks[id]++
	return sd.Clone(), s.clocks[id], nil
}

// MutateEnvironment applies fn to the cached environment under the write
// lock and bumps its clock.
//
// fn must not set StatusActive; use ActivateEnvironment so the
// single-active invariant is checked.
func (s *Store) MutateEnvironment(id string, fn func(*entity.Environment)) (entity.Environment, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envs[id]
	if !ok {
		return entity.Environment{}, 0, fmt.Errorf("mutate environment %s: %w", id, ErrNotFound)
	}
	prev := env.Status
	fn(env)
	if env.Status == entity.StatusActive && prev != entity.StatusActive {
		env.Status = prev
		return entity.Environment{}, 0, fmt.Errorf("mutate environment %s: activation must go through ActivateEnvironment", id)
	}
	s.clocks[id]++
	return env.Clone(), s.clocks[id], nil
}

// ActivateEnvironment marks the environment active, enforcing that no other
// environment currently is.
func (s *Store) ActivateEnvironment(id string) (entity.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envs[id]
	if !ok {
		return entity.Environment{}, fmt.Errorf("activate environment %s: %w", id, ErrNotFound)
	}
	if other := s.activeLocked(); other != "" && other != id {
		return entity.Environment{}, fmt.Errorf("activate environment %s: %w (active: %s)", id, ErrActiveEnvironmentExists, other)
	}
	env.Status = entity.StatusActive
	s.clocks[id]++
	return env.Clone(), nil
}

// DeactivateEnvironment clears the environment's active flag.
func (s *Store) DeactivateEnvironment(id string) (entity.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envs[id]
	if !ok {
		return entity.Environment{}, fmt.Errorf("deactivate environment %s: %w", id, ErrNotFound)
	}
	env.Status = entity.StatusInactive
	s.clocks[id]++
	return env.Clone(), nil
}

// DeleteEnvironment removes the environment and its services. Forbidden
// while the environment is active.
func (s *Store) DeleteEnvironment(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envs[id]
	if !ok {
		return fmt.Errorf("delete environment %s: %w", id, ErrNotFound)
	}
	if env.Status == entity.StatusActive {
		return fmt.Errorf("delete environment %s: %w", id, ErrEnvironmentActive)
	}
	for _, sid := range env.ServiceDataIDs {
		delete(s.services, sid)
		delete(s.clocks, sid)
		delete(s.runtime, sid)
	}
	delete(s.envs, id)
	delete(s.clocks, id)
	return nil
}

// DeleteService removes a single service record.
func (s *Store) DeleteService(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sd, ok := s.services[id]
	if !ok {
		return fmt.Errorf("delete service %s: %w", id, ErrNotFound)
	}
	if env, ok := s.envs[sd.EnvironmentID]; ok {
		env.ServiceDataIDs = removeID(env.ServiceDataIDs, id)
	}
	delete(s.services, id)
	delete(s.clocks, id)
	delete(s.runtime, id)
	return nil
}

// =============================================================================
// Poll Application
// =============================================================================

// ApplyServicePoll applies a reconciliation poll result observed at clock
// asOf. The result is discarded when a mutation bumped the clock after the
// poll was issued; a poll must never overwrite a newer optimistic write.
//
// Returns true when the result was applied. Applying a poll does not bump
// the clock: ground truth reads are idempotent and two concurrent polls of
// the same snapshot may both apply.
func (s *Store) ApplyServicePoll(id string, asOf uint64, fn func(*entity.ServiceData)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sd, ok := s.services[id]
	if !ok {
		return false, fmt.Errorf("apply poll for service %s: %w", id, ErrNotFound)
	}
	if s.clocks[id] != asOf {
		s.logger.Debug("discarding stale poll result",
			"service_id", id,
			"poll_clock", asOf,
			"current_clock", s.clocks[id],
		)
		return false, nil
	}
	fn(sd)
	return true, nil
}

// ApplyEnvironmentPoll is ApplyServicePoll for environment records.
//
// The single-active invariant is still enforced: a poll claiming a second
// active environment is discarded, since one of the two records is about
// to be corrected by the next cycle anyway.
func (s *Store) ApplyEnvironmentPoll(id string, asOf uint64, fn func(*entity.Environment)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envs[id]
	if !ok {
		return false, fmt.Errorf("apply poll for environment %s: %w", id, ErrNotFound)
	}
	if s.clocks[id] != asOf {
		s.logger.Debug("discarding stale poll result",
			"environment_id", id,
			"poll_clock", asOf,
			"current_clock", s.clocks[id],
		)
		return false, nil
	}
	prev := env.Status
	fn(env)
	if env.Status == entity.StatusActive && prev != entity.StatusActive {
		if other := s.activeLocked(); other != "" && other != id {
			env.Status = prev
			return false, nil
		}
	}
	return true, nil
}

// =============================================================================
// Runtime Observation
// =============================================================================

// SetRuntime records the OS-observed process state for a service. Purely
// observational; no clock involved.
func (s *Store) SetRuntime(serviceID string, state entity.RuntimeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtime[serviceID] = state
}

// Runtime returns the last observed process state for a service.
func (s *Store) Runtime(serviceID string) entity.RuntimeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runtime[serviceID]
}

// =============================================================================
// Internal Helpers
// =============================================================================

// activeLocked returns the id of the active environment, or "". Caller
// must hold the lock.
func (s *Store) activeLocked() string {
	for id, env := range s.envs {
		if env.Status == entity.StatusActive {
			return id
		}
	}
	return ""
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
