// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package download owns the shared, version-keyed download state machine.

A binary version is a shared resource: any number of services across any
number of environments may reference (nodejs, "18.0.0"), and they all see
one task. Polling is read-only and idempotent, so concurrent observers
need no coordination; starting and cancelling, which do mutate the task,
are serialized per key so two callers can never race two divergent tasks
into existence for the same version.

# State Machine

	Unknown → NotInstalled → Pending → Downloading → Downloaded → Installing → Installed
	Pending|Downloading|Downloaded|Installing → Failed | Cancelled
	Failed|Cancelled → Pending (retry, fresh task id, progress reset to 0)

Progress for a fixed task id is monotonically non-decreasing; an observed
regression for the same id is clamped to the last known value. A new task
id legitimately resets progress to zero.
*/
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
	"github.com/xopenbeta/envis/cmd/envis/internal/gateway"
	"github.com/xopenbeta/envis/cmd/envis/internal/metrics"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrAlreadyInstalled means Start was called for an installed version.
	ErrAlreadyInstalled = errors.New("version already installed")

	// ErrNotCancellable means Cancel was called outside the in-flight
	// states (and the task is not already terminal).
	ErrNotCancellable = errors.New("no cancellable download for key")
)

// =============================================================================
// Coordinator
// =============================================================================

// Coordinator drives download tasks through their lifecycle and keeps an
// advisory client-side cache of the last known task per key.
//
// The cache is advisory only: the backend owns the task record, and every
// poll replaces the cached view (subject to the monotonic-progress clamp).
//
// # Thread Safety
//
// Safe for concurrent use. Start/Cancel serialize per key; Poll and Task
// never block behind an in-flight Start/Cancel on a different key.
type Coordinator struct {
	gw      gateway.Gateway
	logger  *slog.Logger
	metrics metrics.Recorder

	mu    sync.RWMutex
	tasks map[entity.DownloadKey]entity.DownloadTask

	// keyMu serializes start/cancel per key.
	keyMuMu sync.Mutex
	keyMu   map[entity.DownloadKey]*sync.Mutex

	// installed deduplicates concurrent "is it already installed" checks
	// when several observers poll a key with no live task.
	installed singleflight.Group
}

// NewCoordinator creates a download coordinator.
//
// A nil logger falls back to slog.Default(); a nil recorder falls back to
// the in-memory no-op recorder.
func NewCoordinator(gw gateway.Gateway, logger *slog.Logger, rec metrics.Recorder) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.NewNoOpMetrics()
	}
	return &Coordinator{
		gw:      gw,
		logger:  logger,
		metrics: rec,
		tasks:   make(map[entity.DownloadKey]entity.DownloadTask),
		keyMu:   make(map[entity.DownloadKey]*sync.Mutex),
	}
}

// lockKey returns the mutex serializing start/cancel for one key.
func (c *Coordinator) lockKey(key entity.DownloadKey) *sync.Mutex {
	c.keyMuMu.Lock()
	defer c.keyMuMu.Unlock()
	mu, ok := c.keyMu[key]
	if !ok {
		mu = &sync.Mutex{}
		c.keyMu[key] = mu
	}
	return mu
}

// =============================================================================
// Operations
// =============================================================================

// Start begins acquiring the keyed binary version.
//
// Fails with ErrAlreadyInstalled when the version is already installed.
// Otherwise a fresh task is created: new id, zero progress, state Pending.
// Restarting after Failed or Cancelled supersedes the old task entirely.
func (c *Coordinator) Start(ctx context.Context, key entity.DownloadKey) (entity.DownloadTask, error) {
	mu := c.lockKey(key)
	mu.Lock()
	defer mu.Unlock()

	current, err := c.Poll(ctx, key)
	if err != nil {
		return entity.DownloadTask{}, err
	}
	if current.State == entity.DownloadInstalled {
		return current, fmt.Errorf("start download %s: %w", key, ErrAlreadyInstalled)
	}

	res, err := c.gw.StartDownload(ctx, key)
	if cerr := gateway.EnvelopeError("download.start", res, err); cerr != nil {
		return entity.DownloadTask{}, cerr
	}

	task := entity.DownloadTask{
		Key:   key,
		State: entity.DownloadPending,
	}
	if res.Data != nil {
		task = *res.Data
		task.Key = key
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	// A superseding task always restarts from zero, whatever the previous
	// attempt had transferred.
	task.DownloadedSize = 0
	if task.State == entity.DownloadUnknown {
		task.State = entity.DownloadPending
	}

	c.mu.Lock()
	c.tasks[key] = task
	c.mu.Unlock()

	c.logger.Info("download started", "key", key.String(), "task_id", task.ID)
	return task, nil
}

// Cancel stops an in-flight acquisition for the key.
//
// Valid only from Pending, Downloading, Downloaded, or Installing. Calling
// Cancel on a task that is already terminal is a no-op returning the
// terminal task. Cancelling a key with no task at all fails with
// ErrNotCancellable.
func (c *Coordinator) Cancel(ctx context.Context, key entity.DownloadKey) (entity.DownloadTask, error) {
	mu := c.lockKey(key)
	mu.Lock()
	defer mu.Unlock()

	current, err := c.Poll(ctx, key)
	if err != nil {
		return entity.DownloadTask{}, err
	}
	if current.State.Terminal() {
		return current, nil
	}
	if !current.State.InFlight() {
		return current, fmt.Errorf("cancel download %s (state %s): %w", key, current.State, ErrNotCancellable)
	}

	res, err := c.gw.CancelDownload(ctx, key)
	if cerr := gateway.EnvelopeError("download.cancel", res, err); cerr != nil {
		return entity.DownloadTask{}, cerr
	}

	task := current
	task.State = entity.DownloadCancelled
	if res.Data != nil {
		task = *res.Data
		task.Key = key
	}

	c.mu.Lock()
	c.tasks[key] = task
	c.mu.Unlock()

	c.logger.Info("download cancelled", "key", key.String(), "task_id", task.ID)
	return task, nil
}

// Poll reads the backend's current view of the key and updates the
// advisory cache. Read-only with respect to the task itself.
//
// When the backend tracks no task for the key, Poll falls back to an
// installed check and synthesizes Installed or NotInstalled. Concurrent
// fallback checks for the same key are deduplicated.
func (c *Coordinator) Poll(ctx context.Context, key entity.DownloadKey) (entity.DownloadTask, error) {
	res, err := c.gw.DownloadProgress(ctx, key)
	if cerr := gateway.EnvelopeError("download.progress", res, err); cerr != nil {
		return entity.DownloadTask{}, cerr
	}

	if res.Data == nil {
		return c.pollInstalled(ctx, key)
	}

	incoming := *res.Data
	incoming.Key = key

	c.mu.Lock()
	cached, had := c.tasks[key]
	if had && cached.ID == incoming.ID && incoming.DownloadedSize < cached.DownloadedSize {
		// Progress never regresses within one task. Keep the high-water
		// mark; the backend will catch up or supersede the task.
		incoming.DownloadedSize = cached.DownloadedSize
	}
	delta := incoming.DownloadedSize
	if had && cached.ID == incoming.ID {
		delta = incoming.DownloadedSize - cached.DownloadedSize
	}
	c.tasks[key] = incoming
	c.mu.Unlock()

	c.metrics.RecordDownloadBytes(delta)
	return incoming, nil
}

// pollInstalled synthesizes a task from a bare installed check.
func (c *Coordinator) pollInstalled(ctx context.Context, key entity.DownloadKey) (entity.DownloadTask, error) {
	v, err, _ := c.installed.Do(key.String(), func() (any, error) {
		res, err := c.gw.CheckInstalled(ctx, key)
		if cerr := gateway.EnvelopeError("download.check", res, err); cerr != nil {
			return false, cerr
		}
		return res.Data != nil && *res.Data, nil
	})
	if err != nil {
		return entity.DownloadTask{}, err
	}

	state := entity.DownloadNotInstalled
	if v.(bool) {
		state = entity.DownloadInstalled
	}
	task := entity.DownloadTask{Key: key, State: state}

	c.mu.Lock()
	c.tasks[key] = task
	c.mu.Unlock()
	return task, nil
}

// Task returns the cached view of a key without touching the backend.
func (c *Coordinator) Task(key entity.DownloadKey) (entity.DownloadTask, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	task, ok := c.tasks[key]
	return task, ok
}
