// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package reconcile keeps the local cache converging on the backend.

Every observed service gets up to three poll loops, one per concern:

  - activation: fetch the canonical service record and apply it under
    the entity's logical clock — a poll that raced a local mutation is
    discarded, never merged;
  - runtime: ask whether the underlying process is actually running;
  - download: refresh the shared download task for the service's
    type@version key.

Each loop polls once immediately, then on a fixed interval, with a
global rate limiter shedding ticks under load. Cancelling a handle is
synchronous: when Cancel returns, no loop for that service will issue
another gateway call.
*/
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xopenbeta/envis/cmd/envis/internal/download"
	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
	"github.com/xopenbeta/envis/cmd/envis/internal/gateway"
	"github.com/xopenbeta/envis/cmd/envis/internal/metrics"
	"github.com/xopenbeta/envis/cmd/envis/internal/runtime"
	"github.com/xopenbeta/envis/cmd/envis/internal/store"
	"github.com/xopenbeta/envis/cmd/envis/internal/util"
)

// DefaultInterval is the poll cadence used when none is configured.
const DefaultInterval = 500 * time.Millisecond

// =============================================================================
// Handle
// =============================================================================

// Handle controls the poll loops of one observed service.
//
// # Thread Safety
//
// Safe for concurrent use. Cancel is idempotent.
type Handle struct {
	serviceID string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	once      sync.Once
	sched     *Scheduler
}

// ServiceID returns the observed service's ID.
func (h *Handle) ServiceID() string { return h.serviceID }

// Cancel stops the service's poll loops and waits for them to exit.
//
// When Cancel returns, no further polls for this service will reach the
// gateway. Safe to call more than once.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.cancel()
		h.wg.Wait()
		h.sched.drop(h.serviceID)
	})
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler owns the poll loops for all observed services.
//
// # Thread Safety
//
// Safe for concurrent use.
type Scheduler struct {
	store     *store.Store
	gw        gateway.Gateway
	downloads *download.Coordinator
	runtime   *runtime.Observer
	logger    *slog.Logger
	metrics   metrics.Recorder
	interval  time.Duration
	limiter   *rate.Limiter

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewScheduler creates a reconciliation scheduler.
//
// interval <= 0 defaults to DefaultInterval. maxPollsPerSecond <= 0
// disables rate limiting. A nil logger falls back to slog.Default();
// a nil recorder falls back to the no-op recorder.
func NewScheduler(st *store.Store, gw gateway.Gateway, dl *download.Coordinator, rt *runtime.Observer, logger *slog.Logger, rec metrics.Recorder, interval time.Duration, maxPollsPerSecond float64) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.NewNoOpMetrics()
	}
	limit := rate.Inf
	burst := 1
	if maxPollsPerSecond > 0 {
		limit = rate.Limit(maxPollsPerSecond)
		burst = int(maxPollsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Scheduler{
		store:     st,
		gw:        gw,
		downloads: dl,
		runtime:   rt,
		logger:    logger,
		metrics:   rec,
		interval:  interval,
		limiter:   rate.NewLimiter(limit, burst),
		handles:   make(map[string]*Handle),
	}
}

// Observe starts poll loops for one service and returns their handle.
//
// Loops are chosen by the service type's capabilities: every service
// gets the activation loop, runnable types add the runtime loop, and
// downloadable types with a version add the download loop. Observing an
// already-observed service returns the existing handle.
func (s *Scheduler) Observe(sd entity.ServiceData) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[sd.ID]; ok {
		return h
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{serviceID: sd.ID, cancel: cancel, sched: s}
	s.handles[sd.ID] = h

	caps := sd.Type.Capabilities()

	s.spawn(ctx, h, "activation", s.pollActivation)
	if caps.CanRun {
		s.spawn(ctx, h, "runtime", s.pollRuntime)
	}
	if caps.NeedsDownload {
		s.spawn(ctx, h, "download", s.pollDownload)
	}

	s.logger.Debug("observing service",
		"service_id", sd.ID, "type", string(sd.Type),
		"runtime", caps.CanRun, "download", caps.NeedsDownload)
	return h
}

// ObserveEnvironment observes every service of one environment.
func (s *Scheduler) ObserveEnvironment(envID string) []*Handle {
	services := s.store.ServicesFor(envID)
	handles := make([]*Handle, 0, len(services))
	for _, sd := range services {
		handles = append(handles, s.Observe(sd))
	}
	return handles
}

// CancelAll stops every observed service's loops and waits for them.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Observed reports whether the service currently has live poll loops.
func (s *Scheduler) Observed(serviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[serviceID]
	return ok
}

// ForceReconcile polls every concern of every service in envID once,
// immediately, bypassing the rate limiter. Used after a switch so the
// incoming environment settles without waiting out a tick.
func (s *Scheduler) ForceReconcile(ctx context.Context, envID string) {
	for _, sd := range s.store.ServicesFor(envID) {
		caps := sd.Type.Capabilities()
		if err := s.pollActivation(ctx, sd.ID); err != nil {
			s.logger.Debug("forced activation poll failed", "service_id", sd.ID, "error", err)
		}
		if caps.CanRun {
			if err := s.pollRuntime(ctx, sd.ID); err != nil {
				s.logger.Debug("forced runtime poll failed", "service_id", sd.ID, "error", err)
			}
		}
		if caps.NeedsDownload {
			if err := s.pollDownload(ctx, sd.ID); err != nil {
				s.logger.Debug("forced download poll failed", "service_id", sd.ID, "error", err)
			}
		}
	}
}

func (s *Scheduler) drop(serviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, serviceID)
}

// =============================================================================
// Poll Loops
// =============================================================================

// errStopLoop tells a loop to exit without logging a failure.
var errStopLoop = errors.New("stop poll loop")

type pollFunc func(ctx context.Context, serviceID string) error

// spawn starts one poll loop under the handle's wait group.
func (s *Scheduler) spawn(ctx context.Context, h *Handle, kind string, fn pollFunc) {
	h.wg.Add(1)
	util.SafeGo(func() {
		defer h.wg.Done()
		s.loop(ctx, h.serviceID, kind, fn)
	}, func(r util.SafeGoResult) {
		s.logger.Error("poll loop panicked",
			"service_id", h.serviceID, "kind", kind,
			"panic", r.PanicValue, "stack", r.Stack)
	})
}

// loop polls immediately, then on every tick, until ctx is cancelled or
// the poll reports the service is gone.
func (s *Scheduler) loop(ctx context.Context, serviceID, kind string, fn pollFunc) {
	poll := func() bool {
		if !s.limiter.Allow() {
			s.logger.Debug("poll shed by rate limiter", "service_id", serviceID, "kind", kind)
			return true
		}
		err := fn(ctx, serviceID)
		switch {
		case err == nil:
			return true
		case errors.Is(err, errStopLoop), errors.Is(err, store.ErrNotFound):
			s.logger.Debug("poll loop retiring", "service_id", serviceID, "kind", kind)
			return false
		case ctx.Err() != nil:
			return false
		default:
			// Transient failures keep the loop alive; the backend being
			// briefly unreachable is normal.
			s.logger.Debug("poll failed", "service_id", serviceID, "kind", kind, "error", err)
			return true
		}
	}

	if !poll() {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !poll() {
				return
			}
		}
	}
}

// pollActivation fetches the canonical service record and applies it
// under the logical clock captured before the gateway call. A local
// mutation landing between capture and apply makes the poll stale; the
// store discards it and the next tick retries against the new clock.
func (s *Scheduler) pollActivation(ctx context.Context, serviceID string) error {
	asOf := s.store.Clock(serviceID)
	sd, ok := s.store.Service(serviceID)
	if !ok {
		return errStopLoop
	}

	res, err := s.gw.GetService(ctx, sd.EnvironmentID, serviceID)
	if cerr := gateway.EnvelopeError("service.get", res, err); cerr != nil {
		return cerr
	}
	s.metrics.RecordPoll("activation")
	if res.Data == nil {
		return nil
	}

	canonical := *res.Data
	applied, err := s.store.ApplyServicePoll(serviceID, asOf, func(cur *entity.ServiceData) {
		id := cur.ID
		*cur = canonical
		cur.ID = id
	})
	if err != nil {
		return err
	}
	if !applied {
		s.metrics.RecordStalePoll("activation")
	}
	return nil
}

// pollRuntime refreshes the observed runtime state. Observer errors
// still carry a state (RuntimeUnknown), which is recorded so the UI
// stops claiming a process is running when nobody can tell.
func (s *Scheduler) pollRuntime(ctx context.Context, serviceID string) error {
	sd, ok := s.store.Service(serviceID)
	if !ok {
		return errStopLoop
	}

	state, err := s.runtime.Poll(ctx, sd)
	if errors.Is(err, runtime.ErrNotRunnable) {
		return errStopLoop
	}
	s.store.SetRuntime(serviceID, state)
	s.metrics.RecordPoll("runtime")
	return err
}

// pollDownload refreshes the shared download task for the service's
// version key. Services without a pinned version have nothing to poll.
func (s *Scheduler) pollDownload(ctx context.Context, serviceID string) error {
	sd, ok := s.store.Service(serviceID)
	if !ok {
		return errStopLoop
	}
	if sd.Version == "" {
		return nil
	}

	key := entity.DownloadKey{Type: sd.Type, Version: sd.Version}
	if _, err := s.downloads.Poll(ctx, key); err != nil {
		return err
	}
	s.metrics.RecordPoll("download")
	return nil
}
