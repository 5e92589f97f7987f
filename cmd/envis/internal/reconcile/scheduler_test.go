// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/xopenbeta/envis/cmd/envis/internal/download"
	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
	"github.com/xopenbeta/envis/cmd/envis/internal/gateway"
	"github.com/xopenbeta/envis/cmd/envis/internal/metrics"
	"github.com/xopenbeta/envis/cmd/envis/internal/runtime"
	"github.com/xopenbeta/envis/cmd/envis/internal/store"
)

type schedFixture struct {
	st    *store.Store
	mock  *gateway.Mock
	rec   *metrics.NoOpMetrics
	sched *Scheduler
}

func newSchedFixture(t *testing.T, interval time.Duration) *schedFixture {
	t.Helper()
	st := store.New(nil)
	if err := st.PutEnvironment(entity.Environment{ID: "e1", Status: entity.StatusActive}); err != nil {
		t.Fatal(err)
	}
	mock := &gateway.Mock{}
	rec := metrics.NewNoOpMetrics()
	sched := NewScheduler(
		st, mock,
		download.NewCoordinator(mock, nil, rec),
		runtime.NewObserver(mock, nil),
		nil, rec, interval, 0,
	)
	return &schedFixture{st: st, mock: mock, rec: rec, sched: sched}
}

func (f *schedFixture) seedService(t *testing.T, id string, typ entity.ServiceType, version string) entity.ServiceData {
	t.Helper()
	sd := entity.ServiceData{ID: id, EnvironmentID: "e1", Type: typ, Version: version, Status: entity.StatusActive}
	if err := f.st.PutService(sd); err != nil {
		t.Fatal(err)
	}
	return sd
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestScheduler_Observe_LoopsPerCapabilities(t *testing.T) {
	f := newSchedFixture(t, time.Hour) // only the immediate poll fires
	pg := f.seedService(t, "pg", entity.TypePostgres, "16.4")
	defer f.sched.CancelAll()

	f.sched.Observe(pg)

	ok := waitFor(t, 2*time.Second, func() bool {
		return f.mock.CallsTo("GetService") >= 1 &&
			f.mock.CallsTo("ServiceStatus") >= 1 &&
			f.mock.CallsTo("DownloadProgress") >= 1
	})
	if !ok {
		t.Fatalf("expected one immediate poll per concern, calls: %+v", f.mock.GetCalls())
	}
}

func TestScheduler_Observe_NonRunnableSkipsRuntimeLoop(t *testing.T) {
	f := newSchedFixture(t, time.Hour)
	hosts := f.seedService(t, "hosts", entity.TypeHosts, "")
	defer f.sched.CancelAll()

	f.sched.Observe(hosts)

	if !waitFor(t, 2*time.Second, func() bool { return f.mock.CallsTo("GetService") >= 1 }) {
		t.Fatal("activation loop never polled")
	}
	// Give any stray loop a moment to show itself.
	time.Sleep(50 * time.Millisecond)
	if n := f.mock.CallsTo("ServiceStatus"); n != 0 {
		t.Errorf("runtime polls for a non-runnable type: %d", n)
	}
	if n := f.mock.CallsTo("DownloadProgress"); n != 0 {
		t.Errorf("download polls for a non-downloadable type: %d", n)
	}
}

func TestScheduler_Observe_Idempotent(t *testing.T) {
	f := newSchedFixture(t, time.Hour)
	pg := f.seedService(t, "pg", entity.TypePostgres, "16.4")
	defer f.sched.CancelAll()

	h1 := f.sched.Observe(pg)
	h2 := f.sched.Observe(pg)
	if h1 != h2 {
		t.Error("observing twice spawned a second handle")
	}
	if !f.sched.Observed("pg") {
		t.Error("Observed false for a live handle")
	}
}

func TestScheduler_Cancel_Synchronous(t *testing.T) {
	f := newSchedFixture(t, 10*time.Millisecond)
	pg := f.seedService(t, "pg", entity.TypePostgres, "16.4")

	h := f.sched.Observe(pg)
	if !waitFor(t, 2*time.Second, func() bool { return f.mock.CallsTo("GetService") >= 1 }) {
		t.Fatal("loops never started polling")
	}

	h.Cancel()
	if f.sched.Observed("pg") {
		t.Error("handle still registered after Cancel")
	}

	// No gateway call may happen after Cancel returns.
	before := len(f.mock.GetCalls())
	time.Sleep(60 * time.Millisecond)
	if after := len(f.mock.GetCalls()); after != before {
		t.Errorf("polls continued after Cancel: %d -> %d", before, after)
	}

	// Idempotent.
	h.Cancel()
}

func TestScheduler_StalePollDiscarded(t *testing.T) {
	f := newSchedFixture(t, time.Hour)
	f.seedService(t, "pg", entity.TypePostgres, "16.4")

	// The backend answers with "inactive", but a local mutation lands
	// while the poll is in flight; the poll is stale and must lose.
	f.mock.GetServiceFunc = func(ctx context.Context, envID, serviceID string) (gateway.Result[entity.ServiceData], error) {
		if _, _, err := f.st.MutateService("pg", func(sd *entity.ServiceData) {
			sd.Status = entity.StatusActive
		}); err != nil {
			t.Error(err)
		}
		return gateway.Ok(entity.ServiceData{
			ID: "pg", EnvironmentID: "e1", Type: entity.TypePostgres,
			Version: "16.4", Status: entity.StatusInactive,
		}), nil
	}

	f.sched.ForceReconcile(context.Background(), "e1")

	sd, _ := f.st.Service("pg")
	if sd.Status != entity.StatusActive {
		t.Error("stale poll overwrote the local mutation")
	}
	if f.rec.StalePolls() != 1 {
		t.Errorf("stale polls recorded = %d, want 1", f.rec.StalePolls())
	}
}

func TestScheduler_FreshPollApplied(t *testing.T) {
	f := newSchedFixture(t, time.Hour)
	f.seedService(t, "pg", entity.TypePostgres, "16.4")

	f.mock.GetServiceFunc = func(ctx context.Context, envID, serviceID string) (gateway.Result[entity.ServiceData], error) {
		return gateway.Ok(entity.ServiceData{
			ID: "pg", EnvironmentID: "e1", Type: entity.TypePostgres,
			Version: "16.5", Status: entity.StatusInactive,
		}), nil
	}

	f.sched.ForceReconcile(context.Background(), "e1")

	sd, _ := f.st.Service("pg")
	if sd.Status != entity.StatusInactive || sd.Version != "16.5" {
		t.Errorf("canonical record not applied: %+v", sd)
	}
	if f.rec.StalePolls() != 0 {
		t.Errorf("fresh poll counted as stale")
	}
}

func TestScheduler_ForceReconcile_AllConcerns(t *testing.T) {
	f := newSchedFixture(t, time.Hour)
	f.seedService(t, "pg", entity.TypePostgres, "16.4")
	f.mock.ServiceStatusFunc = func(ctx context.Context, envID, serviceID string) (gateway.Result[entity.RuntimeState], error) {
		return gateway.Ok(entity.RuntimeRunning), nil
	}

	f.sched.ForceReconcile(context.Background(), "e1")

	if f.mock.CallsTo("GetService") != 1 {
		t.Errorf("GetService calls = %d, want 1", f.mock.CallsTo("GetService"))
	}
	if f.mock.CallsTo("ServiceStatus") != 1 {
		t.Errorf("ServiceStatus calls = %d, want 1", f.mock.CallsTo("ServiceStatus"))
	}
	if f.mock.CallsTo("DownloadProgress") != 1 {
		t.Errorf("DownloadProgress calls = %d, want 1", f.mock.CallsTo("DownloadProgress"))
	}
	if f.st.Runtime("pg") != entity.RuntimeRunning {
		t.Error("runtime observation not recorded")
	}
}

func TestScheduler_CancelAll(t *testing.T) {
	f := newSchedFixture(t, 10*time.Millisecond)
	pg := f.seedService(t, "pg", entity.TypePostgres, "16.4")
	redis := f.seedService(t, "redis", entity.TypeRedis, "7.2")

	f.sched.Observe(pg)
	f.sched.Observe(redis)
	f.sched.CancelAll()

	if f.sched.Observed("pg") || f.sched.Observed("redis") {
		t.Error("handles survived CancelAll")
	}
	before := len(f.mock.GetCalls())
	time.Sleep(60 * time.Millisecond)
	if after := len(f.mock.GetCalls()); after != before {
		t.Errorf("polls continued after CancelAll: %d -> %d", before, after)
	}
}
