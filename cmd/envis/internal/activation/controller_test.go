// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package activation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
	"github.com/xopenbeta/envis/cmd/envis/internal/gateway"
	"github.com/xopenbeta/envis/cmd/envis/internal/metrics"
	"github.com/xopenbeta/envis/cmd/envis/internal/store"
)

// newFixture seeds a store with one active environment owning one service.
func newFixture(t *testing.T, svcStatus entity.Status, svcType entity.ServiceType) *store.Store {
	t.Helper()
	st := store.New(nil)
	if err := st.PutEnvironment(entity.Environment{ID: "e1", Name: "dev", Status: entity.StatusActive}); err != nil {
		t.Fatalf("seed environment: %v", err)
	}
	if err := st.PutService(entity.ServiceData{
		ID: "svc1", EnvironmentID: "e1", Type: svcType, Version: "16.4", Status: svcStatus,
	}); err != nil {
		t.Fatalf("seed service: %v", err)
	}
	return st
}

func TestController_Toggle_InactiveEnvironmentRefused(t *testing.T) {
	st := store.New(nil)
	if err := st.PutEnvironment(entity.Environment{ID: "e1", Status: entity.StatusInactive}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutService(entity.ServiceData{ID: "svc1", EnvironmentID: "e1", Type: entity.TypeRedis}); err != nil {
		t.Fatal(err)
	}
	mock := &gateway.Mock{}
	c := NewController(st, mock, nil, nil, nil)

	_, err := c.Toggle(context.Background(), "svc1", "")
	var nae *EnvironmentNotActiveError
	if !errors.As(err, &nae) {
		t.Fatalf("expected EnvironmentNotActiveError, got %v", err)
	}
	if nae.EnvironmentID != "e1" || nae.ServiceID != "svc1" {
		t.Errorf("error fields = %+v", nae)
	}
	if len(mock.GetCalls()) != 0 {
		t.Error("backend was called for a refused toggle")
	}
}

func TestController_Toggle_SuccessAdoptsCanonical(t *testing.T) {
	st := newFixture(t, entity.StatusInactive, entity.TypeRedis)
	mock := &gateway.Mock{
		StartServiceFunc: func(ctx context.Context, sd entity.ServiceData, cred gateway.Credential) (gateway.Result[entity.ServiceData], error) {
			// The backend returns more than the flipped bit: canonical
			// metadata the optimistic write could not know about.
			sd.Status = entity.StatusActive
			sd.Metadata = map[string]string{"port": "6379"}
			return gateway.Ok(sd), nil
		},
	}
	c := NewController(st, mock, nil, nil, nil)

	settled, err := c.Toggle(context.Background(), "svc1", "")
	if err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if settled.Status != entity.StatusActive {
		t.Errorf("settled status = %v, want active", settled.Status)
	}
	if settled.Metadata["port"] != "6379" {
		t.Error("canonical record not adopted into the cache")
	}
	cached, _ := st.Service("svc1")
	if cached.Metadata["port"] != "6379" {
		t.Error("cache holds the optimistic guess, not backend truth")
	}
}

func TestController_Toggle_ActiveServiceStops(t *testing.T) {
	st := newFixture(t, entity.StatusActive, entity.TypeRedis)
	mock := &gateway.Mock{}
	c := NewController(st, mock, nil, nil, nil)

	settled, err := c.Toggle(context.Background(), "svc1", "")
	if err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if settled.Status != entity.StatusInactive {
		t.Errorf("settled status = %v, want inactive", settled.Status)
	}
	if mock.CallsTo("StopService") != 1 || mock.CallsTo("StartService") != 0 {
		t.Error("active service toggle should stop, not start")
	}
}

func TestController_Toggle_FailureRollsBack(t *testing.T) {
	tests := []struct {
		name string
		fail func(ctx context.Context, sd entity.ServiceData, cred gateway.Credential) (gateway.Result[entity.ServiceData], error)
	}{
		{
			name: "domain rejection",
			fail: func(ctx context.Context, sd entity.ServiceData, cred gateway.Credential) (gateway.Result[entity.ServiceData], error) {
				return gateway.Fail[entity.ServiceData]("port already in use"), nil
			},
		},
		{
			name: "transport failure",
			fail: func(ctx context.Context, sd entity.ServiceData, cred gateway.Credential) (gateway.Result[entity.ServiceData], error) {
				return gateway.Result[entity.ServiceData]{}, errors.New("connection reset")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFixture(t, entity.StatusInactive, entity.TypeRedis)
			rec := metrics.NewNoOpMetrics()
			c := NewController(st, &gateway.Mock{StartServiceFunc: tt.fail}, nil, nil, rec)

			settled, err := c.Toggle(context.Background(), "svc1", "")
			if err == nil {
				t.Fatal("expected an error")
			}
			if settled.Status != entity.StatusInactive {
				t.Errorf("settled status = %v, want rollback to inactive", settled.Status)
			}
			cached, _ := st.Service("svc1")
			if cached.Status != entity.StatusInactive {
				t.Error("optimistic flip left in the cache after failure")
			}
			if rec.Rollbacks() != 1 {
				t.Errorf("rollbacks recorded = %d, want 1", rec.Rollbacks())
			}
		})
	}
}

func TestController_Toggle_ElevationProtocol(t *testing.T) {
	st := newFixture(t, entity.StatusInactive, entity.TypeHosts)
	session := NewCredentialSession(0)
	mock := &gateway.Mock{
		StartServiceFunc: func(ctx context.Context, sd entity.ServiceData, cred gateway.Credential) (gateway.Result[entity.ServiceData], error) {
			if cred.IsZero() {
				return gateway.Fail[entity.ServiceData]("ELEVATION_REQUIRED: hosts file is protected"), nil
			}
			sd.Status = entity.StatusActive
			return gateway.Ok(sd), nil
		},
	}
	c := NewController(st, mock, session, nil, nil)
	ctx := context.Background()

	_, err := c.Toggle(ctx, "svc1", "")
	var ere *ElevationRequiredError
	if !errors.As(err, &ere) {
		t.Fatalf("expected ElevationRequiredError, got %v", err)
	}

	// The flip was rolled back before the error surfaced.
	cached, _ := st.Service("svc1")
	if cached.Status != entity.StatusInactive {
		t.Fatal("status not rolled back while waiting for the credential")
	}

	// Resume with a credential: fresh toggle, success, credential cached.
	settled, err := ere.Resume(ctx, "hunter2")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if settled.Status != entity.StatusActive {
		t.Errorf("resumed status = %v, want active", settled.Status)
	}
	if got, ok := session.Get(); !ok || got != "hunter2" {
		t.Error("accepted credential not cached in the session")
	}
}

func TestController_Toggle_ExplicitCredentialRejectedIsFinal(t *testing.T) {
	st := newFixture(t, entity.StatusInactive, entity.TypeHosts)
	mock := &gateway.Mock{
		StartServiceFunc: func(ctx context.Context, sd entity.ServiceData, cred gateway.Credential) (gateway.Result[entity.ServiceData], error) {
			return gateway.Fail[entity.ServiceData]("ELEVATION_REQUIRED: bad credential"), nil
		},
	}
	c := NewController(st, mock, NewCredentialSession(0), nil, nil)

	_, err := c.Toggle(context.Background(), "svc1", "wrong")
	var ere *ElevationRequiredError
	if errors.As(err, &ere) {
		t.Fatal("rejected explicit credential produced another elevation prompt")
	}
	var de *gateway.DomainError
	if !errors.As(err, &de) || !de.ElevationRequired() {
		t.Fatalf("expected the final domain error, got %v", err)
	}
}

func TestController_Toggle_CachedCredentialReused(t *testing.T) {
	st := newFixture(t, entity.StatusInactive, entity.TypeHosts)
	session := NewCredentialSession(0)
	session.Put("hunter2")

	var sawCredential bool
	mock := &gateway.Mock{
		StartServiceFunc: func(ctx context.Context, sd entity.ServiceData, cred gateway.Credential) (gateway.Result[entity.ServiceData], error) {
			sawCredential = !cred.IsZero()
			sd.Status = entity.StatusActive
			return gateway.Ok(sd), nil
		},
	}
	c := NewController(st, mock, session, nil, nil)

	if _, err := c.Toggle(context.Background(), "svc1", ""); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if !sawCredential {
		t.Error("session-cached credential not forwarded to the backend")
	}
}

func TestController_Toggle_NonElevatedSkipsSessionLookup(t *testing.T) {
	st := newFixture(t, entity.StatusInactive, entity.TypeRedis)
	session := NewCredentialSession(0)
	session.Put("hunter2")

	var sawCredential bool
	mock := &gateway.Mock{
		StartServiceFunc: func(ctx context.Context, sd entity.ServiceData, cred gateway.Credential) (gateway.Result[entity.ServiceData], error) {
			sawCredential = !cred.IsZero()
			sd.Status = entity.StatusActive
			return gateway.Ok(sd), nil
		},
	}
	c := NewController(st, mock, session, nil, nil)

	if _, err := c.Toggle(context.Background(), "svc1", ""); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if sawCredential {
		t.Error("cached credential forwarded to a non-elevated operation")
	}
}

func TestController_Toggle_ConcurrentSameServiceSerializes(t *testing.T) {
	st := newFixture(t, entity.StatusInactive, entity.TypeRedis)

	// Backend calls for one service must never overlap; the loser of the
	// per-entity lock observes the winner's settled state and reverses it.
	var inFlight, overlaps atomic.Int32
	enter := func() {
		if inFlight.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
	}
	mock := &gateway.Mock{
		StartServiceFunc: func(ctx context.Context, sd entity.ServiceData, cred gateway.Credential) (gateway.Result[entity.ServiceData], error) {
			enter()
			sd.Status = entity.StatusActive
			return gateway.Ok(sd), nil
		},
		StopServiceFunc: func(ctx context.Context, sd entity.ServiceData, cred gateway.Credential) (gateway.Result[entity.ServiceData], error) {
			enter()
			sd.Status = entity.StatusInactive
			return gateway.Ok(sd), nil
		},
	}
	c := NewController(st, mock, nil, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Toggle(context.Background(), "svc1", ""); err != nil {
				t.Errorf("Toggle failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := overlaps.Load(); n != 0 {
		t.Errorf("backend calls overlapped %d time(s)", n)
	}
	// Inactive -> Active -> Inactive: exactly one start and one stop,
	// never two reads of the same baseline.
	if mock.CallsTo("StartService") != 1 || mock.CallsTo("StopService") != 1 {
		t.Errorf("calls = start %d stop %d, want 1 and 1",
			mock.CallsTo("StartService"), mock.CallsTo("StopService"))
	}
	cached, _ := st.Service("svc1")
	if cached.Status != entity.StatusInactive {
		t.Errorf("settled status = %v, want inactive after two toggles", cached.Status)
	}
}

func TestController_Toggle_UnknownService(t *testing.T) {
	c := NewController(store.New(nil), &gateway.Mock{}, nil, nil, nil)
	_, err := c.Toggle(context.Background(), "ghost", "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
