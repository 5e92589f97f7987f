// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"context"
	"sync"

	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
)

// Mock is a test double for Gateway.
//
// Configure the mock by setting function fields before use. Unset fields
// return an empty successful envelope, so tests only wire the calls they
// care about. All invocations are recorded for verification.
//
// # Example
//
//	mock := &gateway.Mock{
//	    StartServiceFunc: func(ctx context.Context, sd entity.ServiceData, cred gateway.Credential) (gateway.Result[entity.ServiceData], error) {
//	        if cred.IsZero() {
//	            return gateway.Fail[entity.ServiceData]("ELEVATION_REQUIRED: hosts file is protected"), nil
//	        }
//	        sd.Status = entity.StatusActive
//	        return gateway.Ok(sd), nil
//	    },
//	}
type Mock struct {
	ListEnvironmentsFunc      func(ctx context.Context) (Result[[]entity.Environment], error)
	ListServicesFunc          func(ctx context.Context, envID string) (Result[[]entity.ServiceData], error)
	CreateEnvironmentFunc     func(ctx context.Context, env entity.Environment) (Result[entity.Environment], error)
	SaveEnvironmentFunc       func(ctx context.Context, env entity.Environment) (Result[entity.Environment], error)
	DeleteEnvironmentFunc     func(ctx context.Context, envID string) (Result[entity.Environment], error)
	ActivateEnvironmentFunc   func(ctx context.Context, envID string) (Result[entity.Environment], error)
	DeactivateEnvironmentFunc func(ctx context.Context, envID string) (Result[entity.Environment], error)

	GetServiceFunc    func(ctx context.Context, envID, serviceID string) (Result[entity.ServiceData], error)
	SaveServiceFunc   func(ctx context.Context, sd entity.ServiceData) (Result[entity.ServiceData], error)
	DeleteServiceFunc func(ctx context.Context, envID, serviceID string) (Result[entity.ServiceData], error)

	CheckInstalledFunc   func(ctx context.Context, key entity.DownloadKey) (Result[bool], error)
	StartDownloadFunc    func(ctx context.Context, key entity.DownloadKey) (Result[entity.DownloadTask], error)
	CancelDownloadFunc   func(ctx context.Context, key entity.DownloadKey) (Result[entity.DownloadTask], error)
	DownloadProgressFunc func(ctx context.Context, key entity.DownloadKey) (Result[entity.DownloadTask], error)

	StartServiceFunc   func(ctx context.Context, sd entity.ServiceData, cred Credential) (Result[entity.ServiceData], error)
	StopServiceFunc    func(ctx context.Context, sd entity.ServiceData, cred Credential) (Result[entity.ServiceData], error)
	RestartServiceFunc func(ctx context.Context, sd entity.ServiceData, cred Credential) (Result[entity.ServiceData], error)
	ServiceStatusFunc  func(ctx context.Context, envID, serviceID string) (Result[entity.RuntimeState], error)

	// Calls records all method invocations in order.
	Calls []MockCall

	// mu protects Calls for concurrent access.
	mu sync.Mutex
}

// MockCall records a single gateway invocation.
type MockCall struct {
	// Method is the Gateway method name.
	Method string

	// EnvID is the environment argument, when the method takes one.
	EnvID string

	// ServiceID is the service argument, when the method takes one.
	ServiceID string

	// Key is the download key argument, when the method takes one.
	Key entity.DownloadKey

	// Credential records whether a credential was supplied (never the value).
	CredentialSupplied bool
}

// Compile-time interface satisfaction check.
var _ Gateway = (*Mock)(nil)

func (m *Mock) record(c MockCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, c)
}

// GetCalls returns a copy of all recorded calls.
func (m *Mock) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// CallsTo returns the number of recorded calls to the named method.
func (m *Mock) CallsTo(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// ListEnvironments delegates to ListEnvironmentsFunc and records the call.
func (m *Mock) ListEnvironments(ctx context.Context) (Result[[]entity.Environment], error) {
	m.record(MockCall{Method: "ListEnvironments"})
	if m.ListEnvironmentsFunc == nil {
		return Ok([]entity.Environment{}), nil
	}
	return m.ListEnvironmentsFunc(ctx)
}

// ListServices delegates to ListServicesFunc and records the call.
func (m *Mock) ListServices(ctx context.Context, envID string) (Result[[]entity.ServiceData], error) {
	m.record(MockCall{Method: "ListServices", EnvID: envID})
	if m.ListServicesFunc == nil {
		return Ok([]entity.ServiceData{}), nil
	}
	return m.ListServicesFunc(ctx, envID)
}

// CreateEnvironment delegates to CreateEnvironmentFunc and records the call.
func (m *Mock) CreateEnvironment(ctx context.Context, env entity.Environment) (Result[entity.Environment], error) {
	m.record(MockCall{Method: "CreateEnvironment", EnvID: env.ID})
	if m.CreateEnvironmentFunc == nil {
		return Ok(env), nil
	}
	return m.CreateEnvironmentFunc(ctx, env)
}

// SaveEnvironment delegates to SaveEnvironmentFunc and records the call.
func (m *Mock) SaveEnvironment(ctx context.Context, env entity.Environment) (Result[entity.Environment], error) {
	m.record(MockCall{Method: "SaveEnvironment", EnvID: env.ID})
	if m.SaveEnvironmentFunc == nil {
		return Ok(env), nil
	}
	return m.SaveEnvironmentFunc(ctx, env)
}

// DeleteEnvironment delegates to DeleteEnvironmentFunc and records the call.
func (m *Mock) DeleteEnvironment(ctx context.Context, envID string) (Result[entity.Environment], error) {
	m.record(MockCall{Method: "DeleteEnvironment", EnvID: envID})
	if m.DeleteEnvironmentFunc == nil {
		return Result[entity.Environment]{Success: true}, nil
	}
	return m.DeleteEnvironmentFunc(ctx, envID)
}

// ActivateEnvironment delegates to ActivateEnvironmentFunc and records the call.
func (m *Mock) ActivateEnvironment(ctx context.Context, envID string) (Result[entity.Environment], error) {
	m.record(MockCall{Method: "ActivateEnvironment", EnvID: envID})
	if m.ActivateEnvironmentFunc == nil {
		return Result[entity.Environment]{Success: true}, nil
	}
	return m.ActivateEnvironmentFunc(ctx, envID)
}

// DeactivateEnvironment delegates to DeactivateEnvironmentFunc and records the call.
func (m *Mock) DeactivateEnvironment(ctx context.Context, envID string) (Result[entity.Environment], error) {
	m.record(MockCall{Method: "DeactivateEnvironment", EnvID: envID})
	if m.DeactivateEnvironmentFunc == nil {
		return Result[entity.Environment]{Success: true}, nil
	}
	return m.DeactivateEnvironmentFunc(ctx, envID)
}

// GetService delegates to GetServiceFunc and records the call.
func (m *Mock) GetService(ctx context.Context, envID, serviceID string) (Result[entity.ServiceData], error) {
	m.record(MockCall{Method: "GetService", EnvID: envID, ServiceID: serviceID})
	if m.GetServiceFunc == nil {
		return Result[entity.ServiceData]{Success: true}, nil
	}
	return m.GetServiceFunc(ctx, envID, serviceID)
}

// SaveService delegates to SaveServiceFunc and records the call.
func (m *Mock) SaveService(ctx context.Context, sd entity.ServiceData) (Result[entity.ServiceData], error) {
	m.record(MockCall{Method: "SaveService", EnvID: sd.EnvironmentID, ServiceID: sd.ID})
	if m.SaveServiceFunc == nil {
		return Ok(sd), nil
	}
	return m.SaveServiceFunc(ctx, sd)
}

// DeleteService delegates to DeleteServiceFunc and records the call.
func (m *Mock) DeleteService(ctx context.Context, envID, serviceID string) (Result[entity.ServiceData], error) {
	m.record(MockCall{Method: "DeleteService", EnvID: envID, ServiceID: serviceID})
	if m.DeleteServiceFunc == nil {
		return Result[entity.ServiceData]{Success: true}, nil
	}
	return m.DeleteServiceFunc(ctx, envID, serviceID)
}

// CheckInstalled delegates to CheckInstalledFunc and records the call.
func (m *Mock) CheckInstalled(ctx context.Context, key entity.DownloadKey) (Result[bool], error) {
	m.record(MockCall{Method: "CheckInstalled", Key: key})
	if m.CheckInstalledFunc == nil {
		return Ok(false), nil
	}
	return m.CheckInstalledFunc(ctx, key)
}

// StartDownload delegates to StartDownloadFunc and records the call.
func (m *Mock) StartDownload(ctx context.Context, key entity.DownloadKey) (Result[entity.DownloadTask], error) {
	m.record(MockCall{Method: "StartDownload", Key: key})
	if m.StartDownloadFunc == nil {
		return Result[entity.DownloadTask]{Success: true}, nil
	}
	return m.StartDownloadFunc(ctx, key)
}

// CancelDownload delegates to CancelDownloadFunc and records the call.
func (m *Mock) CancelDownload(ctx context.Context, key entity.DownloadKey) (Result[entity.DownloadTask], error) {
	m.record(MockCall{Method: "CancelDownload", Key: key})
	if m.CancelDownloadFunc == nil {
		return Result[entity.DownloadTask]{Success: true}, nil
	}
	return m.CancelDownloadFunc(ctx, key)
}

// DownloadProgress delegates to DownloadProgressFunc and records the call.
func (m *Mock) DownloadProgress(ctx context.Context, key entity.DownloadKey) (Result[entity.DownloadTask], error) {
	m.record(MockCall{Method: "DownloadProgress", Key: key})
	if m.DownloadProgressFunc == nil {
		return Result[entity.DownloadTask]{Success: true}, nil
	}
	return m.DownloadProgressFunc(ctx, key)
}

// StartService delegates to StartServiceFunc and records the call.
func (m *Mock) StartService(ctx context.Context, sd entity.ServiceData, cred Credential) (Result[entity.ServiceData], error) {
	m.record(MockCall{Method: "StartService", EnvID: sd.EnvironmentID, ServiceID: sd.ID, CredentialSupplied: !cred.IsZero()})
	if m.StartServiceFunc == nil {
		sd.Status = entity.StatusActive
		return Ok(sd), nil
	}
	return m.StartServiceFunc(ctx, sd, cred)
}

// StopService delegates to StopServiceFunc and records the call.
func (m *Mock) StopService(ctx context.Context, sd entity.ServiceData, cred Credential) (Result[entity.ServiceData], error) {
	m.record(MockCall{Method: "StopService", EnvID: sd.EnvironmentID, ServiceID: sd.ID, CredentialSupplied: !cred.IsZero()})
	if m.StopServiceFunc == nil {
		sd.Status = entity.StatusInactive
		return Ok(sd), nil
	}
	return m.StopServiceFunc(ctx, sd, cred)
}

// RestartService delegates to RestartServiceFunc and records the call.
func (m *Mock) RestartService(ctx context.Context, sd entity.ServiceData, cred Credential) (Result[entity.ServiceData], error) {
	m.record(MockCall{Method: "RestartService", EnvID: sd.EnvironmentID, ServiceID: sd.ID, CredentialSupplied: !cred.IsZero()})
	if m.RestartServiceFunc == nil {
		return Ok(sd), nil
	}
	return m.RestartServiceFunc(ctx, sd, cred)
}

// ServiceStatus delegates to ServiceStatusFunc and records the call.
func (m *Mock) ServiceStatus(ctx context.Context, envID, serviceID string) (Result[entity.RuntimeState], error) {
	m.record(MockCall{Method: "ServiceStatus", EnvID: envID, ServiceID: serviceID})
	if m.ServiceStatusFunc == nil {
		return Ok(entity.RuntimeUnknown), nil
	}
	return m.ServiceStatusFunc(ctx, envID, serviceID)
}
