// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
)

// credentialHeader carries the elevation secret to credential-gated
// endpoints. The value is never logged.
const credentialHeader = "X-Envis-Credential"

// requestIDHeader correlates client requests with backend log lines.
const requestIDHeader = "X-Request-ID"

// HTTPGateway implements Gateway over the backend daemon's local HTTP API.
//
// Every endpoint speaks the JSON result envelope. A non-2xx status with a
// decodable envelope is a domain failure; anything else is a transport
// failure. The daemon listens on localhost only, so there is no TLS or
// auth layer here beyond the per-operation credential.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// Compile-time interface satisfaction check.
var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates a gateway client for the daemon at baseURL.
//
// A zero timeout falls back to 30 seconds. Reconciliation loops pass
// short-lived contexts, so the client timeout is only a last resort.
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// call performs one envelope round trip against the daemon.
func call[T any](ctx context.Context, g *HTTPGateway, op, method, path string, body any, cred Credential) (Result[T], error) {
	var res Result[T]

	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return res, &TransportError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, payload)
	if err != nil {
		return res, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, uuid.New().String())
	if !cred.IsZero() {
		req.Header.Set(credentialHeader, string(cred))
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return res, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, &TransportError{Op: op, Err: fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)}
	}
	return res, nil
}

func keyQuery(key entity.DownloadKey) string {
	return fmt.Sprintf("?type=%s&version=%s", url.QueryEscape(string(key.Type)), url.QueryEscape(key.Version))
}

// ListEnvironments reads every environment record.
func (g *HTTPGateway) ListEnvironments(ctx context.Context) (Result[[]entity.Environment], error) {
	return call[[]entity.Environment](ctx, g, "environment.list", http.MethodGet, "/api/v1/environments", nil, "")
}

// ListServices reads every service record of one environment.
func (g *HTTPGateway) ListServices(ctx context.Context, envID string) (Result[[]entity.ServiceData], error) {
	path := "/api/v1/environments/" + url.PathEscape(envID) + "/services"
	return call[[]entity.ServiceData](ctx, g, "service.list", http.MethodGet, path, nil, "")
}

// CreateEnvironment persists a new environment.
func (g *HTTPGateway) CreateEnvironment(ctx context.Context, env entity.Environment) (Result[entity.Environment], error) {
	return call[entity.Environment](ctx, g, "environment.create", http.MethodPost, "/api/v1/environments", env, "")
}

// SaveEnvironment persists metadata changes to an environment.
func (g *HTTPGateway) SaveEnvironment(ctx context.Context, env entity.Environment) (Result[entity.Environment], error) {
	return call[entity.Environment](ctx, g, "environment.save", http.MethodPut, "/api/v1/environments/"+url.PathEscape(env.ID), env, "")
}

// DeleteEnvironment removes an environment.
func (g *HTTPGateway) DeleteEnvironment(ctx context.Context, envID string) (Result[entity.Environment], error) {
	return call[entity.Environment](ctx, g, "environment.delete", http.MethodDelete, "/api/v1/environments/"+url.PathEscape(envID), nil, "")
}

// ActivateEnvironment marks the environment active.
func (g *HTTPGateway) ActivateEnvironment(ctx context.Context, envID string) (Result[entity.Environment], error) {
	return call[entity.Environment](ctx, g, "environment.activate", http.MethodPost, "/api/v1/environments/"+url.PathEscape(envID)+"/activate", nil, "")
}

// DeactivateEnvironment clears the environment's active flag.
func (g *HTTPGateway) DeactivateEnvironment(ctx context.Context, envID string) (Result[entity.Environment], error) {
	return call[entity.Environment](ctx, g, "environment.deactivate", http.MethodPost, "/api/v1/environments/"+url.PathEscape(envID)+"/deactivate", nil, "")
}

// GetService re-reads the authoritative service record.
func (g *HTTPGateway) GetService(ctx context.Context, envID, serviceID string) (Result[entity.ServiceData], error) {
	path := "/api/v1/environments/" + url.PathEscape(envID) + "/services/" + url.PathEscape(serviceID)
	return call[entity.ServiceData](ctx, g, "service.get", http.MethodGet, path, nil, "")
}

// SaveService persists changes to a service record.
func (g *HTTPGateway) SaveService(ctx context.Context, sd entity.ServiceData) (Result[entity.ServiceData], error) {
	path := "/api/v1/environments/" + url.PathEscape(sd.EnvironmentID) + "/services/" + url.PathEscape(sd.ID)
	return call[entity.ServiceData](ctx, g, "service.save", http.MethodPut, path, sd, "")
}

// DeleteService removes a service record.
func (g *HTTPGateway) DeleteService(ctx context.Context, envID, serviceID string) (Result[entity.ServiceData], error) {
	path := "/api/v1/environments/" + url.PathEscape(envID) + "/services/" + url.PathEscape(serviceID)
	return call[entity.ServiceData](ctx, g, "service.delete", http.MethodDelete, path, nil, "")
}

// CheckInstalled reports whether the versioned binary is on disk.
func (g *HTTPGateway) CheckInstalled(ctx context.Context, key entity.DownloadKey) (Result[bool], error) {
	return call[bool](ctx, g, "download.check", http.MethodGet, "/api/v1/downloads/installed"+keyQuery(key), nil, "")
}

// StartDownload begins acquiring a binary version.
func (g *HTTPGateway) StartDownload(ctx context.Context, key entity.DownloadKey) (Result[entity.DownloadTask], error) {
	return call[entity.DownloadTask](ctx, g, "download.start", http.MethodPost, "/api/v1/downloads"+keyQuery(key), nil, "")
}

// CancelDownload stops an in-flight acquisition.
func (g *HTTPGateway) CancelDownload(ctx context.Context, key entity.DownloadKey) (Result[entity.DownloadTask], error) {
	return call[entity.DownloadTask](ctx, g, "download.cancel", http.MethodDelete, "/api/v1/downloads"+keyQuery(key), nil, "")
}

// DownloadProgress reads the current task for the key.
func (g *HTTPGateway) DownloadProgress(ctx context.Context, key entity.DownloadKey) (Result[entity.DownloadTask], error) {
	return call[entity.DownloadTask](ctx, g, "download.progress", http.MethodGet, "/api/v1/downloads"+keyQuery(key), nil, "")
}

// StartService activates a service, forwarding the credential if supplied.
func (g *HTTPGateway) StartService(ctx context.Context, sd entity.ServiceData, cred Credential) (Result[entity.ServiceData], error) {
	path := "/api/v1/environments/" + url.PathEscape(sd.EnvironmentID) + "/services/" + url.PathEscape(sd.ID) + "/start"
	return call[entity.ServiceData](ctx, g, "service.start", http.MethodPost, path, sd, cred)
}

// StopService deactivates a service, forwarding the credential if supplied.
func (g *HTTPGateway) StopService(ctx context.Context, sd entity.ServiceData, cred Credential) (Result[entity.ServiceData], error) {
	path := "/api/v1/environments/" + url.PathEscape(sd.EnvironmentID) + "/services/" + url.PathEscape(sd.ID) + "/stop"
	return call[entity.ServiceData](ctx, g, "service.stop", http.MethodPost, path, sd, cred)
}

// RestartService bounces a service's process.
func (g *HTTPGateway) RestartService(ctx context.Context, sd entity.ServiceData, cred Credential) (Result[entity.ServiceData], error) {
	path := "/api/v1/environments/" + url.PathEscape(sd.EnvironmentID) + "/services/" + url.PathEscape(sd.ID) + "/restart"
	return call[entity.ServiceData](ctx, g, "service.restart", http.MethodPost, path, sd, cred)
}

// ServiceStatus reports the OS-observed process state.
func (g *HTTPGateway) ServiceStatus(ctx context.Context, envID, serviceID string) (Result[entity.RuntimeState], error) {
	path := "/api/v1/environments/" + url.PathEscape(envID) + "/services/" + url.PathEscape(serviceID) + "/status"
	return call[entity.RuntimeState](ctx, g, "service.status", http.MethodGet, path, nil, "")
}
