// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package gateway defines the contract with the trusted backend daemon.

The core never talks to the operating system or the persisted record
directly; every authoritative operation goes through this interface. Each
call returns a tagged envelope: a transport-level error means the call
itself could not complete, while a well-formed envelope with Success ==
false is a domain failure whose Message is opaque user-facing text.

# Error Taxonomy

  - TransportError: the request never produced a well-formed response.
    Callers must roll back any optimistic mutation and surface a generic
    failure.
  - DomainError: the backend rejected the operation. The message is opaque
    except for the single recognized elevation sentinel.

Sentinel matching is confined to this package (see IsElevationRequired);
business logic branches on the structured error type, never on message
substrings.
*/
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
)

// =============================================================================
// Result Envelope
// =============================================================================

// Result is the tagged success/failure envelope every backend call returns.
//
// Data is optional: lifecycle operations return the canonical updated record
// on success so the client cache can adopt backend truth instead of trusting
// its own optimistic guess.
type Result[T any] struct {
	// Success reports whether the backend accepted the operation.
	Success bool `json:"success"`

	// Message is optional, user-facing text. Opaque to the core except for
	// the elevation sentinel.
	Message string `json:"message,omitempty"`

	// Data is the optional canonical payload.
	Data *T `json:"data,omitempty"`
}

// Ok builds a successful envelope carrying a canonical record.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: &data}
}

// Fail builds a failed envelope with a user-facing message.
func Fail[T any](message string) Result[T] {
	return Result[T]{Success: false, Message: message}
}

// Credential is an elevation secret forwarded to credential-gated backend
// operations. The zero value means "no credential supplied".
type Credential string

// IsZero reports whether no credential was supplied.
func (c Credential) IsZero() bool { return c == "" }

// =============================================================================
// Error Types
// =============================================================================

// elevationSentinel is the marker the backend embeds in the failure message
// of a credential-gated operation that was attempted without a valid
// credential. It is the only piece of message text the core interprets.
const elevationSentinel = "ELEVATION_REQUIRED"

// IsElevationRequired reports whether a domain failure message carries the
// elevation sentinel.
//
// This is the only place sentinel matching happens. Callers that need to
// branch should use the structured error types instead of calling this on
// raw messages.
func IsElevationRequired(message string) bool {
	return strings.Contains(message, elevationSentinel)
}

// TransportError means the backend call itself could not complete: the
// daemon was unreachable, the response was malformed, or the context was
// cancelled mid-call.
type TransportError struct {
	// Op names the failed operation, e.g. "service.start".
	Op string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("backend call %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *TransportError) Unwrap() error { return e.Err }

// DomainError is a well-formed rejection from the backend. Its message is
// opaque user-facing text.
type DomainError struct {
	// Op names the rejected operation.
	Op string

	// Message is the backend's user-facing failure text.
	Message string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend rejected %s", e.Op)
	}
	return fmt.Sprintf("backend rejected %s: %s", e.Op, e.Message)
}

// ElevationRequired reports whether this rejection carries the elevation
// sentinel, meaning the operation can be resumed with a credential.
func (e *DomainError) ElevationRequired() bool {
	return IsElevationRequired(e.Message)
}

// Compile-time interface satisfaction checks.
var (
	_ error = (*TransportError)(nil)
	_ error = (*DomainError)(nil)
)

// EnvelopeError classifies a call outcome into the error taxonomy.
//
// Returns nil when the call transported successfully and the backend
// accepted it. A non-nil transport error wins over envelope inspection.
func EnvelopeError[T any](op string, res Result[T], err error) error {
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return err
		}
		return &TransportError{Op: op, Err: err}
	}
	if !res.Success {
		return &DomainError{Op: op, Message: res.Message}
	}
	return nil
}

// =============================================================================
// Gateway Interface
// =============================================================================

// Gateway is the request/response channel to the trusted backend daemon.
//
// All methods are safe for concurrent use and may block until the context
// is cancelled. Every method is idempotent-safe to call: repeating a
// succeeded call returns the same canonical record again.
//
// Credential-gated operations (hosts-file class) accept an optional
// credential; with a missing or invalid credential they fail with a domain
// message carrying the elevation sentinel.
type Gateway interface {
	// ListEnvironments reads every environment record. Used to hydrate
	// the local cache at startup.
	ListEnvironments(ctx context.Context) (Result[[]entity.Environment], error)

	// ListServices reads every service record of one environment.
	ListServices(ctx context.Context, envID string) (Result[[]entity.ServiceData], error)

	// CreateEnvironment persists a new environment and returns the
	// canonical record (the backend assigns the ID).
	CreateEnvironment(ctx context.Context, env entity.Environment) (Result[entity.Environment], error)

	// SaveEnvironment persists metadata changes to an existing environment.
	SaveEnvironment(ctx context.Context, env entity.Environment) (Result[entity.Environment], error)

	// DeleteEnvironment removes an environment. The backend rejects the
	// delete while the environment is active.
	DeleteEnvironment(ctx context.Context, envID string) (Result[entity.Environment], error)

	// ActivateEnvironment marks the environment as the active one.
	ActivateEnvironment(ctx context.Context, envID string) (Result[entity.Environment], error)

	// DeactivateEnvironment clears the environment's active flag.
	DeactivateEnvironment(ctx context.Context, envID string) (Result[entity.Environment], error)

	// GetService re-reads the authoritative service record.
	GetService(ctx context.Context, envID, serviceID string) (Result[entity.ServiceData], error)

	// SaveService persists changes to a service record.
	SaveService(ctx context.Context, sd entity.ServiceData) (Result[entity.ServiceData], error)

	// DeleteService removes a service record.
	DeleteService(ctx context.Context, envID, serviceID string) (Result[entity.ServiceData], error)

	// CheckInstalled reports whether the versioned binary is present on
	// disk, independent of any download task.
	CheckInstalled(ctx context.Context, key entity.DownloadKey) (Result[bool], error)

	// StartDownload begins acquiring a binary version. The returned task
	// carries a fresh ID with zero progress.
	StartDownload(ctx context.Context, key entity.DownloadKey) (Result[entity.DownloadTask], error)

	// CancelDownload stops an in-flight acquisition for the key.
	CancelDownload(ctx context.Context, key entity.DownloadKey) (Result[entity.DownloadTask], error)

	// DownloadProgress reads the current task for the key. A successful
	// envelope with nil Data means the backend tracks no task for the key.
	DownloadProgress(ctx context.Context, key entity.DownloadKey) (Result[entity.DownloadTask], error)

	// StartService activates a service and starts its process if the type
	// can run. Credential-gated for hosts-file-class types.
	StartService(ctx context.Context, sd entity.ServiceData, cred Credential) (Result[entity.ServiceData], error)

	// StopService deactivates a service and stops its process.
	// Credential-gated for hosts-file-class types.
	StopService(ctx context.Context, sd entity.ServiceData, cred Credential) (Result[entity.ServiceData], error)

	// RestartService stops then starts a service's process.
	RestartService(ctx context.Context, sd entity.ServiceData, cred Credential) (Result[entity.ServiceData], error)

	// ServiceStatus reports the OS-observed process state for a service.
	ServiceStatus(ctx context.Context, envID, serviceID string) (Result[entity.RuntimeState], error)
}
