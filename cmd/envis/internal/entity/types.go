// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package entity defines the domain model shared by the synchronization core:
// environments, configured service instances, download tasks, and the status
// enums that describe them.
//
// Everything in this package is plain data. Behavior (mutation rules,
// reconciliation, state machines) lives in the sibling packages; entity types
// are copied across package boundaries so no component can mutate another's
// view in place.
package entity

import "fmt"

// =============================================================================
// Status Enums
// =============================================================================

// Status is the persisted activation state of an environment or service.
//
// This is the user-intended on/off flag, distinct from the OS-observed
// RuntimeState. A service can be Active (the user wants it on) while its
// process is Stopped (the OS shows it down).
type Status int

const (
	// StatusUnknown means the state has not been established yet.
	StatusUnknown Status = iota

	// StatusActive means the entity is switched on.
	StatusActive

	// StatusInactive means the entity is switched off.
	StatusInactive
)

// String returns "unknown", "active", or "inactive".
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Toggled returns the opposite activation state.
//
// Unknown toggles to Active: the only user intent a toggle on an
// unestablished entity can express is "turn it on".
func (s Status) Toggled() Status {
	if s == StatusActive {
		return StatusInactive
	}
	return StatusActive
}

// RuntimeState is the OS-observed process state of a running service.
//
// RuntimeState is ephemeral and purely observational. The core never writes
// it to the backend; it only reports what polling the OS showed.
type RuntimeState int

const (
	// RuntimeUnknown means the process state has not been observed.
	RuntimeUnknown RuntimeState = iota

	// RuntimeRunning means the service process is up.
	RuntimeRunning

	// RuntimeStopped means no matching process exists.
	RuntimeStopped

	// RuntimeError means the process exists but is unhealthy.
	RuntimeError
)

// String returns the state as a lowercase word for logging and display.
func (r RuntimeState) String() string {
	switch r {
	case RuntimeRunning:
		return "running"
	case RuntimeStopped:
		return "stopped"
	case RuntimeError:
		return "error"
	default:
		return "unknown"
	}
}

// =============================================================================
// Download State Machine States
// =============================================================================

// DownloadState is one state of the version-keyed download state machine.
//
// Valid transitions:
//
//	Unknown → NotInstalled → Pending → Downloading → Downloaded → Installing → Installed
//	Pending|Downloading|Downloaded|Installing → Failed | Cancelled
//	Failed|Cancelled → Pending (retry)
type DownloadState int

const (
	// DownloadUnknown means the key has never been checked.
	DownloadUnknown DownloadState = iota

	// DownloadNotInstalled means the version is absent and no task exists.
	DownloadNotInstalled

	// DownloadPending means a task was created but transfer has not begun.
	DownloadPending

	// DownloadDownloading means bytes are being transferred.
	DownloadDownloading

	// DownloadDownloaded means transfer finished, installation not started.
	DownloadDownloaded

	// DownloadInstalling means the binary is being unpacked and installed.
	DownloadInstalling

	// DownloadInstalled means the version is available for use. Terminal.
	DownloadInstalled

	// DownloadFailed means the task errored. Retryable.
	DownloadFailed

	// DownloadCancelled means the user cancelled the task. Retryable.
	DownloadCancelled
)

// String returns the state name used in logs and the CLI.
func (d DownloadState) String() string {
	switch d {
	case DownloadNotInstalled:
		return "not_installed"
	case DownloadPending:
		return "pending"
	case DownloadDownloading:
		return "downloading"
	case DownloadDownloaded:
		return "downloaded"
	case DownloadInstalling:
		return "installing"
	case DownloadInstalled:
		return "installed"
	case DownloadFailed:
		return "failed"
	case DownloadCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a task's lifecycle.
//
// Installed, Failed, and Cancelled are terminal; Failed and Cancelled can
// still be retried, but the retry creates a fresh task.
func (d DownloadState) Terminal() bool {
	return d == DownloadInstalled || d == DownloadFailed || d == DownloadCancelled
}

// InFlight reports whether a task in this state can be cancelled.
func (d DownloadState) InFlight() bool {
	switch d {
	case DownloadPending, DownloadDownloading, DownloadDownloaded, DownloadInstalling:
		return true
	default:
		return false
	}
}

// =============================================================================
// Core Entities
// =============================================================================

// Environment is a named, mutually-exclusive-when-active collection of
// service instances.
//
// Invariant (enforced by the store): across the full environment set, at most
// one environment has Status == StatusActive.
type Environment struct {
	// ID is the opaque stable identifier.
	ID string

	// Name is the user-visible environment name.
	Name string

	// Status is the persisted activation state.
	Status Status

	// SortOrder defines the list position in the UI.
	SortOrder int

	// ServiceDataIDs is the ordered set of services owned by this environment.
	ServiceDataIDs []string

	// Metadata is a free-form bag opaque to the core.
	Metadata map[string]string
}

// Clone returns a deep copy safe to hand across package boundaries.
func (e Environment) Clone() Environment {
	out := e
	out.ServiceDataIDs = append([]string(nil), e.ServiceDataIDs...)
	out.Metadata = cloneMap(e.Metadata)
	return out
}

// ServiceData is one configured instance of a service type inside an
// environment.
//
// Status is the persisted user intent. It is only meaningful while the owning
// environment is Active; toggling it in an inactive environment must go
// through the switch orchestrator instead.
type ServiceData struct {
	// ID is the opaque stable identifier.
	ID string

	// EnvironmentID is the owning environment.
	EnvironmentID string

	// Type is one of the fixed service catalog entries.
	Type ServiceType

	// Version is the installed binary version. Empty for types with
	// NeedsVersion == false (hosts editor, SSL CA, custom entries).
	Version string

	// Status is the persisted activation intent.
	Status Status

	// SortOrder defines the list position within the environment.
	SortOrder int

	// Metadata holds paths, environment variables, aliases. Opaque here.
	Metadata map[string]string
}

// Clone returns a deep copy safe to hand across package boundaries.
func (s ServiceData) Clone() ServiceData {
	out := s
	out.Metadata = cloneMap(s.Metadata)
	return out
}

// DownloadKey identifies the shared download resource for one binary version.
//
// Downloads are keyed by (type, version), not by service instance or
// environment: two services in different environments referencing
// (nodejs, "18.0.0") share one task.
type DownloadKey struct {
	// Type is the service type being downloaded.
	Type ServiceType

	// Version is the binary version. May be empty for unversioned types.
	Version string
}

// String renders the key as "type@version" for logging and map diagnostics.
func (k DownloadKey) String() string {
	if k.Version == "" {
		return string(k.Type)
	}
	return fmt.Sprintf("%s@%s", k.Type, k.Version)
}

// DownloadTask is the shared, version-keyed record of a binary acquisition.
//
// A new start for the same key supersedes the old task: fresh ID, progress
// reset to zero. Progress for a fixed ID is monotonically non-decreasing.
type DownloadTask struct {
	// ID uniquely identifies this attempt. A retry gets a new ID.
	ID string

	// Key is the (type, version) pair this task acquires.
	Key DownloadKey

	// State is the current state machine position.
	State DownloadState

	// TotalSize is the expected size in bytes (0 if not yet known).
	TotalSize int64

	// DownloadedSize is the bytes transferred so far.
	DownloadedSize int64

	// ErrorMessage holds the failure reason when State == DownloadFailed.
	ErrorMessage string
}

// Percent returns the transfer progress in the range 0..100.
func (t DownloadTask) Percent() float64 {
	if t.TotalSize <= 0 {
		return 0
	}
	pct := float64(t.DownloadedSize) / float64(t.TotalSize) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
