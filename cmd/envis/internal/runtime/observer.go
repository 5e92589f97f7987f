// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runtime reports OS-level process state for running services.
//
// The observer is strictly read-only: it never starts, stops, or activates
// anything. It exists so the UI can show "active but stopped" for a service
// whose process died underneath its activation flag.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
	"github.com/xopenbeta/envis/cmd/envis/internal/gateway"
)

// ErrNotRunnable means the service type has no OS runtime status.
var ErrNotRunnable = errors.New("service type has no runtime status")

// Observer polls the backend for OS-observed process state.
type Observer struct {
	gw     gateway.Gateway
	logger *slog.Logger
}

// NewObserver creates a runtime observer. A nil logger falls back to
// slog.Default().
func NewObserver(gw gateway.Gateway, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{gw: gw, logger: logger}
}

// Poll returns the current process state for one service.
//
// Only valid for types with CanRun capability; others fail with
// ErrNotRunnable. A transport failure is reported as RuntimeUnknown plus
// the error so callers can keep the last good observation.
func (o *Observer) Poll(ctx context.Context, sd entity.ServiceData) (entity.RuntimeState, error) {
	if !sd.Type.Capabilities().CanRun {
		return entity.RuntimeUnknown, fmt.Errorf("poll runtime for %s (%s): %w", sd.ID, sd.Type, ErrNotRunnable)
	}

	res, err := o.gw.ServiceStatus(ctx, sd.EnvironmentID, sd.ID)
	if cerr := gateway.EnvelopeError("service.status", res, err); cerr != nil {
		return entity.RuntimeUnknown, cerr
	}
	if res.Data == nil {
		return entity.RuntimeUnknown, nil
	}
	return *res.Data, nil
}
