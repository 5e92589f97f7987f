// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
	"github.com/xopenbeta/envis/cmd/envis/internal/gateway"
)

func TestObserver_Poll(t *testing.T) {
	tests := []struct {
		name      string
		sd        entity.ServiceData
		status    gateway.Result[entity.RuntimeState]
		statusErr error
		want      entity.RuntimeState
		wantErr   error
	}{
		{
			name:   "running process",
			sd:     entity.ServiceData{ID: "svc1", EnvironmentID: "e1", Type: entity.TypePostgres},
			status: gateway.Ok(entity.RuntimeRunning),
			want:   entity.RuntimeRunning,
		},
		{
			name:   "stopped process",
			sd:     entity.ServiceData{ID: "svc1", EnvironmentID: "e1", Type: entity.TypeRedis},
			status: gateway.Ok(entity.RuntimeStopped),
			want:   entity.RuntimeStopped,
		},
		{
			name:    "non-runnable type",
			sd:      entity.ServiceData{ID: "svc1", EnvironmentID: "e1", Type: entity.TypeHosts},
			want:    entity.RuntimeUnknown,
			wantErr: ErrNotRunnable,
		},
		{
			name:      "transport failure reports unknown",
			sd:        entity.ServiceData{ID: "svc1", EnvironmentID: "e1", Type: entity.TypePostgres},
			statusErr: errors.New("refused"),
			want:      entity.RuntimeUnknown,
			wantErr:   errors.New("refused"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &gateway.Mock{
				ServiceStatusFunc: func(ctx context.Context, envID, serviceID string) (gateway.Result[entity.RuntimeState], error) {
					return tt.status, tt.statusErr
				},
			}
			o := NewObserver(mock, nil)

			state, err := o.Poll(context.Background(), tt.sd)
			if state != tt.want {
				t.Errorf("state = %v, want %v", state, tt.want)
			}
			if (tt.wantErr == nil) != (err == nil) {
				t.Errorf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if tt.wantErr == ErrNotRunnable {
				if !errors.Is(err, ErrNotRunnable) {
					t.Errorf("expected ErrNotRunnable, got %v", err)
				}
				if mock.CallsTo("ServiceStatus") != 0 {
					t.Error("non-runnable poll still reached the gateway")
				}
			}
		})
	}
}
