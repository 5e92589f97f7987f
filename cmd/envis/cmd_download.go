// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xopenbeta/envis/cmd/envis/config"
	"github.com/xopenbeta/envis/cmd/envis/internal/download"
	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
	"github.com/xopenbeta/envis/pkg/ux"
	"github.com/xopenbeta/envis/pkg/validation"
)

// parseKey turns a "type@version" argument into a download key.
func parseKey(arg string) (entity.DownloadKey, error) {
	t, v, ok := strings.Cut(arg, "@")
	if !ok {
		return entity.DownloadKey{}, fmt.Errorf("expected type@version, got %q", arg)
	}
	st := entity.ServiceType(strings.ToLower(strings.TrimSpace(t)))
	if !st.Known() {
		return entity.DownloadKey{}, fmt.Errorf("unknown service type %q (known: %v)", t, entity.KnownTypes())
	}
	if !st.Capabilities().NeedsDownload {
		return entity.DownloadKey{}, fmt.Errorf("service type %q has no downloadable binary", t)
	}
	if err := validation.ValidateVersion(strings.TrimSpace(v)); err != nil {
		return entity.DownloadKey{}, err
	}
	return entity.DownloadKey{Type: st, Version: strings.TrimSpace(v)}, nil
}

// runDownloadStart kicks off a binary download.
func runDownloadStart(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	key, err := parseKey(args[0])
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	task, err := app.Downloads.Start(ctx, key)
	if err != nil {
		if errors.Is(err, download.ErrAlreadyInstalled) {
			ux.Success(fmt.Sprintf("%s is already installed", key))
			return
		}
		ux.Error(fmt.Sprintf("download failed to start: %v", err))
		os.Exit(1)
	}

	ux.Success(fmt.Sprintf("download started for %s (task %s)", key, task.ID))
	if watchProgress {
		app.WatchConfig(ctx)
		watchDownload(ctx, key)
	}
}

// runDownloadCancel stops an in-flight download.
func runDownloadCancel(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	key, err := parseKey(args[0])
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	task, err := app.Downloads.Cancel(ctx, key)
	if err != nil {
		if errors.Is(err, download.ErrNotCancellable) {
			ux.Muted(fmt.Sprintf("nothing to cancel for %s", key))
			return
		}
		ux.Error(fmt.Sprintf("cancel failed: %v", err))
		os.Exit(1)
	}
	ux.Success(fmt.Sprintf("cancelled %s (was %s of %s)",
		key, ux.HumanBytes(task.DownloadedSize), ux.HumanBytes(task.TotalSize)))
}

// runDownloadWatch renders progress until the download settles.
func runDownloadWatch(cmd *cobra.Command, args []string) {
	key, err := parseKey(args[0])
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
	ctx := cmd.Context()
	app.WatchConfig(ctx)
	watchDownload(ctx, key)
}

// pollInterval reads the reconcile interval for the watch loop, falling
// back to the default when the config disables background polling.
func pollInterval() time.Duration {
	if d := config.Current().Reconcile.Interval(); d > 0 {
		return d
	}
	return 500 * time.Millisecond
}

// watchDownload polls the coordinator and redraws a progress line until
// the task reaches a terminal state. The poll interval follows the live
// config, so a hot reload retunes a watch already in flight.
func watchDownload(ctx context.Context, key entity.DownloadKey) {
	interval := pollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := app.Downloads.Poll(ctx, key)
		if err != nil {
			ux.Warning(fmt.Sprintf("progress poll failed: %v", err))
		} else {
			if !ux.Plain() {
				fmt.Printf("\r%s %s  %s / %s   ",
					key, ux.ProgressBar(task.DownloadedSize, task.TotalSize, 30),
					ux.HumanBytes(task.DownloadedSize), ux.HumanBytes(task.TotalSize))
			} else {
				fmt.Printf("%s %s %d/%d\n", key, task.State.String(), task.DownloadedSize, task.TotalSize)
			}
			if task.State.Terminal() {
				fmt.Println()
				switch task.State {
				case entity.DownloadInstalled:
					ux.Success(fmt.Sprintf("%s installed", key))
				case entity.DownloadCancelled:
					ux.Muted(fmt.Sprintf("%s cancelled", key))
				default:
					msg := task.ErrorMessage
					if msg == "" {
						msg = "download failed"
					}
					ux.Error(fmt.Sprintf("%s: %s", key, msg))
					os.Exit(1)
				}
				return
			}
		}

		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case <-ticker.C:
			if d := pollInterval(); d != interval {
				interval = d
				ticker.Reset(interval)
			}
		}
	}
}
