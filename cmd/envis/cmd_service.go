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

	"github.com/spf13/cobra"

	"github.com/xopenbeta/envis/cmd/envis/internal/activation"
	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
	"github.com/xopenbeta/envis/pkg/ux"
)

// runServiceEnable toggles a service on.
func runServiceEnable(cmd *cobra.Command, args []string) {
	toggleService(cmd.Context(), args[0], entity.StatusActive)
}

// runServiceDisable toggles a service off.
func runServiceDisable(cmd *cobra.Command, args []string) {
	toggleService(cmd.Context(), args[0], entity.StatusInactive)
}

// toggleService drives one toggle through the elevation protocol.
//
// The first attempt goes out without a credential. If the backend
// demands elevation the user is prompted once and the toggle resumes;
// a rejection after that is final.
func toggleService(ctx context.Context, ref string, want entity.Status) {
	hydrateOrDie(ctx)

	sd, err := app.findService(ref)
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
	if sd.Status == want {
		ux.Muted(fmt.Sprintf("%s is already %s", sd.ID, want.String()))
		return
	}

	settled, err := app.Activation.Toggle(ctx, sd.ID, "")
	if err != nil {
		var notActive *activation.EnvironmentNotActiveError
		if errors.As(err, &notActive) {
			ux.Error(fmt.Sprintf("environment %s is not active; run 'envis env use %s' first",
				notActive.EnvironmentID, notActive.EnvironmentID))
			os.Exit(1)
		}

		var elevation *activation.ElevationRequiredError
		if !errors.As(err, &elevation) {
			ux.Error(fmt.Sprintf("toggle failed: %v", err))
			os.Exit(1)
		}

		cred, perr := app.Prompter.Credential(ctx,
			fmt.Sprintf("Elevation required for %s. Credential", sd.ID))
		if perr != nil {
			ux.Error(perr.Error())
			os.Exit(1)
		}
		settled, err = elevation.Resume(ctx, cred)
		if err != nil {
			ux.Error(fmt.Sprintf("toggle failed: %v", err))
			os.Exit(1)
		}
	}

	ux.Success(fmt.Sprintf("%s is now %s", settled.ID, settled.Status.String()))
}

// runServiceStatus prints a service's activation, runtime, and install
// state.
func runServiceStatus(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	hydrateOrDie(ctx)

	sd, err := app.findService(args[0])
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	icon := ux.IconPending
	if sd.Status == entity.StatusActive {
		icon = ux.IconSuccess
	}
	ux.StatusLine(icon, sd.ID, sd.Status.String())

	caps := sd.Type.Capabilities()
	if caps.CanRun {
		state, err := app.Runtime.Poll(ctx, sd)
		if err != nil {
			ux.StatusLine(ux.IconWarning, "runtime", "unreachable")
		} else {
			runtimeIcon := ux.IconPending
			if state == entity.RuntimeRunning {
				runtimeIcon = ux.IconSuccess
			} else if state == entity.RuntimeError {
				runtimeIcon = ux.IconError
			}
			ux.StatusLine(runtimeIcon, "runtime", state.String())
		}
	}

	if caps.NeedsDownload && sd.Version != "" {
		key := entity.DownloadKey{Type: sd.Type, Version: sd.Version}
		task, err := app.Downloads.Poll(ctx, key)
		if err != nil {
			ux.StatusLine(ux.IconWarning, "install", "unknown")
		} else {
			installIcon := ux.IconPending
			note := task.State.String()
			switch task.State {
			case entity.DownloadInstalled:
				installIcon = ux.IconSuccess
			case entity.DownloadFailed:
				installIcon = ux.IconError
				if task.ErrorMessage != "" {
					note += ": " + task.ErrorMessage
				}
			case entity.DownloadDownloading:
				note = fmt.Sprintf("downloading %s", ux.ProgressBar(task.DownloadedSize, task.TotalSize, 20))
			}
			ux.StatusLine(installIcon, "install", note)
		}
	}
}
