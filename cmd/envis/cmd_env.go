// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
	"github.com/xopenbeta/envis/cmd/envis/internal/gateway"
	"github.com/xopenbeta/envis/cmd/envis/internal/store"
	"github.com/xopenbeta/envis/pkg/ux"
	"github.com/xopenbeta/envis/pkg/validation"
)

// runEnvList prints every environment with its services.
func runEnvList(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	hydrateOrDie(ctx)

	envs := app.Store.Environments()
	if len(envs) == 0 {
		ux.Muted("No environments yet. Create one with 'envis env create <name>'.")
		return
	}

	for _, env := range envs {
		marker := ux.IconPending
		note := ""
		if env.Status == entity.StatusActive {
			marker = ux.IconActive
			note = "active"
		}
		ux.StatusLine(marker, ux.Styles.Bold.Render(env.Name), note)

		for _, sd := range app.Store.ServicesFor(env.ID) {
			icon := ux.IconPending
			detail := string(sd.Type)
			if sd.Version != "" {
				detail += " " + sd.Version
			}
			if sd.Status == entity.StatusActive {
				icon = ux.IconSuccess
			}
			ux.StatusLine(icon, "  "+sd.ID, detail)
		}
	}
}

// runEnvCreate creates a new environment.
func runEnvCreate(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	hydrateOrDie(ctx)

	name, err := validation.SanitizeName(args[0])
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	res, err := app.Gateway.CreateEnvironment(ctx, entity.Environment{Name: name})
	if cerr := gateway.EnvelopeError("environment.create", res, err); cerr != nil {
		ux.Error(fmt.Sprintf("create failed: %v", cerr))
		os.Exit(1)
	}
	if res.Data == nil {
		ux.Error("backend returned no environment record")
		os.Exit(1)
	}

	env := *res.Data
	if err := app.Store.PutEnvironment(env); err != nil {
		ux.Error(fmt.Sprintf("cache update failed: %v", err))
		os.Exit(1)
	}
	ux.Success(fmt.Sprintf("created environment %s (%s)", env.Name, env.ID))
}

// runEnvDelete deletes an environment after confirmation.
func runEnvDelete(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	hydrateOrDie(ctx)

	env, err := app.findEnvironment(args[0])
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
	if env.Status == entity.StatusActive {
		ux.Error(fmt.Sprintf("%s is the active environment; switch away before deleting it", env.Name))
		os.Exit(1)
	}

	if !assumeYes {
		ok, err := app.Prompter.Confirm(ctx,
			fmt.Sprintf("Delete environment %q and all its services?", env.Name))
		if err != nil {
			ux.Error(err.Error())
			os.Exit(1)
		}
		if !ok {
			ux.Muted("aborted")
			return
		}
	}

	res, err := app.Gateway.DeleteEnvironment(ctx, env.ID)
	if cerr := gateway.EnvelopeError("environment.delete", res, err); cerr != nil {
		ux.Error(fmt.Sprintf("delete failed: %v", cerr))
		os.Exit(1)
	}
	if err := app.Store.DeleteEnvironment(env.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		app.Logger.Warn("cache delete failed", "env_id", env.ID, "error", err)
	}
	ux.Success(fmt.Sprintf("deleted environment %s", env.Name))
}

// runEnvUse switches the active environment.
//
// When the target has enabled services that need elevation and no
// credential is cached, the user is asked up front; a mid-switch
// elevation demand would otherwise just fail that service's outcome.
func runEnvUse(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	hydrateOrDie(ctx)

	env, err := app.findEnvironment(args[0])
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	var cred gateway.Credential
	if targetNeedsElevation(env.ID) && !app.Session.Cached() && app.Prompter.IsInteractive() {
		cred, err = app.Prompter.Credential(ctx,
			fmt.Sprintf("Environment %s has services that need elevation. Credential", env.Name))
		if err != nil {
			ux.Warning(fmt.Sprintf("no credential supplied; elevated services may fail to start: %v", err))
			cred = ""
		}
	}

	result, err := app.Switcher.Switch(ctx, env.ID, cred)
	if err != nil {
		ux.Error(fmt.Sprintf("switch failed: %v", err))
		os.Exit(1)
	}

	ux.Success(fmt.Sprintf("now using %s", env.Name))
	for _, o := range result.ServiceOutcomes {
		if o.Success {
			ux.StatusLine(ux.IconSuccess, o.ServiceID, "")
		} else {
			ux.StatusLine(ux.IconError, o.ServiceID, o.Message)
		}
	}
	if n := result.Failures(); n > 0 {
		ux.Warning(fmt.Sprintf("%d service(s) failed to start; they will keep reconciling in the background", n))
	}
}

// targetNeedsElevation reports whether the environment has an enabled
// service whose type is credential gated.
func targetNeedsElevation(envID string) bool {
	for _, sd := range app.Store.ServicesFor(envID) {
		if sd.Status == entity.StatusActive && sd.Type.Elevated() {
			return true
		}
	}
	return false
}
