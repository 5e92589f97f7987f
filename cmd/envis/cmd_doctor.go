// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
	"github.com/xopenbeta/envis/cmd/envis/internal/gateway"
	"github.com/xopenbeta/envis/pkg/ux"
)

// runDoctor checks backend connectivity and local state health.
func runDoctor(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	failed := false

	ux.Title("envis doctor")

	// Config sanity.
	if err := app.Config.Validate(); err != nil {
		ux.StatusLine(ux.IconError, "config", err.Error())
		failed = true
	} else {
		ux.StatusLine(ux.IconSuccess, "config", app.Config.Gateway.BaseURL)
	}

	// Metrics recorder.
	if app.Registry != nil {
		families, err := app.Registry.Gather()
		if err != nil {
			ux.StatusLine(ux.IconWarning, "metrics", err.Error())
		} else {
			ux.StatusLine(ux.IconSuccess, "metrics", fmt.Sprintf("prometheus, %d families exported", len(families)))
		}
	} else {
		ux.StatusLine(ux.IconSuccess, "metrics", "in-memory counters")
	}

	// Backend reachability.
	res, err := app.Gateway.ListEnvironments(ctx)
	if cerr := gateway.EnvelopeError("environment.list", res, err); cerr != nil {
		ux.StatusLine(ux.IconError, "backend", cerr.Error())
		ux.Error("the envis backend daemon is not reachable; is it running?")
		os.Exit(1)
	}
	ux.StatusLine(ux.IconSuccess, "backend", "reachable")

	if err := app.Hydrate(ctx); err != nil {
		ux.StatusLine(ux.IconError, "hydrate", err.Error())
		os.Exit(1)
	}

	// Single-active invariant.
	activeCount := 0
	for _, env := range app.Store.Environments() {
		if env.Status == entity.StatusActive {
			activeCount++
		}
	}
	switch activeCount {
	case 0:
		ux.StatusLine(ux.IconWarning, "active environment", "none")
	case 1:
		env, _ := app.Store.ActiveEnvironment()
		ux.StatusLine(ux.IconSuccess, "active environment", env.Name)
	default:
		ux.StatusLine(ux.IconError, "active environment",
			fmt.Sprintf("%d environments report active", activeCount))
		failed = true
	}

	// Service catalog sanity and install state.
	unknown := 0
	missing := 0
	for _, env := range app.Store.Environments() {
		for _, sd := range app.Store.ServicesFor(env.ID) {
			if !sd.Type.Known() {
				unknown++
				continue
			}
			caps := sd.Type.Capabilities()
			if caps.NeedsVersion && sd.Version == "" {
				missing++
			}
		}
	}
	if unknown > 0 {
		ux.StatusLine(ux.IconWarning, "services", fmt.Sprintf("%d with unknown type", unknown))
	}
	if missing > 0 {
		ux.StatusLine(ux.IconWarning, "services", fmt.Sprintf("%d missing a pinned version", missing))
	}
	if unknown == 0 && missing == 0 {
		ux.StatusLine(ux.IconSuccess, "services", "catalog consistent")
	}

	if failed {
		os.Exit(1)
	}
	ux.Success("all checks passed")
}
