// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/xopenbeta/envis/cmd/envis/config"
)

// app is built once per invocation in PersistentPreRunE and shared by
// every command handler.
var app *App

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
	if app != nil {
		app.Close()
	}
}

func init() {
	prev := rootCmd.PersistentPreRun
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if prev != nil {
			prev(cmd, args)
		}
		if configPath != "" {
			config.SetPath(configPath)
		}
		if err := config.Load(); err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		if logLevel != "" {
			cfg := config.Current()
			cfg.Logging.Level = logLevel
			config.Replace(cfg)
		}
		app = NewApp(config.Current())
		if nonInteractive {
			app.Prompter = &NonInteractivePrompter{}
		}
	}
}

// hydrateOrDie pulls backend state into the cache before a command runs.
func hydrateOrDie(ctx context.Context) {
	if err := app.Hydrate(ctx); err != nil {
		app.Logger.Error("cannot reach the envis backend", "error", err)
		os.Exit(1)
	}
}
