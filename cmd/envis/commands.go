// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/xopenbeta/envis/pkg/ux"
)

// --- Global Command Variables ---
var (
	plainOutput    bool
	nonInteractive bool
	assumeYes      bool
	watchProgress  bool
	configPath     string
	logLevel       string

	rootCmd = &cobra.Command{
		Use:   "envis",
		Short: "A cli to manage local development environments",
		Long: `envis manages named development environments and their services
				(databases, web servers, language runtimes) through the envis
				backend daemon.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ux.SetPlain(plainOutput)
		},
	}

	// --- Environments ---
	envCmd = &cobra.Command{
		Use:   "env",
		Short: "Manage environments",
	}
	envListCmd = &cobra.Command{
		Use:   "list",
		Short: "List all environments and their services",
		Run:   runEnvList, // Defined in cmd_env.go
	}
	envCreateCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new environment",
		Args:  cobra.ExactArgs(1),
		Run:   runEnvCreate, // Defined in cmd_env.go
	}
	envDeleteCmd = &cobra.Command{
		Use:   "delete [name or id]",
		Short: "Delete an environment and all its services",
		Args:  cobra.ExactArgs(1),
		Run:   runEnvDelete, // Defined in cmd_env.go
	}
	envUseCmd = &cobra.Command{
		Use:   "use [name or id]",
		Short: "Switch the active environment",
		Args:  cobra.ExactArgs(1),
		Run:   runEnvUse, // Defined in cmd_env.go
	}

	// --- Services ---
	serviceCmd = &cobra.Command{
		Use:   "service",
		Short: "Manage services within the active environment",
	}
	serviceEnableCmd = &cobra.Command{
		Use:   "enable [service-id]",
		Short: "Enable a service in the active environment",
		Args:  cobra.ExactArgs(1),
		Run:   runServiceEnable, // Defined in cmd_service.go
	}
	serviceDisableCmd = &cobra.Command{
		Use:   "disable [service-id]",
		Short: "Disable a service in the active environment",
		Args:  cobra.ExactArgs(1),
		Run:   runServiceDisable, // Defined in cmd_service.go
	}
	serviceStatusCmd = &cobra.Command{
		Use:   "status [service-id]",
		Short: "Show a service's activation, runtime, and install state",
		Args:  cobra.ExactArgs(1),
		Run:   runServiceStatus, // Defined in cmd_service.go
	}

	// --- Downloads ---
	downloadCmd = &cobra.Command{
		Use:   "download",
		Short: "Manage service binary downloads",
	}
	downloadStartCmd = &cobra.Command{
		Use:   "start [type@version]",
		Short: "Start downloading a service binary",
		Args:  cobra.ExactArgs(1),
		Run:   runDownloadStart, // Defined in cmd_download.go
	}
	downloadCancelCmd = &cobra.Command{
		Use:   "cancel [type@version]",
		Short: "Cancel an in-flight download",
		Args:  cobra.ExactArgs(1),
		Run:   runDownloadCancel, // Defined in cmd_download.go
	}
	downloadWatchCmd = &cobra.Command{
		Use:   "watch [type@version]",
		Short: "Watch a download's progress until it settles",
		Args:  cobra.ExactArgs(1),
		Run:   runDownloadWatch, // Defined in cmd_download.go
	}

	// --- Diagnostics ---
	doctorCmd = &cobra.Command{
		Use:   "doctor",
		Short: "Check backend connectivity and local state health",
		Run:   runDoctor, // Defined in cmd_doctor.go
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false,
		"Plain machine-readable output (no colors or icons)")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false,
		"Fail instead of prompting for confirmation or credentials")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false,
		"Assume yes for confirmation prompts")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file to use instead of ~/.envis/envis.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(envCmd)
	envCmd.AddCommand(envListCmd)
	envCmd.AddCommand(envCreateCmd)
	envCmd.AddCommand(envDeleteCmd)
	envCmd.AddCommand(envUseCmd)

	rootCmd.AddCommand(serviceCmd)
	serviceCmd.AddCommand(serviceEnableCmd)
	serviceCmd.AddCommand(serviceDisableCmd)
	serviceCmd.AddCommand(serviceStatusCmd)

	rootCmd.AddCommand(downloadCmd)
	downloadCmd.AddCommand(downloadStartCmd)
	downloadStartCmd.Flags().BoolVarP(&watchProgress, "watch", "w", false,
		"Keep polling and render progress until the download settles")
	downloadCmd.AddCommand(downloadCancelCmd)
	downloadCmd.AddCommand(downloadWatchCmd)

	rootCmd.AddCommand(doctorCmd)
}
