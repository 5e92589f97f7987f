// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"time"

	"github.com/go-playground/validator/v10"
)

type EnvisConfig struct {
	// Gateway: how to reach the envis backend daemon
	Gateway GatewayConfig `yaml:"gateway"`

	// Reconcile: background polling cadence and load shedding
	Reconcile ReconcileConfig `yaml:"reconcile"`

	// Credentials: elevation credential caching behavior
	Credentials CredentialConfig `yaml:"credentials"`

	// Logging: destination and verbosity
	Logging LoggingConfig `yaml:"logging"`

	// Metrics: Prometheus counter registration
	Metrics MetricsConfig `yaml:"metrics"`
}

type GatewayConfig struct {
	BaseURL        string `yaml:"base_url" validate:"required,url"` // e.g. http://127.0.0.1:47800
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"gte=0,lte=300"`
}

// Timeout converts the configured seconds to a duration.
func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

type ReconcileConfig struct {
	IntervalMs        int     `yaml:"interval_ms" validate:"gte=0,lte=60000"`       // e.g. 500
	MaxPollsPerSecond float64 `yaml:"max_polls_per_second" validate:"gte=0,lte=1000"` // 0 disables the limiter
}

// Interval converts the configured milliseconds to a duration.
func (r ReconcileConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMs) * time.Millisecond
}

type CredentialConfig struct {
	// TTLSeconds bounds how long a cached elevation credential stays
	// usable. Zero means no expiry for the process lifetime.
	TTLSeconds int `yaml:"ttl_seconds" validate:"gte=0,lte=86400"`

	// ClearOnSwitch drops the cached credential on environment switch.
	ClearOnSwitch bool `yaml:"clear_on_switch"`
}

// TTL converts the configured seconds to a duration.
func (c CredentialConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type MetricsConfig struct {
	// Enabled swaps the in-memory recorder for the Prometheus one so
	// long-running sessions can be scraped or dumped.
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"` // e.g. info
	Dir   string `yaml:"dir,omitempty"`                                // empty logs to stderr
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() EnvisConfig {
	return EnvisConfig{
		Gateway: GatewayConfig{
			BaseURL:        "http://127.0.0.1:47800",
			TimeoutSeconds: 30,
		},
		Reconcile: ReconcileConfig{
			IntervalMs:        500,
			MaxPollsPerSecond: 50,
		},
		Credentials: CredentialConfig{
			TTLSeconds:    0,
			ClearOnSwitch: false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the loaded configuration against its field constraints.
func (c EnvisConfig) Validate() error {
	return validate.Struct(c)
}
