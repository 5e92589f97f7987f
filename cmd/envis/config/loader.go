// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// global holds the loaded singleton, guarded for hot reload: the
	// watcher goroutine replaces it while command code reads it.
	globalMu sync.RWMutex
	global   EnvisConfig

	once sync.Once

	pathOverride string
)

// Current returns the loaded configuration.
func Current() EnvisConfig {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// Replace publishes a new configuration, typically from the hot-reload
// watcher. The value must already be validated.
func Replace(cfg EnvisConfig) {
	globalMu.Lock()
	global = cfg
	globalMu.Unlock()
}

// SetPath overrides the default config file location. It must be called
// before the first Load.
func SetPath(path string) {
	pathOverride = path
}

// Path returns the config file location (~/.envis/envis.yaml unless
// overridden with SetPath).
func Path() (string, error) {
	if pathOverride != "" {
		return pathOverride, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".envis", "envis.yaml"), nil
}

// Load ensures the config is loaded into the singleton
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	configPath, err := Path()
	if err != nil {
		return err
	}
	// create it if it doesn't exist
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf(" First run detected, creating the config at %s\n", configPath)
		if err := createDefault(configPath); err != nil {
			return err
		}
	}
	cfg, err := ReadFile(configPath)
	if err != nil {
		return err
	}
	Replace(cfg)
	return nil
}

// ReadFile parses and validates one config file without touching the
// singleton. The hot-reload watcher uses this to vet a changed file
// before adopting it.
func ReadFile(path string) (EnvisConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EnvisConfig{}, fmt.Errorf("failed to read the config file %w", err)
	}
	cfg := DefaultConfig()
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return EnvisConfig{}, fmt.Errorf("failed to parse the config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return EnvisConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
