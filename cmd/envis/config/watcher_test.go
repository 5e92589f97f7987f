// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, baseURL string) {
	t.Helper()
	data := []byte("gateway:\n  base_url: " + baseURL + "\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "envis.yaml")
	writeConfig(t, path, "http://127.0.0.1:47800")

	reloaded := make(chan EnvisConfig, 1)
	w, err := NewWatcher(path, func(cfg EnvisConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, "http://127.0.0.1:48000")

	select {
	case cfg := <-reloaded:
		if cfg.Gateway.BaseURL != "http://127.0.0.1:48000" {
			t.Errorf("reloaded base URL = %q", cfg.Gateway.BaseURL)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for the reload callback")
	}
}

func TestWatcher_ReloadPublishesToCurrent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "envis.yaml")
	writeConfig(t, path, "http://127.0.0.1:47800")

	Replace(mustRead(t, path))

	reloaded := make(chan EnvisConfig, 1)
	w, err := NewWatcher(path, func(cfg EnvisConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Readers on other goroutines while the watcher publishes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = Current().Gateway.BaseURL
		}
	}()

	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, "http://127.0.0.1:48000")

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for the reload")
	}
	<-done

	if got := Current().Gateway.BaseURL; got != "http://127.0.0.1:48000" {
		t.Errorf("Current after reload = %q, want the new base URL", got)
	}
}

func mustRead(t *testing.T, path string) EnvisConfig {
	t.Helper()
	cfg, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestWatcher_RejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "envis.yaml")
	writeConfig(t, path, "http://127.0.0.1:47800")

	reloaded := make(chan EnvisConfig, 1)
	w, err := NewWatcher(path, func(cfg EnvisConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("gateway: [broken"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		t.Errorf("invalid file was adopted: %+v", cfg)
	case <-time.After(500 * time.Millisecond):
		// Rejected, previous config stays in effect.
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "envis.yaml")
	writeConfig(t, path, "http://127.0.0.1:47800")

	reloaded := make(chan EnvisConfig, 1)
	w, err := NewWatcher(path, func(cfg EnvisConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
		t.Error("unrelated file triggered a reload")
	case <-time.After(500 * time.Millisecond):
	}
}
