// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xopenbeta/envis/cmd/envis/config"
	"github.com/xopenbeta/envis/cmd/envis/internal/activation"
	"github.com/xopenbeta/envis/cmd/envis/internal/download"
	"github.com/xopenbeta/envis/cmd/envis/internal/entity"
	"github.com/xopenbeta/envis/cmd/envis/internal/gateway"
	"github.com/xopenbeta/envis/cmd/envis/internal/metrics"
	"github.com/xopenbeta/envis/cmd/envis/internal/reconcile"
	"github.com/xopenbeta/envis/cmd/envis/internal/runtime"
	"github.com/xopenbeta/envis/cmd/envis/internal/store"
	"github.com/xopenbeta/envis/cmd/envis/internal/switcher"
	"github.com/xopenbeta/envis/pkg/logging"
)

// App wires the envis components together for one CLI invocation.
//
// Construction is cheap; nothing talks to the backend until Hydrate or
// a command runs.
type App struct {
	Config  config.EnvisConfig
	Logger  *logging.Logger
	Store   *store.Store
	Gateway gateway.Gateway
	Session *activation.CredentialSession
	Metrics metrics.Recorder

	// Registry holds the Prometheus collectors when metrics are enabled
	// in the config; nil otherwise.
	Registry *prometheus.Registry

	Activation *activation.Controller
	Downloads  *download.Coordinator
	Runtime    *runtime.Observer
	Switcher   *switcher.Orchestrator
	Scheduler  *reconcile.Scheduler

	Prompter UserPrompter
}

// NewApp builds the component graph from the loaded config.
func NewApp(cfg config.EnvisConfig) *App {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "cli",
		JSON:    cfg.Logging.JSON,
	})
	slogger := logger.Slog()

	var rec metrics.Recorder = metrics.NewNoOpMetrics()
	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		pm := metrics.NewPrometheusMetrics()
		registry = prometheus.NewRegistry()
		if err := pm.Register(registry); err != nil {
			slogger.Warn("metrics registration failed, falling back to in-memory counters", "error", err)
			registry = nil
		} else {
			rec = pm
		}
	}

	st := store.New(slogger)
	gw := gateway.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.Timeout())
	session := activation.NewCredentialSession(cfg.Credentials.TTL())

	dl := download.NewCoordinator(gw, slogger, rec)
	rt := runtime.NewObserver(gw, slogger)
	ctrl := activation.NewController(st, gw, session, slogger, rec)
	sw := switcher.NewOrchestrator(st, gw, session, slogger, rec, 0, cfg.Credentials.ClearOnSwitch)
	sched := reconcile.NewScheduler(st, gw, dl, rt, slogger, rec,
		cfg.Reconcile.Interval(), cfg.Reconcile.MaxPollsPerSecond)

	sw.AfterSwitch = func(env entity.Environment) {
		sched.ForceReconcile(context.Background(), env.ID)
	}

	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      st,
		Gateway:    gw,
		Session:    session,
		Metrics:    rec,
		Registry:   registry,
		Activation: ctrl,
		Downloads:  dl,
		Runtime:    rt,
		Switcher:   sw,
		Scheduler:  sched,
		Prompter:   NewInteractivePrompter(),
	}
}

// WatchConfig hot-reloads tunables for the lifetime of ctx. Long-running
// commands call this so edits to the config file (poll interval, gateway
// timeout) apply without a restart; reloaded values reach code that
// reads config.Current.
func (a *App) WatchConfig(ctx context.Context) {
	path, err := config.Path()
	if err != nil {
		a.Logger.Warn("config watch disabled", "error", err)
		return
	}
	w, err := config.NewWatcher(path, nil)
	if err != nil {
		a.Logger.Warn("config watch disabled", "path", path, "error", err)
		return
	}
	go w.Start(ctx)
}

// Hydrate pulls the backend's environments and services into the store.
// Called once before any command that reads or mutates entities.
func (a *App) Hydrate(ctx context.Context) error {
	res, err := a.Gateway.ListEnvironments(ctx)
	if cerr := gateway.EnvelopeError("environment.list", res, err); cerr != nil {
		return fmt.Errorf("hydrate: %w", cerr)
	}
	if res.Data == nil {
		return nil
	}

	for _, env := range *res.Data {
		// ServiceDataIDs is rebuilt from the per-service listing below.
		env.ServiceDataIDs = nil
		if err := a.Store.PutEnvironment(env); err != nil {
			return fmt.Errorf("hydrate environment %s: %w", env.ID, err)
		}
		sres, err := a.Gateway.ListServices(ctx, env.ID)
		if cerr := gateway.EnvelopeError("service.list", sres, err); cerr != nil {
			return fmt.Errorf("hydrate services for %s: %w", env.ID, cerr)
		}
		if sres.Data == nil {
			continue
		}
		for _, sd := range *sres.Data {
			sd.EnvironmentID = env.ID
			if err := a.Store.PutService(sd); err != nil {
				return fmt.Errorf("hydrate service %s: %w", sd.ID, err)
			}
		}
	}
	a.Logger.Debug("hydrated local cache", "environments", len(*res.Data))
	return nil
}

// Close releases app resources.
func (a *App) Close() {
	a.Scheduler.CancelAll()
	a.Session.Clear()
	_ = a.Logger.Close()
}

// findEnvironment resolves an environment by ID or name.
func (a *App) findEnvironment(ref string) (entity.Environment, error) {
	if env, ok := a.Store.Environment(ref); ok {
		return env, nil
	}
	for _, env := range a.Store.Environments() {
		if env.Name == ref {
			return env, nil
		}
	}
	return entity.Environment{}, fmt.Errorf("no environment matching %q", ref)
}

// findService resolves a service by ID, searching all environments.
func (a *App) findService(ref string) (entity.ServiceData, error) {
	if sd, ok := a.Store.Service(ref); ok {
		return sd, nil
	}
	return entity.ServiceData{}, fmt.Errorf("no service matching %q", ref)
}
