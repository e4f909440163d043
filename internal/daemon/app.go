// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"net"

	"github.com/ManuGH/recingest/internal/alert"
	"github.com/ManuGH/recingest/internal/api"
	"github.com/ManuGH/recingest/internal/config"
	"github.com/ManuGH/recingest/internal/control"
	"github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/pipeline/state"
	"github.com/ManuGH/recingest/internal/pipeline/store"
	"github.com/ManuGH/recingest/internal/pipeline/watch"
	"github.com/ManuGH/recingest/internal/pipeline/worker"
)

// App is an assembled pipeline ready to run.
type App struct {
	cfg     config.AppConfig
	manager *Manager

	state       *state.Store
	control     *control.Server
	outcomes    store.OutcomeStore
	alerts      *alert.Channel
	deadLetters *alert.DeadLetterStore
	orch        *worker.Orchestrator
	watcher     *watch.Watcher
	admin       *api.Server // nil when disabled
}

// State exposes the shared runtime state.
func (a *App) State() *state.Store { return a.state }

// ControlAddr is the bound control endpoint.
func (a *App) ControlAddr() net.Addr { return a.control.Addr() }

// Run blocks until ctx is cancelled or a service fails, then shuts down.
// In-flight jobs get the configured grace before their subprocesses are
// terminated; nothing is recorded for them so they are picked up again on
// the next start.
func (a *App) Run(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Run builds and runs the daemon. Another instance holding the control
// address is not an error: it is logged and Run returns nil.
func Run(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("daemon")
	app, err := Build(ctx, cfg, Options{})
	if errors.Is(err, control.ErrAlreadyRunning) {
		logger.Info().
			Err(err).
			Str("event", "daemon.already_running").
			Str(log.FieldAddr, cfg.Control.Addr).
			Msg("another instance is running, exiting")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info().
		Str("event", "daemon.started").
		Str("version", cfg.Version).
		Msg("recingest started")
	return app.Run(ctx)
}
