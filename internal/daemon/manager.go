// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service is a long-running component. It returns nil once ctx is cancelled
// and it has released what it holds.
type Service func(ctx context.Context) error

// ShutdownHook is a function that performs cleanup during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

type namedService struct {
	name string
	run  Service
}

// namedHook represents a shutdown hook with a name for logging
type namedHook struct {
	name string
	hook ShutdownHook
}

// Manager runs services until the first one fails or the context ends, then
// executes shutdown hooks.
type Manager struct {
	shutdownTimeout time.Duration

	mu       sync.Mutex
	services []namedService
	hooks    []namedHook
	started  bool
	stopping bool

	logger zerolog.Logger
}

// NewManager creates a manager whose hooks share one shutdownTimeout budget.
func NewManager(shutdownTimeout time.Duration, logger zerolog.Logger) *Manager {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &Manager{
		shutdownTimeout: shutdownTimeout,
		logger:          logger.With().Str("component", "manager").Logger(),
	}
}

// Go registers a service. Services registered after Start are ignored.
func (m *Manager) Go(name string, svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, namedService{name: name, run: svc})
}

// RegisterShutdownHook registers a cleanup function to be called during shutdown.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}

// Start runs every service and blocks until all returned. A service error
// cancels the others. Shutdown hooks run afterwards in every case.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrManagerStarted
	}
	m.started = true
	services := append([]namedService(nil), m.services...)
	m.mu.Unlock()

	m.logger.Info().
		Str("event", "daemon.starting").
		Int("services", len(services)).
		Msg("starting services")

	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range services {
		g.Go(func() error {
			err := svc.run(gctx)
			if err != nil {
				m.logger.Error().
					Err(err).
					Str("event", "service.failed").
					Str("service", svc.name).
					Msg("service failed, initiating shutdown")
				return fmt.Errorf("%s: %w", svc.name, err)
			}
			m.logger.Debug().Str("service", svc.name).Msg("service stopped")
			return nil
		})
	}
	runErr := g.Wait()

	// Use a detached-but-bounded context so shutdown can complete even if parent is canceled.
	shutdownErr := m.Shutdown(context.WithoutCancel(ctx))
	if runErr != nil && shutdownErr != nil {
		return fmt.Errorf("service error and shutdown failure: %w", errors.Join(runErr, shutdownErr))
	}
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// Shutdown executes the shutdown hooks once, newest first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	hooks := append([]namedHook(nil), m.hooks...)
	m.mu.Unlock()

	return runHooks(ctx, m.shutdownTimeout, hooks, m.logger)
}

func runHooks(ctx context.Context, timeout time.Duration, hooks []namedHook, logger zerolog.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		hookStart := time.Now()
		if err := hook.hook(shutdownCtx); err != nil {
			logger.Error().
				Err(err).
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
			continue
		}
		logger.Debug().
			Str("hook", hook.name).
			Dur("duration", time.Since(hookStart)).
			Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		logger.Error().Int("error_count", len(errs)).Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	logger.Info().Str("event", "daemon.stopped").Msg("daemon stopped cleanly")
	return nil
}

// abort runs the hooks registered so far without starting anything. Used
// when bootstrap fails halfway.
func (m *Manager) abort() {
	m.mu.Lock()
	hooks := append([]namedHook(nil), m.hooks...)
	m.hooks = nil
	m.mu.Unlock()
	_ = runHooks(context.Background(), m.shutdownTimeout, hooks, m.logger)
}
