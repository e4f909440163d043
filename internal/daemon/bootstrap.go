// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon assembles the ingest pipeline from configuration and owns
// its lifecycle.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/recingest/internal/alert"
	"github.com/ManuGH/recingest/internal/api"
	"github.com/ManuGH/recingest/internal/config"
	"github.com/ManuGH/recingest/internal/control"
	"github.com/ManuGH/recingest/internal/diskcheck"
	"github.com/ManuGH/recingest/internal/health"
	"github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/pipeline/exec"
	"github.com/ManuGH/recingest/internal/pipeline/readiness"
	"github.com/ManuGH/recingest/internal/pipeline/state"
	"github.com/ManuGH/recingest/internal/pipeline/store"
	"github.com/ManuGH/recingest/internal/pipeline/watch"
	"github.com/ManuGH/recingest/internal/pipeline/worker"
	"github.com/ManuGH/recingest/internal/telemetry"
	"golang.org/x/time/rate"
)

const alertBacklogDegraded = 10

// Options tweak Build for tests.
type Options struct {
	// Spawner replaces the OS process spawner.
	Spawner exec.Spawner
	// SkipStartupChecks disables the tool and directory pre-flight checks.
	SkipStartupChecks bool
}

// Build wires every component from cfg. The control endpoint is bound first
// so a second instance fails with control.ErrAlreadyRunning before touching
// any shared state.
func Build(ctx context.Context, cfg config.AppConfig, opts Options) (*App, error) {
	logger := log.WithComponent("daemon")
	mgr := NewManager(cfg.Jobs.ShutdownGrace+cfg.Admin.ShutdownTimeout, logger)

	st := state.New(cfg.ErrorBuffer)
	ctrl, err := control.Listen(cfg.Control.Addr, st)
	if err != nil {
		return nil, err
	}
	// The listener is handed to Serve below; until then it is closed on failure.
	built := false
	defer func() {
		if !built {
			_ = ctrl.Close()
			mgr.abort()
		}
	}()

	if !opts.SkipStartupChecks {
		if err := health.PerformStartupChecks(cfg); err != nil {
			return nil, fmt.Errorf("startup checks: %w", err)
		}
	}

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	mgr.RegisterShutdownHook("telemetry", tel.Shutdown)

	outcomes, err := store.NewSqliteStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	mgr.RegisterShutdownHook("outcome_store", func(context.Context) error { return outcomes.Close() })

	channel, deadLetters, err := buildAlerts(cfg, st, mgr)
	if err != nil {
		return nil, err
	}

	spawner := opts.Spawner
	if spawner == nil {
		spawner = exec.OSSpawner{StderrLines: 20}
	}
	orch, err := worker.New(worker.Config{
		Workers:            cfg.Jobs.Workers,
		QueueSize:          cfg.Jobs.QueueSize,
		Backpressure:       cfg.Jobs.Backpressure,
		MaxAttempts:        cfg.Jobs.MaxAttempts,
		BackoffBase:        cfg.Jobs.BackoffBase,
		BackoffMax:         cfg.Jobs.BackoffMax,
		ResourceBackoff:    cfg.Jobs.ResourceBackoff,
		ShutdownGrace:      cfg.Jobs.ShutdownGrace,
		OutputDir:          cfg.Transcode.OutputDir,
		OutputExt:          cfg.Transcode.OutputExt,
		Params:             cfg.Transcode.Params,
		PermanentExitCodes: cfg.Transcode.PermanentExitCodes,
		Transcode: worker.StepConfig{
			Command:      cfg.Transcode.Command,
			PollInterval: cfg.Transcode.ProgressPollInterval,
			StallTimeout: cfg.Transcode.StallTimeout,
			MaxRuntime:   cfg.Transcode.MaxRuntime,
			KillGrace:    cfg.Transcode.KillGrace,
		},
		CaptionEnabled: cfg.Caption.Enabled,
		Caption: worker.StepConfig{
			Command:      cfg.Caption.Command,
			PollInterval: cfg.Transcode.ProgressPollInterval,
			StallTimeout: cfg.Caption.StallTimeout,
			MaxRuntime:   cfg.Caption.MaxRuntime,
			KillGrace:    cfg.Transcode.KillGrace,
		},
	}, worker.Deps{
		Spawner:  spawner,
		State:    st,
		Outcomes: outcomes,
		Alerts:   channel,
	})
	if err != nil {
		return nil, err
	}

	detCfg := readiness.Config{
		Policy: readiness.Policy{
			StableSamples: cfg.Readiness.StableSamples,
			GracePeriod:   cfg.Readiness.GracePeriod,
			Timeout:       cfg.Readiness.Timeout,
			MinDuration:   cfg.Readiness.MinDuration,
			ProbeAttempts: cfg.Readiness.ProbeAttempts,
		},
		Extensions: cfg.Sources.Extensions,
		State:      st,
	}
	if cfg.Readiness.MinDuration > 0 {
		detCfg.Prober = exec.CommandProber{Argv: cfg.Transcode.ProbeCommand, Timeout: cfg.Readiness.ProbeTimeout}
	}
	watchDeps := watch.Deps{
		Detector:  readiness.New(detCfg),
		Submitter: orch,
		State:     st,
		Outcomes:  outcomes,
		Alerts:    channel,
	}
	if cfg.Readiness.LockProbe {
		watchDeps.Lock = readiness.FlockProber{}
	}
	watcher, err := watch.New(watch.Config{
		Dirs:           cfg.Sources.Dirs,
		Recursive:      cfg.Sources.Recursive,
		PollInterval:   cfg.Readiness.PollInterval,
		RescanInterval: cfg.Sources.RescanInterval,
	}, watchDeps)
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:         cfg,
		manager:     mgr,
		state:       st,
		control:     ctrl,
		outcomes:    outcomes,
		alerts:      channel,
		deadLetters: deadLetters,
		orch:        orch,
		watcher:     watcher,
	}

	mgr.Go("control", ctrl.Serve)
	mgr.Go("alert_flusher", channel.Run)
	mgr.Go("orchestrator", orch.Run)
	mgr.Go("watcher", watcher.Run)

	if cfg.Admin.Listen != "" {
		hm := health.NewManager(cfg.Version)
		hm.RegisterChecker(health.NewWritableDirChecker("output_dir", cfg.Transcode.OutputDir))
		hm.RegisterChecker(health.NewWritableDirChecker("deadletter_dir", cfg.Alerts.DeadLetterDir))
		hm.RegisterChecker(health.PausedChecker(st.Paused))
		hm.RegisterChecker(health.BacklogChecker(deadLetters.Len, alertBacklogDegraded))

		tracing := ""
		if cfg.Telemetry.Enabled {
			tracing = cfg.LogService
		}
		adminSrv, err := api.New(api.Config{
			Listen:          cfg.Admin.Listen,
			RateLimit:       cfg.Admin.RateLimit,
			ShutdownTimeout: cfg.Admin.ShutdownTimeout,
			TracingService:  tracing,
		}, api.Deps{State: st, Outcomes: outcomes, Health: hm})
		if err != nil {
			return nil, err
		}
		app.admin = adminSrv
		mgr.Go("admin_api", adminSrv.Run)
	}

	if cfg.Disk.MinFreeBytes > 0 {
		dc, err := diskcheck.New(diskcheck.Config{
			Path:         cfg.Transcode.OutputDir,
			MinFreeBytes: cfg.Disk.MinFreeBytes,
			Interval:     cfg.Disk.Interval,
		}, channel, st)
		if err != nil {
			return nil, err
		}
		mgr.Go("diskcheck", dc.Run)
	}

	built = true
	logger.Info().
		Str("event", "daemon.built").
		Str(log.FieldAddr, ctrl.Addr().String()).
		Strs("sources", cfg.Sources.Dirs).
		Int("workers", cfg.Jobs.Workers).
		Bool("admin_api", cfg.Admin.Listen != "").
		Msg("pipeline assembled")
	return app, nil
}

func buildAlerts(cfg config.AppConfig, st *state.Store, mgr *Manager) (*alert.Channel, *alert.DeadLetterStore, error) {
	var transport alert.Transport
	switch cfg.Alerts.Transport {
	case "smtp":
		transport = alert.NewSMTPTransport(alert.SMTPTransport{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
		})
	case "log":
		transport = alert.NewLogTransport()
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Alerts.Transport)
	}
	transport = alert.NewBreakerTransport(transport, cfg.Alerts.BreakerThreshold, cfg.Alerts.BreakerReset)

	dl, err := alert.OpenDeadLetterStore(cfg.Alerts.DeadLetterDir)
	if err != nil {
		return nil, nil, err
	}

	var audit *alert.AuditLog
	if cfg.Alerts.AuditLog != "" {
		audit, err = alert.OpenAuditLog(cfg.Alerts.AuditLog)
		if err != nil {
			return nil, nil, err
		}
		mgr.RegisterShutdownHook("alert_audit", func(context.Context) error { return audit.Close() })
	}

	ch := alert.NewChannel(alert.ChannelConfig{
		Transport:       transport,
		Store:           dl,
		Audit:           audit,
		State:           st,
		DeliveryTimeout: cfg.Alerts.DeliveryTimeout,
		FlushInterval:   cfg.Alerts.FlushInterval,
		FlushRate:       rate.Limit(cfg.Alerts.FlushRate),
		FlushBurst:      cfg.Alerts.FlushBurst,
	})
	return ch, dl, nil
}

// WaitForShutdown returns a context cancelled on interrupt or termination.
func WaitForShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
