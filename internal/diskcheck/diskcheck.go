// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package diskcheck watches free space on the output volume and alerts once
// each time it drops below the configured floor.
package diskcheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/recingest/internal/alert"
	"github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/metrics"
	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/ManuGH/recingest/internal/pipeline/state"
	"github.com/rs/zerolog"
)

// Config configures a Checker.
type Config struct {
	Path         string
	MinFreeBytes int64
	Interval     time.Duration
}

// Checker samples free space periodically.
type Checker struct {
	cfg    Config
	alerts alert.Sender
	state  *state.Store
	free   func(path string) (uint64, error)
	logger zerolog.Logger

	low bool
}

// New builds a Checker. alerts and st are required.
func New(cfg Config, alerts alert.Sender, st *state.Store) (*Checker, error) {
	if cfg.Path == "" {
		return nil, errors.New("diskcheck: path is required")
	}
	if cfg.MinFreeBytes <= 0 {
		return nil, errors.New("diskcheck: minFreeBytes must be positive")
	}
	if alerts == nil || st == nil {
		return nil, errors.New("diskcheck: alert sender and state store are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Checker{
		cfg:    cfg,
		alerts: alerts,
		state:  st,
		free:   freeBytes,
		logger: log.WithComponent("diskcheck"),
	}, nil
}

// Run checks once immediately and then every Interval until ctx is done.
func (c *Checker) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		c.Check(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Check takes one sample. It reports whether the volume is below the floor.
func (c *Checker) Check(ctx context.Context) bool {
	free, err := c.free(c.cfg.Path)
	if err != nil {
		c.logger.Warn().Err(err).Str(log.FieldPath, c.cfg.Path).Msg("statfs failed")
		return c.low
	}
	metrics.DiskFreeBytes.Set(float64(free))

	// #nosec G115 -- MinFreeBytes is validated positive
	floor := uint64(c.cfg.MinFreeBytes)
	if free >= floor {
		if c.low {
			c.low = false
			c.logger.Info().
				Str("event", "disk.recovered").
				Str(log.FieldPath, c.cfg.Path).
				Uint64("free_bytes", free).
				Msg("free space back above floor")
		}
		return false
	}
	if c.low {
		return true
	}
	c.low = true

	f := model.NewFault(model.KindDiskSpace, c.cfg.Path,
		fmt.Errorf("%d bytes free, floor is %d", free, floor))
	c.state.RecordError(f)
	c.logger.Error().
		Str("event", "disk.low").
		Str(log.FieldPath, c.cfg.Path).
		Uint64("free_bytes", free).
		Int64("min_free_bytes", c.cfg.MinFreeBytes).
		Msg("output volume below free-space floor")
	if err := c.alerts.Send(context.WithoutCancel(ctx), alert.FromFault(model.SeverityHigh, f, "output volume low on space")); err != nil {
		c.logger.Error().Err(err).Str("event", "alert.lost").Msg("disk alert could not be delivered or persisted")
	}
	return true
}
