// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	xglog "github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/metrics"
	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/ManuGH/recingest/internal/pipeline/state"
	"github.com/ManuGH/recingest/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var tracer = telemetry.Tracer("recingest/alert")

// DefaultDeliveryTimeout bounds the synchronous delivery attempt in Send,
// which runs on watcher and worker goroutines. A slower relay leaves the
// alert to the dead-letter flusher.
const DefaultDeliveryTimeout = 10 * time.Second

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	Transport       Transport
	Store           *DeadLetterStore
	Audit           *AuditLog     // optional
	State           *state.Store  // optional
	DeliveryTimeout time.Duration // per attempt
	FlushInterval   time.Duration
	FlushRate       rate.Limit // deliveries per second during a flush
	FlushBurst      int
}

// Channel is the single entry point for operator alerts.
type Channel struct {
	transport Transport
	store     *DeadLetterStore
	audit     *AuditLog
	state     *state.Store
	timeout   time.Duration
	interval  time.Duration
	limiter   *rate.Limiter
	logger    zerolog.Logger
}

// NewChannel builds a Channel.
func NewChannel(cfg ChannelConfig) *Channel {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.FlushRate <= 0 {
		cfg.FlushRate = 1
	}
	if cfg.FlushBurst <= 0 {
		cfg.FlushBurst = 1
	}
	return &Channel{
		transport: cfg.Transport,
		store:     cfg.Store,
		audit:     cfg.Audit,
		state:     cfg.State,
		timeout:   cfg.DeliveryTimeout,
		interval:  cfg.FlushInterval,
		limiter:   rate.NewLimiter(cfg.FlushRate, cfg.FlushBurst),
		logger:    xglog.WithComponent("alert"),
	}
}

// Send tries immediate delivery and falls back to the dead-letter store. The
// caller is never blocked beyond one delivery timeout. An error is returned
// only when the alert could neither be delivered nor persisted; it is still
// present in the audit log and the service log in that case.
func (c *Channel) Send(ctx context.Context, a Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.State = StatePending
	c.audit.Record(a, StatePending, nil)
	metrics.RecordAlert(string(a.Severity), string(StatePending))

	err := c.deliver(ctx, &a)
	if err == nil {
		a.State = StateDelivered
		c.audit.Record(a, StateDelivered, nil)
		metrics.RecordAlert(string(a.Severity), string(StateDelivered))
		c.count(state.CounterAlertsDelivered)
		return nil
	}

	a.State = StateDeadLettered
	name, perr := c.store.Put(a)
	if perr != nil {
		c.logger.Error().
			Err(perr).
			Str("event", "alert.persist_failed").
			Str(xglog.FieldAlertID, a.ID).
			Str(xglog.FieldSeverity, string(a.Severity)).
			Str("subject", a.Subject).
			Str("message", a.Message).
			Msg("alert could not be delivered or persisted")
		c.audit.Record(a, StatePending, errors.Join(err, perr))
		return fmt.Errorf("alert %s: delivery failed (%v) and persist failed: %w", a.ID, err, perr)
	}

	c.audit.Record(a, StateDeadLettered, err)
	metrics.RecordAlert(string(a.Severity), string(StateDeadLettered))
	c.count(state.CounterAlertsDeadLettered)
	if c.state != nil {
		c.state.RecordError(&model.Fault{Kind: model.KindAlertDelivery, Path: a.Path, JobID: a.JobID, Err: err})
	}
	c.logger.Warn().
		Err(err).
		Str("event", "alert.dead_lettered").
		Str(xglog.FieldAlertID, a.ID).
		Str("entry", name).
		Str("transport", c.transport.Name()).
		Msg("alert delivery failed, queued for retry")
	return nil
}

func (c *Channel) deliver(ctx context.Context, a *Alert) error {
	ctx, span := tracer.Start(ctx, "alert.deliver",
		trace.WithAttributes(telemetry.AlertAttributes(string(a.Kind), string(a.Severity), c.transport.Name())...))
	defer span.End()

	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.transport.Deliver(dctx, *a)
	a.DeliveryAttempts++
	telemetry.RecordError(span, err, "delivery")
	return err
}

// Flush makes one pass over the dead-letter store, oldest first, delivering
// at the configured rate. Delivered entries are removed; failed ones stay with
// their attempt count updated. It returns the number delivered.
func (c *Channel) Flush(ctx context.Context) (int, error) {
	entries, err := c.store.List()
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, e := range entries {
		if err := c.limiter.Wait(ctx); err != nil {
			return delivered, err
		}
		a := e.Alert
		derr := c.deliver(ctx, &a)
		if derr != nil {
			if _, err := c.store.Put(a); err != nil {
				c.logger.Error().Err(err).Str(xglog.FieldAlertID, a.ID).Msg("update dead-letter entry")
			}
			c.logger.Debug().
				Err(derr).
				Str("event", "alert.redelivery_failed").
				Str(xglog.FieldAlertID, a.ID).
				Int("delivery_attempts", a.DeliveryAttempts).
				Msg("dead-letter re-delivery failed")
			continue
		}
		if err := c.store.Remove(e.Name); err != nil {
			// Delivered but still on disk: the next pass sends a duplicate,
			// which is preferable to losing it.
			c.logger.Error().Err(err).Str(xglog.FieldAlertID, a.ID).Msg("remove delivered dead-letter entry")
			continue
		}
		a.State = StateDelivered
		c.audit.Record(a, StateRedelivered, nil)
		metrics.RecordAlert(string(a.Severity), string(StateRedelivered))
		c.count(state.CounterAlertsRedelivered)
		delivered++
		c.logger.Info().
			Str("event", "alert.redelivered").
			Str(xglog.FieldAlertID, a.ID).
			Int("delivery_attempts", a.DeliveryAttempts).
			Msg("dead-lettered alert delivered")
	}
	return delivered, nil
}

// Run flushes once immediately, then every flush interval until ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		if _, err := c.Flush(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn().Err(err).Str("event", "alert.flush_failed").Msg("dead-letter flush failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Pending returns the dead-letter entries without delivering them.
func (c *Channel) Pending() ([]Entry, error) {
	return c.store.List()
}

func (c *Channel) count(name string) {
	if c.state != nil {
		c.state.IncrementCounter(name)
	}
}
