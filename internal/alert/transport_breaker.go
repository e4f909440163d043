// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/recingest/internal/resilience"
)

// BreakerTransport stops calling an unreachable transport after repeated
// failures. While open, Deliver fails fast with ErrTransportUnavailable so
// alerts go straight to the dead-letter store.
type BreakerTransport struct {
	next    Transport
	breaker *resilience.CircuitBreaker
}

// NewBreakerTransport wraps next. threshold consecutive failures open the
// breaker for reset.
func NewBreakerTransport(next Transport, threshold int, reset time.Duration) *BreakerTransport {
	return &BreakerTransport{
		next:    next,
		breaker: resilience.NewCircuitBreaker("alert_"+next.Name(), threshold, reset),
	}
}

func (t *BreakerTransport) Name() string { return t.next.Name() }

// State reports the breaker state.
func (t *BreakerTransport) State() string { return t.breaker.State() }

func (t *BreakerTransport) Deliver(ctx context.Context, a Alert) error {
	err := t.breaker.Execute(func() error { return t.next.Deliver(ctx, a) })
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: %s: %w", ErrTransportUnavailable, t.next.Name(), err)
	}
	return err
}
