// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"time"
)

// backoffFor returns the delay before retry number attempt+1: the base delay
// doubled per attempt, capped at BackoffMax, plus up to 20% jitter.
func (o *Orchestrator) backoffFor(attempt int) time.Duration {
	if o.cfg.BackoffBase <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	wait := o.cfg.BackoffBase * time.Duration(1<<attempt)
	if wait <= 0 || wait > o.cfg.BackoffMax {
		wait = o.cfg.BackoffMax
	}
	jitter := time.Duration(o.randInt63n(int64(wait/5 + 1)))
	return wait + jitter
}

func (o *Orchestrator) randInt63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rnd.Int63n(n)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
