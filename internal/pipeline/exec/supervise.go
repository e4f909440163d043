// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package exec

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/metrics"
	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/ManuGH/recingest/internal/procgroup"
)

// Termination reasons set on ExitStatus.Reason.
const (
	ReasonStalled    = "stalled"
	ReasonMaxRuntime = "max_runtime"
	ReasonShutdown   = "shutdown"
)

// RunSpec is a supervised invocation.
type RunSpec struct {
	Spec
	// ProgressPath is polled for existence and modification time only.
	ProgressPath string
	PollInterval time.Duration
	StallTimeout time.Duration
	MaxRuntime   time.Duration
	KillGrace    time.Duration
	// OnProgress is called from the supervising goroutine on every observed update.
	OnProgress func(at time.Time)
}

type waitResult struct {
	status model.ExitStatus
	err    error
}

// Run spawns the subprocess and supervises it until it exits. A stall (no
// progress-marker update within StallTimeout), MaxRuntime, or ctx cancellation
// terminates the process group with SIGTERM, escalating to SIGKILL after
// KillGrace. The process is reaped exactly once on every path. The returned
// error is non-nil only when nothing was spawned or the reap itself failed.
func Run(ctx context.Context, sp Spawner, spec RunSpec) (model.ExitStatus, error) {
	logger := log.WithContext(ctx, log.WithComponent("exec")).With().
		Str(log.FieldStep, spec.Step).
		Logger()

	proc, err := sp.Spawn(ctx, spec.Spec)
	if err != nil {
		return model.ExitStatus{Code: -1, Reason: "spawn_failed"}, err
	}

	started := time.Now()
	exited := make(chan struct{})
	var res waitResult
	go func() {
		res.status, res.err = proc.Wait()
		close(exited)
	}()

	poll := spec.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if spec.MaxRuntime > 0 {
		t := time.NewTimer(spec.MaxRuntime)
		defer t.Stop()
		deadline = t.C
	}

	lastProgress := started
	var lastMod time.Time
	var lastSize int64 = -1
	reason := ""

loop:
	for {
		select {
		case <-exited:
			break loop
		case <-ctx.Done():
			reason = ReasonShutdown
			break loop
		case <-deadline:
			reason = ReasonMaxRuntime
			break loop
		case now := <-ticker.C:
			if spec.ProgressPath != "" {
				if fi, err := os.Stat(spec.ProgressPath); err == nil {
					if !fi.ModTime().Equal(lastMod) || fi.Size() != lastSize {
						lastMod, lastSize = fi.ModTime(), fi.Size()
						lastProgress = now
						if spec.OnProgress != nil {
							spec.OnProgress(now)
						}
					}
				}
			}
			if spec.StallTimeout > 0 && now.Sub(lastProgress) > spec.StallTimeout {
				reason = ReasonStalled
				break loop
			}
		}
	}

	if reason != "" {
		select {
		case <-exited:
			// Finished on its own in the same instant.
			reason = ""
		default:
		}
	}

	if reason != "" {
		logger.Warn().
			Str("event", "exec.terminating").
			Int(log.FieldPID, proc.PID()).
			Str(log.FieldReason, reason).
			Dur("since_progress", time.Since(lastProgress)).
			Msg("terminating subprocess group")
		killed := procgroup.Terminate(proc.Signal, exited, spec.KillGrace)
		if killed {
			logger.Warn().Int(log.FieldPID, proc.PID()).Msg("subprocess ignored SIGTERM, killed")
		}
	}
	<-exited

	st := res.status
	if reason != "" {
		st.Stalled = reason == ReasonStalled || reason == ReasonMaxRuntime
		st.Reason = reason
		if st.Signal == "" && st.Code == 0 {
			// Exited cleanly while being stopped; the attempt is still void.
			st.Signal = syscall.SIGTERM.String()
		}
	}
	metrics.IncReap(spec.Step, reapLabel(st))
	return st, res.err
}

func reapLabel(st model.ExitStatus) string {
	switch {
	case st.Reason != "" && st.Reason != "clean" && st.Reason != "exit":
		return st.Reason
	case st.Success():
		return "clean"
	case st.Signal != "":
		return "signal"
	default:
		return "exit_code"
	}
}
