// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package exec is the subprocess boundary: spawning the external transcode and
// caption tools in their own process group, supervising them through a
// progress side-file, and classifying how they ended.
package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/metrics"
	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/ManuGH/recingest/internal/procgroup"
)

// Spec describes one subprocess invocation.
type Spec struct {
	Step string // "transcode", "caption"
	Argv []string
	Dir  string
}

// Process is a running subprocess owned by exactly one worker.
type Process interface {
	PID() int
	// Signal delivers sig to the whole process group.
	Signal(sig syscall.Signal) error
	// Wait blocks until the process exits and reaps it. It must be called
	// exactly once per Process.
	Wait() (model.ExitStatus, error)
}

// Spawner starts subprocesses.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Process, error)
}

// SpawnError reports that no process was started at all.
type SpawnError struct {
	Step string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Step, e.Err) }

func (e *SpawnError) Unwrap() error { return e.Err }

// OSSpawner starts real processes with os/exec.
type OSSpawner struct {
	// StderrLines is the number of trailing stderr lines kept for diagnostics.
	StderrLines int
	// WaitDelay bounds how long Wait blocks on I/O after the leader exited.
	WaitDelay time.Duration
}

// Spawn starts spec.Argv in a new process group.
func (s OSSpawner) Spawn(ctx context.Context, spec Spec) (Process, error) {
	if len(spec.Argv) == 0 {
		return nil, &SpawnError{Step: spec.Step, Err: errors.New("empty command")}
	}
	lines := s.StderrLines
	if lines <= 0 {
		lines = 64
	}
	waitDelay := s.WaitDelay
	if waitDelay <= 0 {
		waitDelay = 5 * time.Second
	}

	// Lifetime is controlled by the supervisor, not by ctx.
	cmd := osexec.Command(spec.Argv[0], spec.Argv[1:]...) // #nosec G204 -- argv comes from operator configuration
	procgroup.Set(cmd)
	cmd.Dir = spec.Dir
	cmd.Env = os.Environ()
	cmd.WaitDelay = waitDelay
	ring := NewLineRing(lines)
	cmd.Stderr = ring

	if err := cmd.Start(); err != nil {
		metrics.IncSpawn(spec.Step, "error")
		return nil, &SpawnError{Step: spec.Step, Err: err}
	}
	metrics.IncSpawn(spec.Step, "ok")

	logger := log.WithContext(ctx, log.WithComponent("exec"))
	logger.Debug().
		Str("event", "exec.spawned").
		Str(log.FieldStep, spec.Step).
		Int(log.FieldPID, cmd.Process.Pid).
		Str(log.FieldCommand, cmd.String()).
		Msg("subprocess started")

	return &cmdProcess{cmd: cmd, step: spec.Step, stderr: ring, started: time.Now()}, nil
}

type cmdProcess struct {
	cmd     *osexec.Cmd
	step    string
	stderr  *LineRing
	started time.Time
}

func (p *cmdProcess) PID() int { return p.cmd.Process.Pid }

func (p *cmdProcess) Signal(sig syscall.Signal) error { return procgroup.Kill(p.cmd, sig) }

func (p *cmdProcess) Wait() (model.ExitStatus, error) {
	waitErr := p.cmd.Wait()
	st := statusFromState(p.cmd.ProcessState)
	st.StartedAt = p.started
	st.EndedAt = time.Now()

	var exitErr *osexec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, osexec.ErrWaitDelay) {
		return st, fmt.Errorf("wait %s: %w", p.step, waitErr)
	}
	if !st.Success() {
		st.Reason = "exit"
		if tail := p.stderr.LastN(5); len(tail) > 0 {
			logger := log.WithComponent("exec")
			logger.Debug().
				Str(log.FieldStep, p.step).
				Int(log.FieldExitCode, st.Code).
				Strs("stderr", tail).
				Msg("subprocess failed")
		}
	} else {
		st.Reason = "clean"
	}
	return st, nil
}

// StderrTail returns the last stderr lines of a real process, if available.
func StderrTail(p Process, n int) []string {
	if cp, ok := p.(*cmdProcess); ok {
		return cp.stderr.LastN(n)
	}
	return nil
}

func statusFromState(ps *os.ProcessState) model.ExitStatus {
	if ps == nil {
		return model.ExitStatus{Code: -1}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return model.ExitStatus{Code: -1, Signal: ws.Signal().String()}
	}
	return model.ExitStatus{Code: ps.ExitCode()}
}
