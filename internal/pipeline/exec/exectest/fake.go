// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package exectest provides a recording Spawner for tests of code that
// drives subprocesses.
package exectest

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/recingest/internal/pipeline/exec"
	"github.com/ManuGH/recingest/internal/pipeline/model"
)

// Behavior scripts one spawned process.
type Behavior struct {
	ExitCode int
	Signal   string        // exit as if killed by this signal
	Delay    time.Duration // run time before exiting on its own
	Hang     bool          // run until signalled
	// IgnoreTERM makes a hanging process survive SIGTERM.
	IgnoreTERM bool
	// Gate, when set, holds the process until it is closed.
	Gate <-chan struct{}
	// SpawnErr fails the spawn itself.
	SpawnErr error
}

// Call records one spawn.
type Call struct {
	Spec exec.Spec
	PID  int
}

// Spawner hands out scripted processes and records every spawn and wait.
type Spawner struct {
	mu       sync.Mutex
	script   map[string][]Behavior
	fallback Behavior
	calls    []Call
	waits    map[int]int
	signals  map[int][]syscall.Signal
	nextPID  int
	live     int
	maxLive  int
}

// NewSpawner returns a Spawner whose processes exit 0 unless scripted.
func NewSpawner() *Spawner {
	return &Spawner{
		script:  make(map[string][]Behavior),
		waits:   make(map[int]int),
		signals: make(map[int][]syscall.Signal),
		nextPID: 1000,
	}
}

// Script queues behaviors for successive spawns of step. When the queue is
// empty the default behavior is used.
func (s *Spawner) Script(step string, b ...Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[step] = append(s.script[step], b...)
}

// Default sets the behavior used when no script entry is queued.
func (s *Spawner) Default(b Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = b
}

// Spawn implements exec.Spawner.
func (s *Spawner) Spawn(_ context.Context, spec exec.Spec) (exec.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.fallback
	if q := s.script[spec.Step]; len(q) > 0 {
		b, s.script[spec.Step] = q[0], q[1:]
	}
	if b.SpawnErr != nil {
		return nil, &exec.SpawnError{Step: spec.Step, Err: b.SpawnErr}
	}

	s.nextPID++
	pid := s.nextPID
	s.calls = append(s.calls, Call{Spec: spec, PID: pid})
	s.live++
	if s.live > s.maxLive {
		s.maxLive = s.live
	}
	return &process{owner: s, pid: pid, b: b, killed: make(chan syscall.Signal, 1), started: time.Now()}, nil
}

// Calls returns every recorded spawn.
func (s *Spawner) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// SpawnCount counts spawns for step; empty step counts all.
func (s *Spawner) SpawnCount(step string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if step == "" || c.Spec.Step == step {
			n++
		}
	}
	return n
}

// WaitCount returns how often Wait was called for pid.
func (s *Spawner) WaitCount(pid int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waits[pid]
}

// Signals returns the signals delivered to pid.
func (s *Spawner) Signals(pid int) []syscall.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]syscall.Signal(nil), s.signals[pid]...)
}

// ReapViolations lists pids that were not reaped exactly once.
func (s *Spawner) ReapViolations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		if n := s.waits[c.PID]; n != 1 {
			out = append(out, fmt.Sprintf("pid %d (%s) reaped %d times", c.PID, c.Spec.Step, n))
		}
	}
	return out
}

// MaxConcurrent is the highest number of simultaneously unreaped processes.
func (s *Spawner) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxLive
}

type process struct {
	owner   *Spawner
	pid     int
	b       Behavior
	killed  chan syscall.Signal
	started time.Time
	once    sync.Once
}

func (p *process) PID() int { return p.pid }

func (p *process) Signal(sig syscall.Signal) error {
	p.owner.mu.Lock()
	p.owner.signals[p.pid] = append(p.owner.signals[p.pid], sig)
	p.owner.mu.Unlock()

	if sig == syscall.SIGTERM && p.b.IgnoreTERM {
		return nil
	}
	select {
	case p.killed <- sig:
	default:
	}
	return nil
}

func (p *process) Wait() (model.ExitStatus, error) {
	p.owner.mu.Lock()
	p.owner.waits[p.pid]++
	p.owner.mu.Unlock()

	st := p.run()
	st.StartedAt = p.started
	st.EndedAt = time.Now()

	p.once.Do(func() {
		p.owner.mu.Lock()
		p.owner.live--
		p.owner.mu.Unlock()
	})
	return st, nil
}

func (p *process) run() model.ExitStatus {
	var timer <-chan time.Time
	if !p.b.Hang && p.b.Gate == nil {
		if p.b.Delay <= 0 {
			return p.natural()
		}
		t := time.NewTimer(p.b.Delay)
		defer t.Stop()
		timer = t.C
	}
	select {
	case sig := <-p.killed:
		return model.ExitStatus{Code: -1, Signal: sig.String()}
	case <-timer:
		return p.natural()
	case <-p.b.Gate:
		return p.natural()
	}
}

func (p *process) natural() model.ExitStatus {
	if p.b.Signal != "" {
		return model.ExitStatus{Code: -1, Signal: p.b.Signal, Reason: "exit"}
	}
	if p.b.ExitCode != 0 {
		return model.ExitStatus{Code: p.b.ExitCode, Reason: "exit"}
	}
	return model.ExitStatus{Reason: "clean"}
}
