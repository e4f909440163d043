// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/recingest/internal/metrics"
)

// Signaler delivers a signal to a process group.
type Signaler func(sig syscall.Signal) error

// CmdSignaler signals the process group led by cmd.
func CmdSignaler(cmd *exec.Cmd) Signaler {
	return func(sig syscall.Signal) error { return Kill(cmd, sig) }
}

// Terminate stops a process group: SIGTERM, wait up to grace for exited to be
// closed, then SIGKILL and wait for exited again. exited must be closed by
// whoever reaps the process. It reports whether SIGKILL was needed.
func Terminate(signal Signaler, exited <-chan struct{}, grace time.Duration) (killed bool) {
	select {
	case <-exited:
		return false
	default:
	}

	signalGroup(signal, syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-exited:
		return false
	case <-timer.C:
		signalGroup(signal, syscall.SIGKILL)
		<-exited
		return true
	}
}

func signalGroup(signal Signaler, sig syscall.Signal) {
	if err := signal(sig); err != nil {
		metrics.IncProcTerminate(sig.String(), "error")
		return
	}
	metrics.IncProcTerminate(sig.String(), "sent")
}
