// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFault_ErrorAndUnwrap(t *testing.T) {
	base := errors.New("exit status 1")
	f := NewFault(KindTransientProcess, "/in/a.ts", base)

	assert.Equal(t, "TransientProcessFailure: /in/a.ts: exit status 1", f.Error())
	assert.ErrorIs(t, f, base)

	var target *Fault
	assert.True(t, errors.As(error(f), &target))
	assert.Equal(t, KindTransientProcess, target.Kind)
}

func TestFault_ErrorWithoutSubject(t *testing.T) {
	f := &Fault{Kind: KindAlertDelivery, Err: errors.New("dial tcp: refused")}
	assert.Equal(t, "AlertDeliveryFailure: dial tcp: refused", f.Error())
}

func TestJobState_IsTerminal(t *testing.T) {
	assert.True(t, JobCompleted.IsTerminal())
	assert.True(t, JobDeadLettered.IsTerminal())
	assert.False(t, JobQueued.IsTerminal())
	assert.False(t, JobFailedTransient.IsTerminal())
}

func TestExitStatus_Success(t *testing.T) {
	assert.True(t, ExitStatus{}.Success())
	assert.False(t, ExitStatus{Code: 1}.Success())
	assert.False(t, ExitStatus{Signal: "killed", Code: -1}.Success())
	assert.False(t, ExitStatus{Stalled: true}.Success())
}
