// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ManuGH/recingest/internal/alert"
	"github.com/ManuGH/recingest/internal/control"
	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/ManuGH/recingest/internal/pipeline/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "recingest dev")
}

func TestCtlCmd(t *testing.T) {
	st := state.New(8)
	srv, err := control.Listen("127.0.0.1:0", st)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	addr := srv.Addr().String()

	out, err := execute(t, "ctl", "ping", "--addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, `"pong"`)

	out, err = execute(t, "ctl", "pause", "--addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, `"paused": true`)
	assert.True(t, st.Paused())

	_, err = execute(t, "ctl", "launch", "--addr", addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")

	_, err = execute(t, "ctl")
	assert.Error(t, err)
}

func TestCtlCmd_NotRunning(t *testing.T) {
	_, err := execute(t, "ctl", "ping", "--addr", "127.0.0.1:1", "--timeout", time.Second.String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect")
}

func TestDeadLetterListCmd(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "deadletter", "list", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "no pending alerts")

	store, err := alert.OpenDeadLetterStore(dir)
	require.NoError(t, err)
	_, err = store.Put(alert.New(model.SeverityHigh, model.KindPermanentProcess, "transcode failed: news.ts", "exit 3"))
	require.NoError(t, err)

	out, err = execute(t, "deadletter", "list", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "SEVERITY")
	assert.Contains(t, out, "high")
	assert.Contains(t, out, "transcode failed: news.ts")
}
