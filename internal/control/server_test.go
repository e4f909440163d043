// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/ManuGH/recingest/internal/pipeline/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func startServer(t *testing.T, st *state.Store) (*Server, func()) {
	t.Helper()
	srv, err := Listen("127.0.0.1:0", st)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	return srv, func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("control server did not stop")
		}
	}
}

type conn struct {
	c  net.Conn
	sc *bufio.Scanner
}

func dial(t *testing.T, srv *Server) *conn {
	t.Helper()
	c, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	return &conn{c: c, sc: bufio.NewScanner(c)}
}

func (c *conn) roundTrip(t *testing.T, line string) Reply {
	t.Helper()
	_, err := c.c.Write([]byte(line + "\n"))
	require.NoError(t, err)
	require.True(t, c.sc.Scan(), "no reply to %q", line)
	var r Reply
	require.NoError(t, json.Unmarshal(c.sc.Bytes(), &r))
	return r
}

func TestServer_PingBareAndJSON(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv, stop := startServer(t, state.New(8))
	defer stop()

	c := dial(t, srv)
	r := c.roundTrip(t, "ping")
	assert.True(t, r.OK)
	assert.JSONEq(t, `"pong"`, string(r.Data))

	r = c.roundTrip(t, `{"command":"PING"}`)
	assert.True(t, r.OK)
}

func TestServer_MalformedInputKeepsConnectionUsable(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	st := state.New(8)
	srv, stop := startServer(t, st)
	defer stop()

	c := dial(t, srv)
	for _, bad := range []string{`{"command":`, "launch", `{"cmd":"ping"}`, "stats now", `{"command":""}`} {
		r := c.roundTrip(t, bad)
		assert.False(t, r.OK, bad)
		assert.NotEmpty(t, r.Error, bad)
	}
	r := c.roundTrip(t, "ping")
	assert.True(t, r.OK)

	errs := st.Errors()
	require.Len(t, errs, 5)
	for _, e := range errs {
		assert.Equal(t, model.KindControlProtocol, e.Kind)
	}
}

func TestServer_PauseThenStats(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	st := state.New(8)
	st.IncrementCounter(state.CounterCompleted)
	srv, stop := startServer(t, st)
	defer stop()

	c := dial(t, srv)
	r := c.roundTrip(t, "pause")
	require.True(t, r.OK)
	var pr PauseResult
	require.NoError(t, json.Unmarshal(r.Data, &pr))
	assert.Equal(t, PauseResult{Paused: true, Changed: true}, pr)
	assert.True(t, st.Paused())

	r = c.roundTrip(t, "stats")
	require.True(t, r.OK)
	var snap state.Snapshot
	require.NoError(t, json.Unmarshal(r.Data, &snap))
	assert.True(t, snap.Paused)
	assert.Equal(t, uint64(1), snap.Counters[state.CounterCompleted])

	r = c.roundTrip(t, "pause")
	require.NoError(t, json.Unmarshal(r.Data, &pr))
	assert.False(t, pr.Changed)

	r = c.roundTrip(t, "resume")
	require.NoError(t, json.Unmarshal(r.Data, &pr))
	assert.Equal(t, PauseResult{Paused: false, Changed: true}, pr)
	assert.False(t, st.Paused())
}

func TestServer_Errors(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	st := state.New(8)
	st.RecordError(model.NewFault(model.KindDetectionTimeout, "/rec/a.ts", nil))
	srv, stop := startServer(t, st)
	defer stop()

	r := dial(t, srv).roundTrip(t, "errors")
	require.True(t, r.OK)
	var recs []state.ErrorRecord
	require.NoError(t, json.Unmarshal(r.Data, &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, model.KindDetectionTimeout, recs[0].Kind)
	assert.Equal(t, "/rec/a.ts", recs[0].Path)
}

func TestServer_OverlongLine(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	st := state.New(8)
	srv, stop := startServer(t, st)
	defer stop()

	c := dial(t, srv)
	_, _ = c.c.Write([]byte(strings.Repeat("x", maxLineBytes+10) + "\n"))

	require.Eventually(t, func() bool { return len(st.Errors()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, st.Errors()[0].Message, "too long")

	// The server keeps accepting new connections.
	assert.True(t, dial(t, srv).roundTrip(t, "ping").OK)
}

func TestListen_SecondInstanceIsAlreadyRunning(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", state.New(8))
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	_, err = Listen(srv.Addr().String(), state.New(8))
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestClient_Do(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	st := state.New(8)
	srv, stop := startServer(t, st)
	defer stop()

	cl := Client{Addr: srv.Addr().String(), Timeout: 2 * time.Second}
	rep, err := cl.Do(context.Background(), CmdPause)
	require.NoError(t, err)
	assert.True(t, rep.OK)
	assert.True(t, st.Paused())

	_, err = cl.Do(context.Background(), "reboot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ping", want: "ping"},
		{in: "  STATS \r", want: "stats"},
		{in: `{"command":"errors"}`, want: "errors"},
		{in: `{"command":"pause","extra":1}`, wantErr: true},
		{in: "", wantErr: true},
		{in: "two words", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseRequest([]byte(tt.in))
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
