// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/recingest/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, s)
}

func (c *callLog) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func hookFor(c *callLog, name string, err error) ShutdownHook {
	return func(context.Context) error {
		c.add(name)
		return err
	}
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func TestManager_HooksRunLIFOAfterCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	calls := &callLog{}
	m := NewManager(time.Second, log.WithComponent("test"))
	m.Go("a", blockUntilDone)
	m.Go("b", blockUntilDone)
	m.RegisterShutdownHook("first", hookFor(calls, "first", nil))
	m.RegisterShutdownHook("second", hookFor(calls, "second", nil))
	m.RegisterShutdownHook("third", hookFor(calls, "third", nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}
	assert.Equal(t, []string{"third", "second", "first"}, calls.all())

	// Shutdown is idempotent.
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Len(t, calls.all(), 3)
}

func TestManager_ServiceFailureStopsOthers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	calls := &callLog{}
	m := NewManager(time.Second, log.WithComponent("test"))
	boom := errors.New("bind failed")
	m.Go("healthy", func(ctx context.Context) error {
		<-ctx.Done()
		calls.add("healthy-stopped")
		return nil
	})
	m.Go("broken", func(context.Context) error { return boom })
	m.RegisterShutdownHook("close", hookFor(calls, "close", nil))

	err := m.Start(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, []string{"healthy-stopped", "close"}, calls.all())
}

func TestManager_HookErrorsAreJoined(t *testing.T) {
	calls := &callLog{}
	m := NewManager(time.Second, log.WithComponent("test"))
	e1, e2 := errors.New("e1"), errors.New("e2")
	m.RegisterShutdownHook("one", hookFor(calls, "one", e1))
	m.RegisterShutdownHook("two", hookFor(calls, "two", e2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
	assert.Equal(t, []string{"two", "one"}, calls.all())
}

func TestManager_StartTwiceAndShutdownBeforeStart(t *testing.T) {
	m := NewManager(time.Second, log.WithComponent("test"))
	assert.ErrorIs(t, m.Shutdown(context.Background()), ErrManagerNotStarted)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Start(ctx))
	assert.ErrorIs(t, m.Start(ctx), ErrManagerStarted)
}

func TestManager_AbortRunsRegisteredHooks(t *testing.T) {
	calls := &callLog{}
	m := NewManager(time.Second, log.WithComponent("test"))
	m.RegisterShutdownHook("store", hookFor(calls, "store", nil))
	m.RegisterShutdownHook("audit", hookFor(calls, "audit", nil))
	m.abort()
	assert.Equal(t, []string{"audit", "store"}, calls.all())
}
