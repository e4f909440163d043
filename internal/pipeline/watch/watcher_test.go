// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/recingest/internal/alert"
	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/ManuGH/recingest/internal/pipeline/readiness"
	"github.com/ManuGH/recingest/internal/pipeline/state"
	"github.com/ManuGH/recingest/internal/pipeline/store"
	"github.com/ManuGH/recingest/internal/pipeline/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []model.Candidate
	err       error
}

func (f *fakeSubmitter) Submit(_ context.Context, c model.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, c)
	return nil
}

func (f *fakeSubmitter) InFlight(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.submitted {
		if c.Path == path {
			return true
		}
	}
	return false
}

func (f *fakeSubmitter) All() []model.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Candidate(nil), f.submitted...)
}

type fakeSender struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (f *fakeSender) Send(_ context.Context, a alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeSender) All() []alert.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]alert.Alert(nil), f.alerts...)
}

type fixture struct {
	w        *Watcher
	dir      string
	sub      *fakeSubmitter
	alerts   *fakeSender
	state    *state.Store
	outcomes *store.MemoryStore
}

func newFixture(t *testing.T, policy readiness.Policy, now func() time.Time) *fixture {
	t.Helper()
	f := &fixture{
		dir:      t.TempDir(),
		sub:      &fakeSubmitter{},
		alerts:   &fakeSender{},
		state:    state.New(16),
		outcomes: store.NewMemoryStore(),
	}
	det := readiness.New(readiness.Config{
		Policy:     policy,
		Extensions: []string{".ts", ".mkv"},
		State:      f.state,
		Now:        now,
	})
	w, err := New(Config{Dirs: []string{f.dir}, Recursive: true, PollInterval: 10 * time.Millisecond}, Deps{
		Detector:  det,
		Submitter: f.sub,
		State:     f.state,
		Outcomes:  f.outcomes,
		Alerts:    f.alerts,
	})
	require.NoError(t, err)
	f.w = w
	return f
}

// writeOld creates a file whose mtime lies well outside any grace window.
func (f *fixture) writeOld(t *testing.T, name string, size int) string {
	t.Helper()
	p := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, make([]byte, size), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(p, past, past))
	return p
}

var quick = readiness.Policy{StableSamples: 1}

func TestWatcher_SubmitsStableFile(t *testing.T) {
	f := newFixture(t, quick, nil)
	p := f.writeOld(t, "show.ts", 1024)
	f.writeOld(t, "notes.txt", 10)

	ctx := context.Background()
	f.w.rescan(ctx)
	require.Len(t, f.w.pending, 1, "unsupported extensions are never sampled")

	f.w.sampleAll(ctx)
	assert.Empty(t, f.sub.All(), "first sample only discovers")

	f.w.sampleAll(ctx)
	got := f.sub.All()
	require.Len(t, got, 1)
	assert.Equal(t, p, got[0].Path)
	assert.Equal(t, int64(1024), got[0].Size)
	assert.Empty(t, f.w.pending)

	// In flight: rescans do not pick it up again.
	f.w.rescan(ctx)
	assert.Empty(t, f.w.pending)
}

func TestWatcher_RecursiveRescan(t *testing.T) {
	f := newFixture(t, quick, nil)
	p := f.writeOld(t, filepath.Join("2025", "01", "deep.mkv"), 64)

	f.w.rescan(context.Background())
	_, ok := f.w.pending[p]
	assert.True(t, ok)

	f.w.cfg.Recursive = false
	f.w.pending = map[string]struct{}{}
	f.w.rescan(context.Background())
	assert.Empty(t, f.w.pending)
}

func TestWatcher_GrowingFileIsNotSubmitted(t *testing.T) {
	f := newFixture(t, readiness.Policy{StableSamples: 2}, nil)
	p := f.writeOld(t, "rec.ts", 100)
	ctx := context.Background()
	f.w.rescan(ctx)

	for i := 0; i < 5; i++ {
		f.w.sampleAll(ctx)
		fh, err := os.OpenFile(p, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = fh.Write(make([]byte, 50))
		require.NoError(t, err)
		require.NoError(t, fh.Close())
	}
	assert.Empty(t, f.sub.All())

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(p, past, past))
	for i := 0; i < 3; i++ {
		f.w.sampleAll(ctx)
	}
	require.Len(t, f.sub.All(), 1)
	assert.Equal(t, int64(350), f.sub.All()[0].Size)
}

func TestWatcher_SkipsCompletedUnchangedSource(t *testing.T) {
	f := newFixture(t, quick, nil)
	p := f.writeOld(t, "done.ts", 10)
	out := filepath.Join(t.TempDir(), "done.mp4")
	require.NoError(t, os.WriteFile(out, []byte("x"), 0o644))
	fi, err := os.Stat(p)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f.outcomes.Record(ctx, store.Outcome{
		JobID: "j1", Source: p, Output: out, SourceModTime: fi.ModTime(),
		Result: store.ResultCompleted, Attempts: 1,
	}))

	f.w.rescan(ctx)
	f.w.rescan(ctx)
	assert.Empty(t, f.w.pending)
	assert.Equal(t, uint64(1), f.state.Counter(state.CounterSkipped))

	// Output removed: the source is processed again.
	require.NoError(t, os.Remove(out))
	f.w.rescan(ctx)
	assert.Len(t, f.w.pending, 1)

	// Source modified: processed again as well.
	require.NoError(t, os.WriteFile(out, []byte("x"), 0o644))
	f.w.pending = map[string]struct{}{}
	later := fi.ModTime().Add(time.Minute)
	require.NoError(t, os.Chtimes(p, later, later))
	f.w.rescan(ctx)
	assert.Len(t, f.w.pending, 1)
}

func TestWatcher_DeadLetteredSourceWaitsForChange(t *testing.T) {
	f := newFixture(t, quick, nil)
	p := f.writeOld(t, "bad.ts", 10)
	fi, err := os.Stat(p)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, f.outcomes.Record(ctx, store.Outcome{
		JobID: "j1", Source: p, SourceModTime: fi.ModTime(),
		Result: store.ResultDeadLettered, Attempts: 3,
	}))

	f.w.rescan(ctx)
	assert.Empty(t, f.w.pending)
	assert.Zero(t, f.state.Counter(state.CounterSkipped))
}

func TestWatcher_HoldsReadyCandidatesWhilePaused(t *testing.T) {
	f := newFixture(t, quick, nil)
	f.writeOld(t, "a.ts", 10)
	ctx := context.Background()
	f.w.rescan(ctx)

	f.state.SetPaused(true)
	f.w.sampleAll(ctx)
	f.w.sampleAll(ctx)
	assert.Empty(t, f.sub.All())
	assert.Len(t, f.w.held, 1)

	f.state.SetPaused(false)
	f.w.sampleAll(ctx)
	assert.Len(t, f.sub.All(), 1)
	assert.Empty(t, f.w.held)
}

func TestWatcher_RescanWhilePausedKeepsOneHeldCopy(t *testing.T) {
	f := newFixture(t, quick, nil)
	p := f.writeOld(t, "a.ts", 10)
	ctx := context.Background()
	f.state.SetPaused(true)

	for i := 0; i < 5; i++ {
		f.w.rescan(ctx)
		f.w.sampleAll(ctx)
		f.w.sampleAll(ctx)
	}
	assert.Len(t, f.w.held, 1)
	assert.NotContains(t, f.w.pending, p, "a held path is not sampled again")

	f.state.SetPaused(false)
	f.w.sampleAll(ctx)
	f.w.rescan(ctx)
	f.w.sampleAll(ctx)
	require.Len(t, f.sub.All(), 1)
	assert.Equal(t, p, f.sub.All()[0].Path)
	assert.Empty(t, f.w.held)
}

func TestWatcher_HeldCandidateResampledAfterChange(t *testing.T) {
	f := newFixture(t, quick, nil)
	p := f.writeOld(t, "a.ts", 10)
	ctx := context.Background()
	f.state.SetPaused(true)

	f.w.rescan(ctx)
	f.w.sampleAll(ctx)
	f.w.sampleAll(ctx)
	require.Len(t, f.w.held, 1)

	f.writeOld(t, "a.ts", 20)
	f.w.rescan(ctx)
	assert.Empty(t, f.w.held)
	assert.Contains(t, f.w.pending, p)
}

func TestWatcher_TimeoutRejectionAlertsOnce(t *testing.T) {
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Hour)
		return now
	}
	f := newFixture(t, readiness.Policy{StableSamples: 100, Timeout: time.Minute}, clock)
	p := f.writeOld(t, "stuck.ts", 10)
	ctx := context.Background()

	f.w.rescan(ctx)
	f.w.sampleAll(ctx)
	f.w.sampleAll(ctx)

	alerts := f.alerts.All()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.SeverityLow, alerts[0].Severity)
	assert.Equal(t, model.KindDetectionTimeout, alerts[0].Kind)
	assert.Equal(t, p, alerts[0].Path)

	// Still unchanged: the tombstone suppresses a second alert.
	f.w.rescan(ctx)
	f.w.sampleAll(ctx)
	assert.Len(t, f.alerts.All(), 1)
	assert.Empty(t, f.sub.All())
}

func TestWatcher_QueueFullResamples(t *testing.T) {
	f := newFixture(t, quick, nil)
	p := f.writeOld(t, "a.ts", 10)
	f.sub.err = worker.ErrQueueFull
	ctx := context.Background()

	f.w.rescan(ctx)
	f.w.sampleAll(ctx)
	f.w.sampleAll(ctx)
	_, ok := f.w.pending[p]
	assert.True(t, ok)

	f.sub.mu.Lock()
	f.sub.err = nil
	f.sub.mu.Unlock()
	f.w.sampleAll(ctx)
	f.w.sampleAll(ctx)
	assert.Len(t, f.sub.All(), 1)
}

func TestWatcher_RunPicksUpNewFiles(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture(t, quick, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.w.Run(ctx) }()

	// Give the subscription a moment before writing.
	time.Sleep(50 * time.Millisecond)
	sub := filepath.Join(f.dir, "new")
	require.NoError(t, os.Mkdir(sub, 0o755))
	p := filepath.Join(sub, "evening.ts")
	require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))

	require.Eventually(t, func() bool {
		for _, c := range f.sub.All() {
			if c.Path == p {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
	_, err = New(Config{Dirs: []string{"/x"}}, Deps{})
	assert.Error(t, err)
}
