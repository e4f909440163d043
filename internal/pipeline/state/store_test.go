// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package state

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestStore_CountersAndActive(t *testing.T) {
	s := New(4, WithClock(fixedClock()))

	s.IncrementCounter(CounterDiscovered)
	s.IncrementCounter(CounterDiscovered)
	s.SetJobActive(model.JobSummary{ID: "j1", Source: "/rec/a.ts", State: model.JobQueued})
	s.SetQueueDepth(1)

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Counters[CounterDiscovered])
	assert.Equal(t, 1, snap.QueueDepth)
	require.Len(t, snap.Active, 1)
	assert.Equal(t, "j1", snap.Active[0].ID)

	s.ClearJob("j1")
	assert.Empty(t, s.Snapshot().Active)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := New(4)
	s.IncrementCounter(CounterCompleted)

	snap := s.Snapshot()
	snap.Counters[CounterCompleted] = 99

	assert.Equal(t, uint64(1), s.Counter(CounterCompleted))
}

func TestStore_ClearUnknownJobIsSwallowed(t *testing.T) {
	s := New(4, WithClock(fixedClock()))

	assert.NotPanics(t, func() { s.ClearJob("ghost") })

	errs := s.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, model.KindStateInconsistency, errs[0].Kind)
	assert.Equal(t, "ghost", errs[0].JobID)
}

func TestStore_ErrorRingKeepsNewest(t *testing.T) {
	s := New(3, WithClock(fixedClock()))

	for i := 0; i < 5; i++ {
		s.RecordError(fmt.Errorf("err-%d", i))
	}
	s.RecordError(nil)

	var got []string
	for _, rec := range s.Errors() {
		got = append(got, rec.Message)
	}
	if diff := cmp.Diff([]string{"err-2", "err-3", "err-4"}, got); diff != "" {
		t.Fatalf("ring mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, s.Snapshot().ErrorCount)
}

func TestStore_RecordErrorClassifiesFaults(t *testing.T) {
	s := New(2)
	s.RecordError(model.NewFault(model.KindDetectionTimeout, "/rec/x.ts", errors.New("never stabilised")))
	s.RecordError(errors.New("plain"))

	errs := s.Errors()
	require.Len(t, errs, 2)
	assert.Equal(t, model.KindDetectionTimeout, errs[0].Kind)
	assert.Equal(t, "/rec/x.ts", errs[0].Path)
	assert.Equal(t, model.ErrorKind("Unclassified"), errs[1].Kind)
}

func TestStore_PauseGate(t *testing.T) {
	s := New(1)

	select {
	case <-s.Resumed():
	default:
		t.Fatal("a fresh store must not be paused")
	}

	assert.True(t, s.SetPaused(true))
	assert.False(t, s.SetPaused(true), "second pause is a no-op")
	gate := s.Resumed()
	select {
	case <-gate:
		t.Fatal("gate must block while paused")
	default:
	}
	assert.True(t, s.Snapshot().Paused)

	assert.True(t, s.SetPaused(false))
	select {
	case <-gate:
	case <-time.After(time.Second):
		t.Fatal("resume must release waiters")
	}
	assert.False(t, s.Paused())
}

// Composite updates must never be observed half-applied: every job moves
// from the active set into the failed counter in one Update.
func TestStore_CompositeUpdateIsAtomic(t *testing.T) {
	const jobs = 200
	s := New(8)
	for i := 0; i < jobs; i++ {
		s.SetJobActive(model.JobSummary{ID: fmt.Sprintf("j%d", i)})
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	var torn bool
	var tornMu sync.Mutex

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := s.Snapshot()
			if int(snap.Counters[CounterFailed])+len(snap.Active) != jobs {
				tornMu.Lock()
				torn = true
				tornMu.Unlock()
			}
		}
	}()

	var writers sync.WaitGroup
	for w := 0; w < 4; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := w; i < jobs; i += 4 {
				id := fmt.Sprintf("j%d", i)
				s.Update(func(tx *Tx) {
					tx.ClearJob(id)
					tx.IncrementCounter(CounterFailed)
				})
			}
		}(w)
	}
	writers.Wait()
	close(stop)
	wg.Wait()

	tornMu.Lock()
	defer tornMu.Unlock()
	assert.False(t, torn, "snapshot observed a partially applied update")
	assert.Equal(t, uint64(jobs), s.Counter(CounterFailed))
	assert.Empty(t, s.Snapshot().Active)
}
