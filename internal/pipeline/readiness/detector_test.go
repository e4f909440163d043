// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package readiness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/ManuGH/recingest/internal/pipeline/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = int64(1 << 20)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Set(offset time.Duration) {
	c.t = epoch.Add(offset)
}

var epoch = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

type fakeProber struct {
	dur   time.Duration
	err   error
	calls int
}

func (p *fakeProber) ProbeDuration(context.Context, string) (time.Duration, error) {
	p.calls++
	return p.dur, p.err
}

func newDetector(clk *fakeClock, p Policy, prober DurationProber) (*Detector, *state.Store) {
	st := state.New(16)
	return New(Config{
		Policy:     p,
		Extensions: []string{".ts", ".MKV"},
		Prober:     prober,
		State:      st,
		Now:        clk.Now,
	}), st
}

func referencePolicy() Policy {
	return Policy{StableSamples: 3, GracePeriod: 5 * time.Second, Timeout: time.Hour}
}

// fileAt models a recorder writing 50MB every 2s from t=0 until 500MB.
func fileAt(offset time.Duration) (int64, time.Time) {
	const step = 2 * time.Second
	writes := int64(offset/step) + 1
	if writes > 10 {
		writes = 10
	}
	lastWrite := time.Duration(writes-1) * step
	return writes * 50 * mb, epoch.Add(lastWrite)
}

func TestDetector_GrowingRecordingScenario(t *testing.T) {
	writingStopped := 18 * time.Second

	for _, phase := range []time.Duration{0, time.Second} {
		clk := &fakeClock{}
		d, st := newDetector(clk, referencePolicy(), nil)

		var readyAt time.Duration = -1
		for off := phase; off <= 60*time.Second; off += 2 * time.Second {
			clk.Set(off)
			size, mtime := fileAt(off)
			res := d.Observe(context.Background(), Observation{Path: "/rec/show.ts", Size: size, ModTime: mtime})
			if res.State == model.CandidateReady {
				require.True(t, res.Settled)
				assert.Equal(t, 500*mb, res.Candidate.Size)
				readyAt = off
				break
			}
			require.Equal(t, model.CandidateStabilizing, res.State, "at %s", off)
			if off <= writingStopped {
				require.NotEqual(t, model.CandidateReady, res.State, "ready while growing at %s", off)
			}
		}

		require.GreaterOrEqual(t, readyAt, time.Duration(0), "never became ready (phase %s)", phase)
		sinceStop := readyAt - writingStopped
		assert.GreaterOrEqual(t, sinceStop, 6*time.Second, "phase %s", phase)
		assert.LessOrEqual(t, sinceStop, 11*time.Second, "phase %s", phase)
		assert.Equal(t, uint64(1), st.Counter(state.CounterReady))
		assert.Empty(t, d.Tracked(), "ready hands ownership to the job pipeline")
	}
}

func TestDetector_ShrinkResetsCount(t *testing.T) {
	clk := &fakeClock{}
	d, _ := newDetector(clk, Policy{StableSamples: 2, GracePeriod: time.Second}, nil)
	mtime := epoch
	obs := func(off time.Duration, size int64) Result {
		clk.Set(off)
		return d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: size, ModTime: mtime})
	}

	assert.Equal(t, model.CandidateStabilizing, obs(0, 100).State)
	assert.Equal(t, model.CandidateStabilizing, obs(10*time.Second, 100).State)
	// Count is 1; a shrink on the next sample must not become ready.
	assert.Equal(t, model.CandidateStabilizing, obs(20*time.Second, 40).State)
	assert.Equal(t, model.CandidateStabilizing, obs(30*time.Second, 40).State)
	assert.Equal(t, model.CandidateReady, obs(40*time.Second, 40).State)
}

func TestDetector_LockHeldBlocksReady(t *testing.T) {
	clk := &fakeClock{}
	d, _ := newDetector(clk, Policy{StableSamples: 1}, nil)

	clk.Set(0)
	d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 1, ModTime: epoch.Add(-time.Minute)})
	for i := 1; i <= 5; i++ {
		clk.Set(time.Duration(i) * time.Second)
		res := d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 1, ModTime: epoch.Add(-time.Minute), LockHeld: true})
		assert.Equal(t, model.CandidateStabilizing, res.State)
	}
	clk.Set(10 * time.Second)
	res := d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 1, ModTime: epoch.Add(-time.Minute)})
	assert.Equal(t, model.CandidateReady, res.State)
}

func TestDetector_GraceWindowBlocksReady(t *testing.T) {
	clk := &fakeClock{}
	d, _ := newDetector(clk, Policy{StableSamples: 1, GracePeriod: 30 * time.Second}, nil)

	for _, off := range []time.Duration{0, 10 * time.Second, 20 * time.Second, 30 * time.Second} {
		clk.Set(off)
		res := d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 5, ModTime: epoch})
		assert.Equal(t, model.CandidateStabilizing, res.State, "at %s", off)
	}
	clk.Set(31 * time.Second)
	assert.Equal(t, model.CandidateReady,
		d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 5, ModTime: epoch}).State)
}

func TestDetector_UnsupportedExtension(t *testing.T) {
	clk := &fakeClock{}
	d, st := newDetector(clk, referencePolicy(), nil)

	res := d.Observe(context.Background(), Observation{Path: "/rec/notes.txt", Size: 1, ModTime: epoch})
	assert.Equal(t, model.CandidateRejected, res.State)
	assert.Equal(t, ReasonUnsupported, res.Reason)
	assert.True(t, res.Settled)

	res = d.Observe(context.Background(), Observation{Path: "/rec/notes.txt", Size: 1, ModTime: epoch})
	assert.False(t, res.Settled, "repeat observation must not re-settle")
	assert.Equal(t, uint64(1), st.Counter(state.CounterRejected))

	assert.True(t, d.Supported("/rec/x.mkv"), "extension match is case-insensitive")
}

func TestDetector_TimeoutRejectsAndRecordsFault(t *testing.T) {
	clk := &fakeClock{}
	d, st := newDetector(clk, Policy{StableSamples: 3, GracePeriod: 5 * time.Second, Timeout: time.Minute}, nil)

	var res Result
	for off := time.Duration(0); off <= 2*time.Minute; off += 10 * time.Second {
		clk.Set(off)
		// Still growing.
		res = d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: int64(off), ModTime: epoch.Add(off)})
		if res.State != model.CandidateStabilizing {
			break
		}
	}
	assert.Equal(t, model.CandidateRejected, res.State)
	assert.Equal(t, ReasonTimeout, res.Reason)

	errs := st.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, model.KindDetectionTimeout, errs[0].Kind)
}

func TestDetector_SettledVerdictSurvivesPolicyChange(t *testing.T) {
	clk := &fakeClock{}
	d, _ := newDetector(clk, Policy{StableSamples: 3, GracePeriod: 5 * time.Second, Timeout: 20 * time.Second}, nil)

	clk.Set(0)
	d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 1, ModTime: epoch})
	clk.Set(30 * time.Second)
	res := d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 2, ModTime: epoch.Add(29 * time.Second)})
	require.Equal(t, ReasonTimeout, res.Reason)

	d.SetPolicy(Policy{StableSamples: 1, GracePeriod: 0, Timeout: time.Hour})
	clk.Set(time.Hour)
	res = d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 2, ModTime: epoch.Add(29 * time.Second)})
	assert.Equal(t, model.CandidateRejected, res.State, "unchanged file stays rejected")
	assert.False(t, res.Settled)

	// A later modification rediscovers it under the new policy.
	res = d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 3, ModTime: epoch.Add(30 * time.Minute)})
	assert.Equal(t, model.CandidateStabilizing, res.State)
}

func TestDetector_ProbeTooShort(t *testing.T) {
	clk := &fakeClock{}
	prober := &fakeProber{dur: 20 * time.Second}
	d, _ := newDetector(clk, Policy{StableSamples: 1, MinDuration: time.Minute, ProbeAttempts: 2}, prober)

	clk.Set(0)
	d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 9, ModTime: epoch.Add(-time.Hour)})
	clk.Set(time.Second)
	res := d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 9, ModTime: epoch.Add(-time.Hour)})
	assert.Equal(t, model.CandidateRejected, res.State)
	assert.Equal(t, ReasonTooShort, res.Reason)
	assert.Equal(t, 1, prober.calls)
}

func TestDetector_ProbeRetriesThenRejects(t *testing.T) {
	clk := &fakeClock{}
	prober := &fakeProber{err: errors.New("moov atom not found")}
	d, _ := newDetector(clk, Policy{StableSamples: 1, MinDuration: time.Minute, ProbeAttempts: 3}, prober)

	mtime := epoch.Add(-time.Hour)
	clk.Set(0)
	d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 9, ModTime: mtime})

	var res Result
	for i := 1; i <= 3; i++ {
		clk.Set(time.Duration(i) * time.Second)
		res = d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 9, ModTime: mtime})
		if i < 3 {
			assert.Equal(t, model.CandidateStabilizing, res.State)
		}
	}
	assert.Equal(t, model.CandidateRejected, res.State)
	assert.Equal(t, ReasonProbeFailed, res.Reason)
	assert.Equal(t, 3, prober.calls)
}

func TestDetector_ProbeDurationCarriedOnReady(t *testing.T) {
	clk := &fakeClock{}
	prober := &fakeProber{dur: 45 * time.Minute}
	d, _ := newDetector(clk, Policy{StableSamples: 1, MinDuration: time.Minute}, prober)

	mtime := epoch.Add(-time.Hour)
	clk.Set(0)
	d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 9, ModTime: mtime})
	res := d.Observe(context.Background(), Observation{Path: "/rec/a.ts", Size: 9, ModTime: mtime})
	require.Equal(t, model.CandidateReady, res.State)
	assert.Equal(t, 45*time.Minute, res.Candidate.Duration)
}
