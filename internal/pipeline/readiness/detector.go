// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package readiness decides when a file written by an external recorder is
// complete. There is no "file closed" signal, so a candidate is sampled until
// its size and modification time stop moving for long enough.
package readiness

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	xglog "github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/metrics"
	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/ManuGH/recingest/internal/pipeline/state"
	"github.com/rs/zerolog"
)

// Rejection reasons.
const (
	ReasonUnsupported = "unsupported_extension"
	ReasonTimeout     = "timeout"
	ReasonTooShort    = "too_short"
	ReasonProbeFailed = "probe_failed"
)

// DurationProber inspects a file with the external tool and returns its length.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
}

// Observation is one stability sample of a path.
type Observation struct {
	Path    string
	Size    int64
	ModTime time.Time
	// LockHeld is true when an exclusive-lock probe found an external writer.
	LockHeld bool
}

// Result is the verdict for one observation.
type Result struct {
	State  model.CandidateState
	Reason string
	// Settled is true only on the observation that moved the candidate into
	// Ready or Rejected. Repeated observations of a rejected file report
	// Rejected with Settled=false so callers alert once.
	Settled   bool
	Candidate model.Candidate
}

// Policy holds the tuning values. Changing it affects only candidates that
// have not settled yet.
type Policy struct {
	StableSamples int
	GracePeriod   time.Duration
	Timeout       time.Duration
	MinDuration   time.Duration
	ProbeAttempts int
}

// Config creates a Detector.
type Config struct {
	Policy
	Extensions []string
	Prober     DurationProber // optional; required when MinDuration > 0
	State      *state.Store   // optional
	Now        func() time.Time
	Logger     *zerolog.Logger
}

type candidate struct {
	firstSeen     time.Time
	size          int64
	modTime       time.Time
	stableCount   int
	probeFailures int
	state         model.CandidateState
}

type tombstone struct {
	modTime time.Time
	size    int64
	reason  string
}

// Detector tracks candidates by path.
type Detector struct {
	mu         sync.Mutex
	policy     Policy
	extensions map[string]struct{}
	prober     DurationProber
	state      *state.Store
	now        func() time.Time
	logger     zerolog.Logger

	candidates map[string]*candidate
	rejected   map[string]tombstone
}

// New builds a Detector.
func New(cfg Config) *Detector {
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	if cfg.StableSamples < 1 {
		cfg.StableSamples = 1
	}
	if cfg.ProbeAttempts < 1 {
		cfg.ProbeAttempts = 1
	}
	d := &Detector{
		policy:     cfg.Policy,
		extensions: exts,
		prober:     cfg.Prober,
		state:      cfg.State,
		now:        cfg.Now,
		candidates: make(map[string]*candidate),
		rejected:   make(map[string]tombstone),
	}
	if d.now == nil {
		d.now = time.Now
	}
	if cfg.Logger != nil {
		d.logger = *cfg.Logger
	} else {
		d.logger = xglog.WithComponent("readiness")
	}
	return d
}

// SetPolicy replaces the tuning values for future samples.
func (d *Detector) SetPolicy(p Policy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.StableSamples < 1 {
		p.StableSamples = 1
	}
	if p.ProbeAttempts < 1 {
		p.ProbeAttempts = 1
	}
	d.policy = p
}

// Supported reports whether path has an allowed extension.
func (d *Detector) Supported(path string) bool {
	_, ok := d.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Tracked returns the paths currently under observation.
func (d *Detector) Tracked() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.candidates))
	for p := range d.candidates {
		out = append(out, p)
	}
	return out
}

// Forget drops all bookkeeping for path, e.g. after it was removed.
func (d *Detector) Forget(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.candidates, path)
	delete(d.rejected, path)
}

// Observe feeds one sample and returns the candidate's verdict.
func (d *Detector) Observe(ctx context.Context, obs Observation) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	logger := d.logger.With().Str(xglog.FieldPath, obs.Path).Logger()

	if ts, ok := d.rejected[obs.Path]; ok {
		if ts.modTime.Equal(obs.ModTime) && ts.size == obs.Size {
			return Result{State: model.CandidateRejected, Reason: ts.reason}
		}
		// Modified after rejection: rediscover.
		delete(d.rejected, obs.Path)
	}

	if !d.Supported(obs.Path) {
		return d.rejectLocked(obs, ReasonUnsupported, logger)
	}

	c, ok := d.candidates[obs.Path]
	if !ok {
		c = &candidate{
			firstSeen: now,
			size:      obs.Size,
			modTime:   obs.ModTime,
			state:     model.CandidateDiscovered,
		}
		d.candidates[obs.Path] = c
		d.count(state.CounterDiscovered)
		logger.Debug().
			Str("event", "readiness.discovered").
			Int64("size", obs.Size).
			Msg("candidate discovered")
	} else {
		switch {
		case obs.Size < c.size:
			logger.Debug().
				Str("event", "readiness.shrunk").
				Int64("old_size", c.size).
				Int64("size", obs.Size).
				Msg("candidate shrank, restarting stability count")
			c.stableCount = 0
		case obs.Size != c.size || !obs.ModTime.Equal(c.modTime) || obs.LockHeld:
			c.stableCount = 0
		default:
			c.stableCount++
		}
		c.size = obs.Size
		c.modTime = obs.ModTime
		c.state = model.CandidateStabilizing
	}

	p := d.policy
	if c.stableCount >= p.StableSamples && now.Sub(obs.ModTime) > p.GracePeriod && !obs.LockHeld {
		var probed time.Duration
		if p.MinDuration > 0 && d.prober != nil {
			dur, err := d.prober.ProbeDuration(ctx, obs.Path)
			if err != nil {
				c.probeFailures++
				logger.Warn().
					Err(err).
					Str("event", "readiness.probe_failed").
					Int(xglog.FieldAttempt, c.probeFailures).
					Msg("duration probe failed")
				if c.probeFailures >= p.ProbeAttempts {
					return d.rejectLocked(obs, ReasonProbeFailed, logger)
				}
				return Result{State: model.CandidateStabilizing}
			}
			if dur < p.MinDuration {
				logger.Info().
					Dur("duration", dur).
					Dur("min_duration", p.MinDuration).
					Msg("candidate shorter than minimum")
				return d.rejectLocked(obs, ReasonTooShort, logger)
			}
			probed = dur
		}

		delete(d.candidates, obs.Path)
		d.count(state.CounterReady)
		metrics.RecordVerdict("ready", "stable")
		logger.Info().
			Str("event", "readiness.ready").
			Int64("size", obs.Size).
			Dur("observed_for", now.Sub(c.firstSeen)).
			Msg("candidate ready")
		return Result{
			State:   model.CandidateReady,
			Settled: true,
			Candidate: model.Candidate{
				Path:     obs.Path,
				Size:     obs.Size,
				ModTime:  obs.ModTime,
				Duration: probed,
			},
		}
	}

	if p.Timeout > 0 && now.Sub(c.firstSeen) > p.Timeout {
		return d.rejectLocked(obs, ReasonTimeout, logger)
	}

	return Result{State: model.CandidateStabilizing}
}

func (d *Detector) rejectLocked(obs Observation, reason string, logger zerolog.Logger) Result {
	delete(d.candidates, obs.Path)
	d.rejected[obs.Path] = tombstone{modTime: obs.ModTime, size: obs.Size, reason: reason}

	kind := model.KindDetectionRejected
	if reason == ReasonTimeout {
		kind = model.KindDetectionTimeout
	}
	d.count(state.CounterRejected)
	if d.state != nil {
		d.state.RecordError(model.NewFault(kind, obs.Path, fmt.Errorf("rejected: %s", reason)))
	}
	metrics.RecordVerdict("rejected", reason)
	logger.Warn().
		Str("event", "readiness.rejected").
		Str(xglog.FieldReason, reason).
		Msg("candidate rejected")
	return Result{State: model.CandidateRejected, Reason: reason, Settled: true}
}

func (d *Detector) count(name string) {
	if d.state != nil {
		d.state.IncrementCounter(name)
	}
}
