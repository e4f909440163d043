// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package watch observes the source directories, samples discovered files
// through the readiness detector and submits ready recordings to the worker
// pool.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/recingest/internal/alert"
	"github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/ManuGH/recingest/internal/pipeline/readiness"
	"github.com/ManuGH/recingest/internal/pipeline/state"
	"github.com/ManuGH/recingest/internal/pipeline/store"
	"github.com/ManuGH/recingest/internal/pipeline/worker"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Submitter accepts ready candidates.
type Submitter interface {
	Submit(ctx context.Context, c model.Candidate) error
	InFlight(path string) bool
}

// LockProber reports whether another process holds an exclusive lock on path.
type LockProber interface {
	Held(path string) (bool, error)
}

// Config holds watcher settings.
type Config struct {
	Dirs      []string
	Recursive bool
	// PollInterval is the stability sampling period.
	PollInterval time.Duration
	// RescanInterval walks the source directories to catch missed events.
	// Zero disables periodic rescans; one scan always runs at start.
	RescanInterval time.Duration
	// ResubscribeBase and ResubscribeMax bound the backoff after a watch failure.
	ResubscribeBase time.Duration
	ResubscribeMax  time.Duration
}

// Deps are the collaborators of the watcher.
type Deps struct {
	Detector  *readiness.Detector
	Submitter Submitter
	State     *state.Store
	Outcomes  store.OutcomeStore // optional
	Alerts    alert.Sender       // optional
	Lock      LockProber         // optional
	Logger    *zerolog.Logger
}

// Watcher feeds the readiness detector from filesystem events and periodic
// samples. All bookkeeping is owned by the Run goroutine.
type Watcher struct {
	cfg       Config
	detector  *readiness.Detector
	submitter Submitter
	state     *state.Store
	outcomes  store.OutcomeStore
	alerts    alert.Sender
	lock      LockProber
	logger    zerolog.Logger

	pending map[string]struct{}
	held    map[string]model.Candidate // ready while paused
	skipped map[string]time.Time       // source -> mtime already accounted as skipped
}

// New validates cfg and builds a Watcher.
func New(cfg Config, deps Deps) (*Watcher, error) {
	if len(cfg.Dirs) == 0 {
		return nil, errors.New("watch: no source directories")
	}
	if deps.Detector == nil || deps.Submitter == nil || deps.State == nil {
		return nil, errors.New("watch: detector, submitter and state store are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ResubscribeBase <= 0 {
		cfg.ResubscribeBase = time.Second
	}
	if cfg.ResubscribeMax < cfg.ResubscribeBase {
		cfg.ResubscribeMax = time.Minute
	}
	w := &Watcher{
		cfg:       cfg,
		detector:  deps.Detector,
		submitter: deps.Submitter,
		state:     deps.State,
		outcomes:  deps.Outcomes,
		alerts:    deps.Alerts,
		lock:      deps.Lock,
		pending:   make(map[string]struct{}),
		held:      make(map[string]model.Candidate),
		skipped:   make(map[string]time.Time),
	}
	if deps.Logger != nil {
		w.logger = *deps.Logger
	} else {
		w.logger = log.WithComponent("watch")
	}
	return w, nil
}

// Run watches until ctx is cancelled. A failing filesystem subscription is
// torn down and re-established with exponential backoff; a full rescan
// follows every re-subscription so no file is missed in between.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := w.subscribe()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer func() {
		if fsw != nil {
			_ = fsw.Close()
		}
	}()
	w.rescan(ctx)

	sample := time.NewTicker(w.cfg.PollInterval)
	defer sample.Stop()

	var rescanC <-chan time.Time
	if w.cfg.RescanInterval > 0 {
		rescan := time.NewTicker(w.cfg.RescanInterval)
		defer rescan.Stop()
		rescanC = rescan.C
	}

	var (
		events   <-chan fsnotify.Event
		errs     <-chan error
		retry    <-chan time.Time
		failures int
	)
	arm := func() {
		if fsw != nil {
			events, errs = fsw.Events, fsw.Errors
		} else {
			events, errs = nil, nil
		}
	}
	arm()

	w.logger.Info().
		Str("event", "watch.started").
		Strs("dirs", w.cfg.Dirs).
		Bool("recursive", w.cfg.Recursive).
		Dur("poll_interval", w.cfg.PollInterval).
		Msg("watching source directories")

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				fsw, retry = w.dropSubscription(fsw, errors.New("event channel closed"), &failures)
				arm()
				continue
			}
			w.handleEvent(ctx, fsw, ev)

		case err, ok := <-errs:
			if !ok {
				err = errors.New("error channel closed")
			}
			fsw, retry = w.dropSubscription(fsw, err, &failures)
			arm()

		case <-retry:
			retry = nil
			next, err := w.subscribe()
			if err != nil {
				failures++
				retry = time.After(w.backoffFor(failures))
				w.logger.Warn().
					Err(err).
					Str("event", "watch.resubscribe_failed").
					Int(log.FieldAttempt, failures).
					Msg("re-subscribing to source directories failed")
				continue
			}
			fsw, failures = next, 0
			arm()
			w.logger.Info().Str("event", "watch.resubscribed").Msg("filesystem watch restored")
			w.rescan(ctx)

		case <-rescanC:
			w.rescan(ctx)

		case <-sample.C:
			w.sampleAll(ctx)
		}
	}
}

func (w *Watcher) dropSubscription(fsw *fsnotify.Watcher, cause error, failures *int) (*fsnotify.Watcher, <-chan time.Time) {
	if fsw != nil {
		_ = fsw.Close()
	}
	*failures++
	wait := w.backoffFor(*failures)
	w.logger.Warn().
		Err(cause).
		Str("event", "watch.subscription_lost").
		Dur("retry_in", wait).
		Msg("filesystem watch failed, sampling continues")
	return nil, time.After(wait)
}

func (w *Watcher) backoffFor(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > 16 {
		failures = 16
	}
	d := w.cfg.ResubscribeBase * time.Duration(1<<(failures-1))
	if d <= 0 || d > w.cfg.ResubscribeMax {
		d = w.cfg.ResubscribeMax
	}
	return d
}

// subscribe creates a watch on every source directory, and on every
// subdirectory in recursive mode.
func (w *Watcher) subscribe() (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	for _, dir := range w.cfg.Dirs {
		if err := w.addDir(fsw, dir); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return fsw, nil
}

func (w *Watcher) addDir(fsw *fsnotify.Watcher, root string) error {
	if !w.cfg.Recursive {
		if err := fsw.Add(root); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
		return nil
	}
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			w.logger.Warn().Err(err).Str(log.FieldPath, p).Msg("cannot access path")
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.forget(path)
	case ev.Has(fsnotify.Create):
		fi, err := os.Stat(path)
		if err != nil {
			return
		}
		if fi.IsDir() {
			if w.cfg.Recursive {
				if err := w.addDir(fsw, path); err != nil {
					w.logger.Warn().Err(err).Str(log.FieldPath, path).Msg("cannot watch new directory")
				}
				// Files created before the new watch existed are caught by the walk.
				w.walk(ctx, path)
			}
			return
		}
		w.discover(ctx, path, fi)
	case ev.Has(fsnotify.Write):
		fi, err := os.Stat(path)
		if err != nil || fi.IsDir() {
			return
		}
		w.discover(ctx, path, fi)
	}
}

func (w *Watcher) forget(path string) {
	if _, ok := w.pending[path]; ok {
		w.logger.Debug().Str("event", "watch.removed").Str(log.FieldPath, path).Msg("candidate removed")
	}
	delete(w.pending, path)
	delete(w.held, path)
	delete(w.skipped, path)
	w.detector.Forget(path)
}

// rescan walks every source directory and queues files for sampling.
func (w *Watcher) rescan(ctx context.Context) {
	for _, dir := range w.cfg.Dirs {
		w.walk(ctx, dir)
	}
}

func (w *Watcher) walk(ctx context.Context, root string) {
	_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn().Err(err).Str(log.FieldPath, p).Msg("rescan cannot access path")
			return nil
		}
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if p != root && !w.cfg.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		w.discover(ctx, p, fi)
		return nil
	})
}

// discover starts sampling path unless it is unsupported, already handled
// or already in flight.
func (w *Watcher) discover(ctx context.Context, path string, fi os.FileInfo) {
	if !fi.Mode().IsRegular() || !w.detector.Supported(path) {
		return
	}
	if _, ok := w.pending[path]; ok {
		return
	}
	if c, ok := w.held[path]; ok {
		if c.Size == fi.Size() && c.ModTime.Equal(fi.ModTime()) {
			return
		}
		// Changed while held: sample it again from scratch.
		delete(w.held, path)
		w.detector.Forget(path)
	}
	if w.submitter.InFlight(path) || w.alreadyHandled(ctx, path, fi.ModTime()) {
		return
	}
	w.pending[path] = struct{}{}
}

// alreadyHandled reports whether the ledger holds an outcome for exactly this
// version of the source: a completed job whose output still exists, or a
// dead-lettered one that the operator has not touched since.
func (w *Watcher) alreadyHandled(ctx context.Context, path string, modTime time.Time) bool {
	if w.outcomes == nil {
		return false
	}
	out, ok, err := w.outcomes.Lookup(ctx, path)
	if err != nil {
		w.logger.Warn().Err(err).Str(log.FieldPath, path).Msg("outcome lookup failed")
		return false
	}
	if !ok || !out.SourceModTime.Equal(modTime) {
		return false
	}
	switch out.Result {
	case store.ResultCompleted:
		if _, err := os.Stat(out.Output); err != nil {
			return false
		}
	case store.ResultDeadLettered:
	default:
		return false
	}

	if seen, ok := w.skipped[path]; !ok || !seen.Equal(modTime) {
		w.skipped[path] = modTime
		if out.Result == store.ResultCompleted {
			w.state.IncrementCounter(state.CounterSkipped)
		}
		w.logger.Debug().
			Str("event", "watch.skipped").
			Str(log.FieldPath, path).
			Str("result", string(out.Result)).
			Str(log.FieldJobID, out.JobID).
			Msg("source unchanged since last outcome")
	}
	return true
}

// sampleAll takes one stability sample of every pending path and submits
// those that became ready.
func (w *Watcher) sampleAll(ctx context.Context) {
	paused := w.state.Paused()
	if !paused {
		w.releaseHeld(ctx)
	}

	for path := range w.pending {
		if ctx.Err() != nil {
			return
		}
		fi, err := os.Stat(path)
		if err != nil {
			w.forget(path)
			continue
		}
		obs := readiness.Observation{Path: path, Size: fi.Size(), ModTime: fi.ModTime()}
		if w.lock != nil {
			held, err := w.lock.Held(path)
			if err != nil {
				w.logger.Debug().Err(err).Str(log.FieldPath, path).Msg("lock probe failed")
			}
			obs.LockHeld = held
		}

		res := w.detector.Observe(ctx, obs)
		switch res.State {
		case model.CandidateReady:
			delete(w.pending, path)
			if w.state.Paused() {
				w.held[path] = res.Candidate
				continue
			}
			w.submit(ctx, res.Candidate)
		case model.CandidateRejected:
			delete(w.pending, path)
			if res.Settled {
				w.alertRejected(ctx, path, res.Reason)
			}
		}
	}
}

func (w *Watcher) releaseHeld(ctx context.Context) {
	for path, c := range w.held {
		delete(w.held, path)
		w.submit(ctx, c)
	}
}

func (w *Watcher) submit(ctx context.Context, c model.Candidate) {
	// The source may have completed while it was being sampled again.
	if w.alreadyHandled(ctx, c.Path, c.ModTime) {
		return
	}
	err := w.submitter.Submit(ctx, c)
	switch {
	case err == nil:
	case errors.Is(err, worker.ErrQueueFull):
		// Sampled again from scratch and resubmitted once stable.
		w.pending[c.Path] = struct{}{}
	case errors.Is(err, worker.ErrAlreadyQueued):
	default:
		w.logger.Warn().Err(err).Str(log.FieldPath, c.Path).Msg("submit failed")
	}
}

func (w *Watcher) alertRejected(ctx context.Context, path, reason string) {
	if w.alerts == nil {
		return
	}
	sev := model.SeverityWarning
	kind := model.KindDetectionRejected
	if reason == readiness.ReasonTimeout {
		sev = model.SeverityLow
		kind = model.KindDetectionTimeout
	}
	f := model.NewFault(kind, path, fmt.Errorf("rejected: %s", reason))
	if err := w.alerts.Send(ctx, alert.FromFault(sev, f, "recording rejected: "+filepath.Base(path))); err != nil {
		w.logger.Error().Err(err).Str("event", "alert.lost").Str(log.FieldPath, path).Msg("rejection alert lost")
	}
}
