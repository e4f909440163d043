// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package state is the single serialisation point for mutable runtime state:
// counters, the active-job index, the pause flag, queue depth and the ring of
// recent errors. Watchers, workers and the control endpoint all go through it.
package state

import (
	"errors"
	"sort"
	"sync"
	"time"

	xglog "github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/metrics"
	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/rs/zerolog"
)

// Counter names.
const (
	CounterDiscovered         = "discovered"
	CounterReady              = "ready"
	CounterRejected           = "rejected"
	CounterSkipped            = "skipped_completed"
	CounterEnqueued           = "enqueued"
	CounterBackpressureReject = "backpressure_rejected"
	CounterCompleted          = "completed"
	CounterFailed             = "failed"
	CounterRetries            = "retries"
	CounterDeadLettered       = "dead_lettered"
	CounterCaptionFailures    = "caption_failures"
	CounterResourceFailures   = "resource_failures"
	CounterAlertsDelivered    = "alerts_delivered"
	CounterAlertsDeadLettered = "alerts_dead_lettered"
	CounterAlertsRedelivered  = "alerts_redelivered"
)

// DefaultErrorBuffer is the ring size used when New is given a non-positive size.
const DefaultErrorBuffer = 100

// ErrorRecord is one entry of the recent-error ring.
type ErrorRecord struct {
	Time    time.Time       `json:"time"`
	Kind    model.ErrorKind `json:"kind"`
	Path    string          `json:"path,omitempty"`
	JobID   string          `json:"job_id,omitempty"`
	Message string          `json:"message"`
}

// Snapshot is a consistent copy of the store. Readers own it.
type Snapshot struct {
	Paused     bool               `json:"paused"`
	QueueDepth int                `json:"queue_depth"`
	Active     []model.JobSummary `json:"active"`
	Counters   map[string]uint64  `json:"counters"`
	ErrorCount int                `json:"error_count"`
	StartedAt  time.Time          `json:"started_at"`
	TakenAt    time.Time          `json:"taken_at"`
}

// Store owns all mutable runtime state behind one mutex.
type Store struct {
	mu sync.Mutex

	counters   map[string]uint64
	active     map[string]model.JobSummary
	paused     bool
	resumed    chan struct{} // closed while not paused
	queueDepth int

	ring     []ErrorRecord
	ringNext int
	ringLen  int

	startedAt time.Time
	now       func() time.Time
	logger    zerolog.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store keeping the last errorBuffer errors.
func New(errorBuffer int, opts ...Option) *Store {
	if errorBuffer <= 0 {
		errorBuffer = DefaultErrorBuffer
	}
	resumed := make(chan struct{})
	close(resumed)
	s := &Store{
		counters: make(map[string]uint64),
		active:   make(map[string]model.JobSummary),
		resumed:  resumed,
		ring:     make([]ErrorRecord, errorBuffer),
		now:      time.Now,
		logger:   xglog.WithComponent("state"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()
	return s
}

// Tx is the mutation surface handed to Update. It is only valid inside the
// callback; methods on Tx never lock.
type Tx struct {
	s *Store
}

// Update runs fn with the store locked so that every mutation made through tx
// is observed atomically by other callers. fn must not call methods on the
// Store itself.
func (s *Store) Update(fn func(tx *Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Tx{s: s})
	s.publishLocked()
}

// IncrementCounter adds one to the named counter.
func (tx *Tx) IncrementCounter(name string) {
	tx.s.counters[name]++
}

// SetJobActive inserts or replaces the active entry for job.ID.
func (tx *Tx) SetJobActive(job model.JobSummary) {
	tx.s.active[job.ID] = job
}

// ClearJob removes a job from the active set. Clearing an unknown id is a
// bookkeeping inconsistency: it is logged and recorded, never propagated.
func (tx *Tx) ClearJob(jobID string) {
	if _, ok := tx.s.active[jobID]; !ok {
		fault := &model.Fault{
			Kind:  model.KindStateInconsistency,
			JobID: jobID,
			Err:   errors.New("clear of job that is not active"),
		}
		tx.s.logger.Warn().
			Str("event", "state.inconsistency").
			Str(xglog.FieldJobID, jobID).
			Msg("cleared job id that was never set active")
		tx.recordError(fault)
		return
	}
	delete(tx.s.active, jobID)
}

// SetPaused toggles the pause flag and reports whether it changed.
func (tx *Tx) SetPaused(paused bool) bool {
	s := tx.s
	if s.paused == paused {
		return false
	}
	s.paused = paused
	if paused {
		s.resumed = make(chan struct{})
	} else {
		close(s.resumed)
	}
	return true
}

// SetQueueDepth records the number of jobs waiting for a worker.
func (tx *Tx) SetQueueDepth(n int) {
	if n < 0 {
		n = 0
	}
	tx.s.queueDepth = n
}

// RecordError appends err to the recent-error ring. Nil errors are ignored.
func (tx *Tx) RecordError(err error) {
	if err == nil {
		return
	}
	tx.recordError(err)
}

func (tx *Tx) recordError(err error) {
	s := tx.s
	rec := ErrorRecord{Time: s.now(), Message: err.Error(), Kind: "Unclassified"}
	var fault *model.Fault
	if errors.As(err, &fault) {
		rec.Kind = fault.Kind
		rec.Path = fault.Path
		rec.JobID = fault.JobID
	}
	s.ring[s.ringNext] = rec
	s.ringNext = (s.ringNext + 1) % len(s.ring)
	if s.ringLen < len(s.ring) {
		s.ringLen++
	}
}

// IncrementCounter adds one to the named counter.
func (s *Store) IncrementCounter(name string) {
	s.Update(func(tx *Tx) { tx.IncrementCounter(name) })
}

// SetJobActive inserts or replaces an active job entry.
func (s *Store) SetJobActive(job model.JobSummary) {
	s.Update(func(tx *Tx) { tx.SetJobActive(job) })
}

// ClearJob removes a job from the active set.
func (s *Store) ClearJob(jobID string) {
	s.Update(func(tx *Tx) { tx.ClearJob(jobID) })
}

// SetPaused toggles the pause flag and reports whether it changed.
func (s *Store) SetPaused(paused bool) bool {
	var changed bool
	s.Update(func(tx *Tx) { changed = tx.SetPaused(paused) })
	if changed {
		s.logger.Info().
			Str("event", "state.paused_changed").
			Bool("paused", paused).
			Msg("pause flag changed")
	}
	return changed
}

// SetQueueDepth records the number of jobs waiting for a worker.
func (s *Store) SetQueueDepth(n int) {
	s.Update(func(tx *Tx) { tx.SetQueueDepth(n) })
}

// RecordError appends err to the recent-error ring.
func (s *Store) RecordError(err error) {
	s.Update(func(tx *Tx) { tx.RecordError(err) })
}

// Paused reports the pause flag.
func (s *Store) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Resumed returns a channel that is closed while the store is not paused.
// Callers re-read it after every wake-up since a later pause installs a new one.
func (s *Store) Resumed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumed
}

// Counter returns the current value of a counter.
func (s *Store) Counter(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

// Snapshot returns a consistent copy of counters, active jobs and flags.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	counters := make(map[string]uint64, len(s.counters))
	for k, v := range s.counters {
		counters[k] = v
	}
	active := make([]model.JobSummary, 0, len(s.active))
	for _, j := range s.active {
		active = append(active, j)
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].QueuedAt.Equal(active[j].QueuedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].QueuedAt.Before(active[j].QueuedAt)
	})

	return Snapshot{
		Paused:     s.paused,
		QueueDepth: s.queueDepth,
		Active:     active,
		Counters:   counters,
		ErrorCount: s.ringLen,
		StartedAt:  s.startedAt,
		TakenAt:    s.now(),
	}
}

// Errors returns the recent-error ring, oldest first.
func (s *Store) Errors() []ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ErrorRecord, 0, s.ringLen)
	start := s.ringNext - s.ringLen
	if start < 0 {
		start += len(s.ring)
	}
	for i := 0; i < s.ringLen; i++ {
		out = append(out, s.ring[(start+i)%len(s.ring)])
	}
	return out
}

func (s *Store) publishLocked() {
	metrics.ActiveJobs.Set(float64(len(s.active)))
	metrics.QueueDepth.Set(float64(s.queueDepth))
	if s.paused {
		metrics.Paused.Set(1)
	} else {
		metrics.Paused.Set(0)
	}
}
