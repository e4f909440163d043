// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package worker runs the bounded transcoding pool. Ready candidates are
// submitted into a FIFO queue; each worker owns one job at a time, drives its
// subprocesses through exec.Run, retries transient failures with backoff and
// reports the terminal outcome to the state store, the outcome ledger and the
// alert channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ManuGH/recingest/internal/alert"
	"github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/pipeline/exec"
	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/ManuGH/recingest/internal/pipeline/state"
	"github.com/ManuGH/recingest/internal/pipeline/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Backpressure policies applied by Submit when the queue is full.
const (
	BackpressureBlock  = "block"
	BackpressureReject = "reject"
)

var (
	// ErrQueueFull is returned by Submit under the reject policy.
	ErrQueueFull = errors.New("job queue full")
	// ErrAlreadyQueued is returned when the source path already has a job in flight.
	ErrAlreadyQueued = errors.New("source already queued")
	// ErrStopped is returned by Submit once the pool has shut down.
	ErrStopped = errors.New("orchestrator stopped")
)

// StepConfig is the supervision policy of one subprocess step.
type StepConfig struct {
	Command      []string
	PollInterval time.Duration
	StallTimeout time.Duration
	MaxRuntime   time.Duration
	KillGrace    time.Duration
}

// Config holds the pool settings.
type Config struct {
	Workers      int
	QueueSize    int
	Backpressure string

	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	ResourceBackoff time.Duration
	// ShutdownGrace is how long in-flight attempts may keep running after
	// Run's context is cancelled before their subprocesses are terminated.
	ShutdownGrace time.Duration

	OutputDir          string
	OutputExt          string
	Params             map[string]string
	PermanentExitCodes []int

	Transcode      StepConfig
	CaptionEnabled bool
	Caption        StepConfig
}

// Deps are the collaborators of the pool.
type Deps struct {
	Spawner  exec.Spawner
	State    *state.Store
	Outcomes store.OutcomeStore
	Alerts   alert.Sender
	Logger   *zerolog.Logger
	Now      func() time.Time
}

// Orchestrator is the worker pool.
type Orchestrator struct {
	cfg        Config
	spawner    exec.Spawner
	state      *state.Store
	outcomes   store.OutcomeStore
	alerts     alert.Sender
	classifier exec.Classifier
	logger     zerolog.Logger
	now        func() time.Time

	queue   chan *model.Job
	stopped chan struct{}
	stopMu  sync.Once

	mu       sync.Mutex
	inflight map[string]string // source path -> job id
	rnd      *rand.Rand
}

// New validates cfg and builds an Orchestrator. Run must be called to start
// the workers; Submit may be called before that and fills the queue.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("worker: pool size must be >= 1, got %d", cfg.Workers)
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("worker: max attempts must be >= 1, got %d", cfg.MaxAttempts)
	}
	if len(cfg.Transcode.Command) == 0 {
		return nil, errors.New("worker: transcode command is empty")
	}
	if cfg.CaptionEnabled && len(cfg.Caption.Command) == 0 {
		return nil, errors.New("worker: caption enabled without a command")
	}
	if deps.Spawner == nil || deps.State == nil {
		return nil, errors.New("worker: spawner and state store are required")
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	switch cfg.Backpressure {
	case "":
		cfg.Backpressure = BackpressureBlock
	case BackpressureBlock, BackpressureReject:
	default:
		return nil, fmt.Errorf("worker: unknown backpressure policy %q", cfg.Backpressure)
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}

	o := &Orchestrator{
		cfg:        cfg,
		spawner:    deps.Spawner,
		state:      deps.State,
		outcomes:   deps.Outcomes,
		alerts:     deps.Alerts,
		classifier: exec.NewClassifier(cfg.PermanentExitCodes),
		now:        deps.Now,
		queue:      make(chan *model.Job, cfg.QueueSize),
		stopped:    make(chan struct{}),
		inflight:   make(map[string]string),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
	}
	if deps.Logger != nil {
		o.logger = *deps.Logger
	} else {
		o.logger = log.WithComponent("worker")
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Submit turns a ready candidate into a Queued job. Under the block policy it
// waits for queue space until ctx is done; under the reject policy a full
// queue returns ErrQueueFull immediately.
func (o *Orchestrator) Submit(ctx context.Context, c model.Candidate) error {
	select {
	case <-o.stopped:
		return ErrStopped
	default:
	}

	job := o.newJob(c)

	o.mu.Lock()
	if id, ok := o.inflight[c.Path]; ok {
		o.mu.Unlock()
		o.logger.Debug().
			Str("event", "job.duplicate").
			Str(log.FieldPath, c.Path).
			Str(log.FieldJobID, id).
			Msg("source already in flight")
		return ErrAlreadyQueued
	}
	o.inflight[c.Path] = job.ID
	o.mu.Unlock()

	// Visible as Queued before a worker can possibly pick it up.
	o.state.SetJobActive(job.Summary())

	var err error
	if o.cfg.Backpressure == BackpressureReject {
		select {
		case o.queue <- job:
		default:
			err = ErrQueueFull
		}
	} else {
		select {
		case o.queue <- job:
		case <-ctx.Done():
			err = ctx.Err()
		case <-o.stopped:
			err = ErrStopped
		}
	}

	if err != nil {
		o.release(job)
		o.state.Update(func(tx *state.Tx) {
			tx.ClearJob(job.ID)
			if errors.Is(err, ErrQueueFull) {
				tx.IncrementCounter(state.CounterBackpressureReject)
			}
		})
		o.logger.Warn().
			Err(err).
			Str("event", "job.submit_rejected").
			Str(log.FieldPath, c.Path).
			Msg("candidate not queued")
		return err
	}

	o.state.Update(func(tx *state.Tx) {
		tx.IncrementCounter(state.CounterEnqueued)
		tx.SetQueueDepth(len(o.queue))
	})
	o.logger.Info().
		Str("event", "job.queued").
		Str(log.FieldJobID, job.ID).
		Str(log.FieldPath, job.Source).
		Str(log.FieldOutputPath, job.Output).
		Msg("job queued")
	return nil
}

// InFlight reports whether a job for path is queued or running.
func (o *Orchestrator) InFlight(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[path]
	return ok
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has returned. Cancellation stops dequeuing at once; attempts already
// running get ShutdownGrace to finish before their subprocess groups are
// terminated. Jobs still in the queue are dropped from the active set and
// will be rediscovered on the next start.
func (o *Orchestrator) Run(ctx context.Context) error {
	hardCtx, hardCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer hardCancel()

	o.logger.Info().
		Str("event", "worker.pool_started").
		Int("workers", o.cfg.Workers).
		Int("queue_size", o.cfg.QueueSize).
		Str("backpressure", o.cfg.Backpressure).
		Msg("worker pool started")

	var wg sync.WaitGroup
	for i := 1; i <= o.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			o.workerLoop(ctx, hardCtx, id)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		o.stop()
		grace := time.NewTimer(o.cfg.ShutdownGrace)
		select {
		case <-done:
			grace.Stop()
		case <-grace.C:
			o.logger.Warn().
				Str("event", "worker.shutdown_grace_expired").
				Dur("grace", o.cfg.ShutdownGrace).
				Msg("terminating in-flight subprocesses")
			hardCancel()
			<-done
		}
	}
	o.stop()
	o.drainQueue()

	o.logger.Info().Str("event", "worker.pool_stopped").Msg("worker pool stopped")
	return nil
}

func (o *Orchestrator) stop() {
	o.stopMu.Do(func() { close(o.stopped) })
}

func (o *Orchestrator) drainQueue() {
	for {
		select {
		case job := <-o.queue:
			o.abandon(job, "shutdown")
		default:
			o.state.SetQueueDepth(0)
			return
		}
	}
}

// workerLoop dequeues jobs until ctx is cancelled. The pause gate is checked
// both before and after a dequeue so that no job starts while paused.
func (o *Orchestrator) workerLoop(ctx, hardCtx context.Context, id int) {
	logger := o.logger.With().Int(log.FieldWorkerID, id).Logger()
	for {
		if !o.waitResumed(ctx) {
			return
		}
		var job *model.Job
		select {
		case <-ctx.Done():
			return
		case job = <-o.queue:
		}
		o.state.SetQueueDepth(len(o.queue))

		if !o.waitResumed(ctx) {
			o.abandon(job, "shutdown")
			return
		}
		if ctx.Err() != nil {
			o.abandon(job, "shutdown")
			return
		}

		job.WorkerID = id
		logger.Debug().
			Str("event", "job.dequeued").
			Str(log.FieldJobID, job.ID).
			Str(log.FieldPath, job.Source).
			Msg("job dequeued")
		o.process(ctx, hardCtx, job)
	}
}

// waitResumed blocks while the pipeline is paused. It reports false when ctx
// ended first.
func (o *Orchestrator) waitResumed(ctx context.Context) bool {
	select {
	case <-o.state.Resumed():
		return ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) newJob(c model.Candidate) *model.Job {
	paths := exec.JobPaths(o.cfg.OutputDir, o.cfg.OutputExt, c.Path)
	job := &model.Job{
		ID:            uuid.NewString(),
		Source:        c.Path,
		Output:        paths.Output,
		Progress:      paths.Progress,
		SourceSize:    c.Size,
		SourceModTime: c.ModTime,
		MaxAttempts:   o.cfg.MaxAttempts,
		State:         model.JobQueued,
		QueuedAt:      o.now(),
	}
	if o.cfg.CaptionEnabled {
		job.CaptionOutput = paths.Caption
	}
	return job
}

func (o *Orchestrator) release(job *model.Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[job.Source] == job.ID {
		delete(o.inflight, job.Source)
	}
}

// abandon drops a job that never reached a terminal state because the pool
// is shutting down. No outcome is recorded so the source is picked up again.
func (o *Orchestrator) abandon(job *model.Job, reason string) {
	o.release(job)
	o.state.ClearJob(job.ID)
	o.logger.Warn().
		Str("event", "job.abandoned").
		Str(log.FieldJobID, job.ID).
		Str(log.FieldPath, job.Source).
		Int(log.FieldAttempt, job.Attempt).
		Str(log.FieldReason, reason).
		Msg("job abandoned before completion")
}
