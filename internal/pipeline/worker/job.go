// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/recingest/internal/alert"
	"github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/metrics"
	"github.com/ManuGH/recingest/internal/pipeline/exec"
	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/ManuGH/recingest/internal/pipeline/state"
	"github.com/ManuGH/recingest/internal/pipeline/store"
	"github.com/ManuGH/recingest/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	stepTranscode = "transcode"
	stepCaption   = "caption"

	captionOK      = "ok"
	captionFailed  = "failed"
	captionSkipped = "skipped"
)

var tracer = telemetry.Tracer("recingest/worker")

// attemptResult is what one transcode attempt produced.
type attemptResult struct {
	class  model.FailureClass
	status model.ExitStatus
	err    error
}

func (r attemptResult) describe() string {
	switch {
	case r.err != nil:
		return r.err.Error()
	case r.status.Stalled, r.status.Reason == exec.ReasonShutdown:
		return r.status.Reason
	case r.status.Signal != "":
		return "signal " + r.status.Signal
	default:
		return fmt.Sprintf("exit code %d", r.status.Code)
	}
}

// process drives one job to a terminal state, or abandons it on shutdown.
// ctx gates retries; hardCtx bounds the running subprocess.
func (o *Orchestrator) process(ctx, hardCtx context.Context, job *model.Job) {
	jobCtx := log.ContextWithJobID(hardCtx, job.ID)
	jobCtx, span := tracer.Start(jobCtx, "job.process",
		trace.WithAttributes(telemetry.JobAttributes(job.ID, job.Source, 0, job.MaxAttempts)...))
	defer span.End()

	logger := log.WithContext(jobCtx, o.logger).With().
		Int(log.FieldWorkerID, job.WorkerID).
		Str(log.FieldPath, job.Source).
		Logger()

	job.StartedAt = o.now()
	var last attemptResult
	for attempt := 1; attempt <= job.MaxAttempts; attempt++ {
		job.Attempt = attempt
		last = o.runTranscode(jobCtx, job)

		if last.class == model.FailureNone {
			captionResult := o.runCaption(jobCtx, job)
			o.complete(jobCtx, job, captionResult)
			span.SetAttributes(telemetry.OutcomeAttributes(string(model.JobCompleted), "", job.FinishedAt.Sub(job.StartedAt).Milliseconds())...)
			return
		}

		if hardCtx.Err() != nil {
			o.abandon(job, "shutdown")
			return
		}

		logger.Warn().
			Str("event", "job.attempt_failed").
			Int(log.FieldAttempt, attempt).
			Int("max_attempts", job.MaxAttempts).
			Str("failure_class", string(last.class)).
			Int(log.FieldExitCode, last.status.Code).
			Str("signal", last.status.Signal).
			Str(log.FieldReason, last.describe()).
			Msg("transcode attempt failed")

		if last.class == model.FailurePermanent || attempt == job.MaxAttempts {
			break
		}

		var wait time.Duration
		if last.class == model.FailureResource {
			wait = o.onResourceFailure(jobCtx, job, last)
		} else {
			wait = o.backoffFor(attempt - 1)
		}
		o.state.Update(func(tx *state.Tx) {
			tx.IncrementCounter(state.CounterRetries)
			job.State = model.JobFailedTransient
			tx.SetJobActive(job.Summary())
		})
		logger.Debug().
			Str("event", "job.retry_scheduled").
			Int(log.FieldAttempt, attempt+1).
			Dur("backoff", wait).
			Msg("retrying after backoff")
		if err := sleepWithContext(ctx, wait); err != nil {
			o.abandon(job, "shutdown")
			return
		}
	}

	o.deadLetter(jobCtx, job, last)
	span.SetAttributes(telemetry.OutcomeAttributes(string(model.JobDeadLettered), string(last.class), job.FinishedAt.Sub(job.StartedAt).Milliseconds())...)
}

// runTranscode performs one attempt. The subprocess is reaped before it returns.
func (o *Orchestrator) runTranscode(ctx context.Context, job *model.Job) attemptResult {
	ctx, span := tracer.Start(ctx, "job.attempt",
		trace.WithAttributes(telemetry.JobAttributes(job.ID, job.Source, job.Attempt, job.MaxAttempts)...))
	defer span.End()

	job.State = model.JobRunningTranscode
	o.state.SetJobActive(job.Summary())

	vars := map[string]string{
		exec.VarInput:    job.Source,
		exec.VarOutput:   job.Output,
		exec.VarProgress: job.Progress,
		exec.VarBasename: exec.JobPaths(o.cfg.OutputDir, o.cfg.OutputExt, job.Source).Basename,
	}
	argv, err := exec.Expand(o.cfg.Transcode.Command, vars, o.cfg.Params)
	if err != nil {
		res := attemptResult{class: model.FailurePermanent, status: model.ExitStatus{Code: -1}, err: err}
		telemetry.RecordError(span, err, string(res.class))
		return res
	}

	st, err := exec.Run(ctx, o.spawner, o.runSpec(stepTranscode, argv, job.Progress, o.cfg.Transcode))
	res := attemptResult{status: st, err: err}
	switch {
	case err != nil:
		var spawnErr *exec.SpawnError
		if errors.As(err, &spawnErr) {
			res.class = exec.ClassifySpawn(err)
		} else {
			res.class = model.FailureTransient
		}
	default:
		res.class = o.classifier.Classify(st)
	}

	metrics.RecordAttempt(stepTranscode, attemptLabel(res.class))
	span.SetAttributes(telemetry.ProcessAttributes(stepTranscode, 0, st.Code, st.Signal, st.Reason)...)
	if res.class != model.FailureNone {
		cause := res.err
		if cause == nil {
			cause = errors.New(res.describe())
		}
		telemetry.RecordError(span, cause, string(res.class))
	}
	return res
}

// runCaption is best effort: a failure is recorded and alerted but never
// fails the job.
func (o *Orchestrator) runCaption(ctx context.Context, job *model.Job) string {
	if !o.cfg.CaptionEnabled {
		return captionSkipped
	}
	ctx, span := tracer.Start(ctx, "job.caption",
		trace.WithAttributes(attribute.String(telemetry.JobIDKey, job.ID)))
	defer span.End()

	job.State = model.JobRunningCaption
	o.state.SetJobActive(job.Summary())

	paths := exec.JobPaths(o.cfg.OutputDir, o.cfg.OutputExt, job.Source)
	defer removeMarker(paths.CaptionProgress)

	vars := map[string]string{
		exec.VarInput:    job.Source,
		exec.VarOutput:   paths.Caption,
		exec.VarProgress: paths.CaptionProgress,
		exec.VarBasename: paths.Basename,
	}
	var cause error
	argv, err := exec.Expand(o.cfg.Caption.Command, vars, o.cfg.Params)
	if err != nil {
		cause = err
	} else {
		st, err := exec.Run(ctx, o.spawner, o.runSpec(stepCaption, argv, paths.CaptionProgress, o.cfg.Caption))
		switch {
		case err != nil:
			cause = err
		case !st.Success():
			cause = errors.New(attemptResult{status: st}.describe())
		}
	}

	if cause == nil {
		metrics.RecordAttempt(stepCaption, "ok")
		return captionOK
	}

	metrics.RecordAttempt(stepCaption, "failed")
	telemetry.RecordError(span, cause, string(model.KindCaption))
	fault := &model.Fault{Kind: model.KindCaption, Path: job.Source, JobID: job.ID, Err: cause}
	o.state.Update(func(tx *state.Tx) {
		tx.IncrementCounter(state.CounterCaptionFailures)
		tx.RecordError(fault)
	})
	logger := log.WithContext(ctx, o.logger)
	logger.Warn().
		Err(cause).
		Str("event", "job.caption_failed").
		Str(log.FieldPath, job.Source).
		Msg("caption extraction failed, keeping transcoded output")
	o.sendAlert(ctx, alert.FromFault(model.SeverityWarning, fault, "caption extraction failed"))
	return captionFailed
}

func (o *Orchestrator) runSpec(step string, argv []string, progress string, sc StepConfig) exec.RunSpec {
	return exec.RunSpec{
		Spec:         exec.Spec{Step: step, Argv: argv, Dir: o.cfg.OutputDir},
		ProgressPath: progress,
		PollInterval: sc.PollInterval,
		StallTimeout: sc.StallTimeout,
		MaxRuntime:   sc.MaxRuntime,
		KillGrace:    sc.KillGrace,
	}
}

// onResourceFailure escalates a spawn failure caused by exhausted system
// resources and returns how long the worker pauses before its next attempt.
func (o *Orchestrator) onResourceFailure(ctx context.Context, job *model.Job, res attemptResult) time.Duration {
	fault := &model.Fault{Kind: model.KindResource, Path: job.Source, JobID: job.ID, Err: res.err}
	o.state.Update(func(tx *state.Tx) {
		tx.IncrementCounter(state.CounterResourceFailures)
		tx.RecordError(fault)
	})
	logger := log.WithContext(ctx, o.logger)
	logger.Error().
		Err(res.err).
		Str("event", "worker.resource_exhausted").
		Int(log.FieldWorkerID, job.WorkerID).
		Dur("pause", o.cfg.ResourceBackoff).
		Msg("cannot spawn subprocess, pausing worker")
	o.sendAlert(ctx, alert.FromFault(model.SeverityHigh, fault, "subprocess spawn failed: resources exhausted"))
	return o.cfg.ResourceBackoff
}

// complete records a successful job. The transcode progress marker stays in
// the output directory as the completion signal for external tooling.
func (o *Orchestrator) complete(ctx context.Context, job *model.Job, captionResult string) {
	job.State = model.JobCompleted
	job.FinishedAt = o.now()
	o.state.Update(func(tx *state.Tx) {
		tx.ClearJob(job.ID)
		tx.IncrementCounter(state.CounterCompleted)
	})
	o.release(job)

	o.recordOutcome(ctx, job, store.ResultCompleted, "", captionResult)
	metrics.RecordJobOutcome(string(store.ResultCompleted), job.FinishedAt.Sub(job.StartedAt).Seconds())

	logger := log.WithContext(ctx, o.logger)
	logger.Info().
		Str("event", "job.completed").
		Str(log.FieldPath, job.Source).
		Str(log.FieldOutputPath, job.Output).
		Int(log.FieldAttempt, job.Attempt).
		Str("caption", captionResult).
		Dur("duration", job.FinishedAt.Sub(job.StartedAt)).
		Msg("job completed")
}

// deadLetter moves a job to its terminal failed state: the active entry is
// cleared together with the failure counters, the outcome is persisted and a
// high-severity alert is raised.
func (o *Orchestrator) deadLetter(ctx context.Context, job *model.Job, last attemptResult) {
	kind := model.KindTransientProcess
	if last.class == model.FailurePermanent {
		kind = model.KindPermanentProcess
	}
	reason := fmt.Sprintf("%s after %d attempt(s): %s", last.class, job.Attempt, last.describe())
	fault := &model.Fault{Kind: kind, Path: job.Source, JobID: job.ID, Err: errors.New(reason)}

	job.State = model.JobDeadLettered
	job.FinishedAt = o.now()
	o.state.Update(func(tx *state.Tx) {
		tx.ClearJob(job.ID)
		tx.IncrementCounter(state.CounterFailed)
		tx.IncrementCounter(state.CounterDeadLettered)
		tx.RecordError(fault)
	})
	o.release(job)

	o.recordOutcome(ctx, job, store.ResultDeadLettered, reason, captionSkipped)
	metrics.RecordJobOutcome(string(store.ResultDeadLettered), job.FinishedAt.Sub(job.StartedAt).Seconds())

	logger := log.WithContext(ctx, o.logger)
	logger.Error().
		Str("event", "job.dead_lettered").
		Str(log.FieldPath, job.Source).
		Int(log.FieldAttempt, job.Attempt).
		Str("failure_class", string(last.class)).
		Str(log.FieldReason, reason).
		Msg("job failed permanently")

	a := alert.FromFault(model.SeverityHigh, fault, "transcode failed: "+filepath.Base(job.Source))
	o.sendAlert(ctx, a)
}

func (o *Orchestrator) recordOutcome(ctx context.Context, job *model.Job, result store.Result, reason, captionResult string) {
	if o.outcomes == nil {
		return
	}
	out := store.Outcome{
		JobID:         job.ID,
		Source:        job.Source,
		Output:        job.Output,
		SourceSize:    job.SourceSize,
		SourceModTime: job.SourceModTime,
		Result:        result,
		Attempts:      job.Attempt,
		Reason:        reason,
		CaptionResult: captionResult,
		StartedAt:     job.StartedAt,
		FinishedAt:    job.FinishedAt,
	}
	if err := o.outcomes.Record(context.WithoutCancel(ctx), out); err != nil {
		logger := log.WithContext(ctx, o.logger)
		logger.Error().
			Err(err).
			Str("event", "job.outcome_persist_failed").
			Str(log.FieldPath, job.Source).
			Msg("failed to persist job outcome")
	}
}

// sendAlert never blocks on shutdown; the channel dead-letters on failure.
func (o *Orchestrator) sendAlert(ctx context.Context, a alert.Alert) {
	if o.alerts == nil {
		return
	}
	if err := o.alerts.Send(context.WithoutCancel(ctx), a); err != nil {
		logger := log.WithContext(ctx, o.logger)
		logger.Error().
			Err(err).
			Str("event", "alert.lost").
			Str(log.FieldAlertID, a.ID).
			Msg("alert could not be delivered or persisted")
	}
}

func attemptLabel(c model.FailureClass) string {
	if c == model.FailureNone {
		return "ok"
	}
	return string(c)
}

func removeMarker(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.L().Debug().Err(err).Str(log.FieldProgress, path).Msg("could not remove progress marker")
	}
}
