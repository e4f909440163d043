// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth is the number of ready files waiting for a worker.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recingest_queue_depth",
		Help: "Number of ready files waiting for a worker",
	})

	// ActiveJobs is the number of jobs between Queued and terminal.
	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recingest_active_jobs",
		Help: "Number of jobs currently owned by the pipeline",
	})

	// Paused reports 1 while dequeuing is paused.
	Paused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recingest_paused",
		Help: "1 when the pipeline is paused by an operator",
	})

	jobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recingest_job_outcomes_total",
		Help: "Terminal job outcomes",
	}, []string{"result"})

	jobAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recingest_job_attempts_total",
		Help: "Subprocess attempts by step and result",
	}, []string{"step", "result"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recingest_job_duration_seconds",
		Help:    "Wall-clock duration of a job from first dequeue to terminal state",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
	}, []string{"result"})

	subprocessSpawn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recingest_subprocess_spawn_total",
		Help: "Subprocess spawn attempts",
	}, []string{"step", "result"})

	subprocessReap = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recingest_subprocess_reap_total",
		Help: "Subprocesses waited on, by exit reason",
	}, []string{"step", "reason"})

	detectorVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recingest_detector_verdicts_total",
		Help: "Readiness verdicts that settled a candidate",
	}, []string{"verdict", "reason"})

	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recingest_alerts_total",
		Help: "Alert state transitions",
	}, []string{"severity", "state"})

	// DeadLetterBacklog is the number of alerts waiting for re-delivery.
	DeadLetterBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recingest_dead_letter_backlog",
		Help: "Alerts persisted in the dead-letter store awaiting delivery",
	})

	controlCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recingest_control_commands_total",
		Help: "Control endpoint commands by result",
	}, []string{"command", "result"})

	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recingest_proc_terminate_total",
		Help: "Signals sent to subprocess groups",
	}, []string{"signal", "result"})

	// DiskFreeBytes is the last observed free space of the output volume.
	DiskFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recingest_output_disk_free_bytes",
		Help: "Free bytes on the output volume",
	})
)

// RecordJobOutcome counts a terminal job outcome and its duration.
func RecordJobOutcome(result string, seconds float64) {
	jobOutcomes.WithLabelValues(result).Inc()
	if seconds >= 0 {
		jobDuration.WithLabelValues(result).Observe(seconds)
	}
}

// RecordAttempt counts one subprocess attempt.
func RecordAttempt(step, result string) {
	jobAttempts.WithLabelValues(step, result).Inc()
}

// IncSpawn counts a subprocess spawn.
func IncSpawn(step, result string) {
	subprocessSpawn.WithLabelValues(step, result).Inc()
}

// IncReap counts a subprocess reap.
func IncReap(step, reason string) {
	subprocessReap.WithLabelValues(step, reason).Inc()
}

// RecordVerdict counts a settled readiness verdict.
func RecordVerdict(verdict, reason string) {
	detectorVerdicts.WithLabelValues(verdict, reason).Inc()
}

// RecordAlert counts an alert state transition.
func RecordAlert(severity, state string) {
	alertsTotal.WithLabelValues(severity, state).Inc()
}

// RecordControlCommand counts a control endpoint command.
func RecordControlCommand(command, result string) {
	controlCommands.WithLabelValues(command, result).Inc()
}

// IncProcTerminate counts a termination signal sent to a process group.
func IncProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(signal, result).Inc()
}
