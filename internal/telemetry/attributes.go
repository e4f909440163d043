// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys.
const (
	JobIDKey          = "job.id"
	JobSourceKey      = "job.source"
	JobAttemptKey     = "job.attempt"
	JobMaxAttemptsKey = "job.max_attempts"
	JobStateKey       = "job.state"
	JobDurationKey    = "job.duration_ms"

	ProcessStepKey     = "process.step"
	ProcessPIDKey      = "process.pid"
	ProcessExitCodeKey = "process.exit_code"
	ProcessSignalKey   = "process.signal"
	ProcessReasonKey   = "process.reason"

	FailureClassKey = "failure.class"

	AlertKindKey      = "alert.kind"
	AlertSeverityKey  = "alert.severity"
	AlertTransportKey = "alert.transport"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// JobAttributes describes one attempt of a job. Empty ids are omitted.
func JobAttributes(jobID, source string, attempt, maxAttempts int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if jobID != "" {
		attrs = append(attrs, attribute.String(JobIDKey, jobID))
	}
	if source != "" {
		attrs = append(attrs, attribute.String(JobSourceKey, source))
	}
	return append(attrs,
		attribute.Int(JobAttemptKey, attempt),
		attribute.Int(JobMaxAttemptsKey, maxAttempts),
	)
}

// OutcomeAttributes describes how a job ended.
func OutcomeAttributes(state, failureClass string, durationMS int64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(JobStateKey, state),
		attribute.Int64(JobDurationKey, durationMS),
	}
	if failureClass != "" {
		attrs = append(attrs, attribute.String(FailureClassKey, failureClass))
	}
	return attrs
}

// ProcessAttributes describes a reaped subprocess.
func ProcessAttributes(step string, pid, exitCode int, signal, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(ProcessStepKey, step),
		attribute.Int(ProcessPIDKey, pid),
		attribute.Int(ProcessExitCodeKey, exitCode),
	}
	if signal != "" {
		attrs = append(attrs, attribute.String(ProcessSignalKey, signal))
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(ProcessReasonKey, reason))
	}
	return attrs
}

// AlertAttributes describes one delivery attempt.
func AlertAttributes(kind, severity, transport string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AlertSeverityKey, severity),
		attribute.String(AlertTransportKey, transport),
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(AlertKindKey, kind))
	}
	return attrs
}

func errorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
