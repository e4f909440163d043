// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldJobID         = "job_id"
	FieldAlertID       = "alert_id"
	FieldCorrelationID = "correlation_id"
	FieldWorkerID      = "worker_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"
	FieldExitCode  = "exit_code"
	FieldPID       = "pid"
	FieldStep      = "step"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"
	FieldSeverity = "severity"

	// Path fields
	FieldPath       = "path"
	FieldOutputPath = "output_path"
	FieldProgress   = "progress_path"

	// Network fields
	FieldAddr    = "addr"
	FieldCommand = "command"
)
