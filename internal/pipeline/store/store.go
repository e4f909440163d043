// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists terminal job outcomes. The ledger is what makes
// re-submission of an already completed recording a no-op and what keeps
// dead-lettered jobs visible after a restart.
package store

import (
	"context"
	"errors"
	"time"
)

// Result is the terminal outcome of a job.
type Result string

const (
	ResultCompleted    Result = "completed"
	ResultDeadLettered Result = "dead_lettered"
)

// ErrInvalidOutcome is returned for outcomes missing mandatory fields.
var ErrInvalidOutcome = errors.New("invalid outcome")

// Outcome is one terminal job record.
type Outcome struct {
	JobID         string    `json:"job_id"`
	Source        string    `json:"source"`
	Output        string    `json:"output"`
	SourceSize    int64     `json:"source_size"`
	SourceModTime time.Time `json:"source_mtime"`
	Result        Result    `json:"result"`
	Attempts      int       `json:"attempts"`
	Reason        string    `json:"reason,omitempty"`
	CaptionResult string    `json:"caption_result,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// OutcomeStore records and queries job outcomes.
type OutcomeStore interface {
	Record(ctx context.Context, o Outcome) error
	// Lookup returns the most recent outcome for a source path.
	Lookup(ctx context.Context, source string) (Outcome, bool, error)
	// Recent returns up to limit outcomes, newest first.
	Recent(ctx context.Context, limit int) ([]Outcome, error)
	Close() error
}

func validate(o Outcome) error {
	if o.JobID == "" || o.Source == "" || o.Result == "" {
		return ErrInvalidOutcome
	}
	return nil
}
