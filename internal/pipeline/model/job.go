// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "time"

// Candidate is a path that the readiness detector declared complete.
type Candidate struct {
	Path    string
	Size    int64
	ModTime time.Time
	// Duration is the probed media length; zero when probing is disabled.
	Duration time.Duration
}

// Job is one file's passage through transcoding and optional caption extraction.
type Job struct {
	ID            string
	Source        string
	Output        string
	CaptionOutput string
	Progress      string

	SourceSize    int64
	SourceModTime time.Time

	WorkerID    int
	Attempt     int
	MaxAttempts int
	State       JobState

	QueuedAt   time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Summary returns the read-only view of the job exposed through snapshots.
func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:        j.ID,
		Source:    j.Source,
		Output:    j.Output,
		WorkerID:  j.WorkerID,
		Attempt:   j.Attempt,
		State:     j.State,
		QueuedAt:  j.QueuedAt,
		StartedAt: j.StartedAt,
	}
}

// JobSummary is the active-set entry kept by the state store.
type JobSummary struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Output    string    `json:"output"`
	WorkerID  int       `json:"worker_id"`
	Attempt   int       `json:"attempt"`
	State     JobState  `json:"state"`
	QueuedAt  time.Time `json:"queued_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
}
