// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"fmt"
	"time"
)

// CandidateState is the readiness lifecycle of a discovered path.
type CandidateState string

const (
	CandidateDiscovered  CandidateState = "DISCOVERED"
	CandidateStabilizing CandidateState = "STABILIZING"
	CandidateReady       CandidateState = "READY"
	CandidateRejected    CandidateState = "REJECTED"
)

// JobState is the lifecycle of one file through transcoding.
type JobState string

const (
	JobQueued           JobState = "QUEUED"
	JobRunningTranscode JobState = "RUNNING_TRANSCODE"
	JobRunningCaption   JobState = "RUNNING_CAPTION"
	JobCompleted        JobState = "COMPLETED"
	JobFailedTransient  JobState = "FAILED_TRANSIENT"
	JobFailedPermanent  JobState = "FAILED_PERMANENT"
	JobDeadLettered     JobState = "DEAD_LETTERED"
)

// IsTerminal returns true if the state is a final state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobCompleted, JobDeadLettered:
		return true
	}
	return false
}

// FailureClass decides whether a failed attempt may be retried.
type FailureClass string

const (
	FailureNone      FailureClass = ""
	FailureTransient FailureClass = "transient"
	FailurePermanent FailureClass = "permanent"
	// FailureResource means no subprocess could be spawned at all.
	FailureResource FailureClass = "resource"
)

// ErrorKind is the stable failure taxonomy surfaced over the control endpoint.
type ErrorKind string

const (
	KindDetectionTimeout   ErrorKind = "DetectionTimeout"
	KindDetectionRejected  ErrorKind = "DetectionRejected"
	KindTransientProcess   ErrorKind = "TransientProcessFailure"
	KindPermanentProcess   ErrorKind = "PermanentProcessFailure"
	KindCaption            ErrorKind = "CaptionFailure"
	KindAlertDelivery      ErrorKind = "AlertDeliveryFailure"
	KindStateInconsistency ErrorKind = "StateInconsistency"
	KindControlProtocol    ErrorKind = "ControlProtocolError"
	KindResource           ErrorKind = "ResourceExhausted"
	KindDiskSpace          ErrorKind = "DiskSpaceLow"
)

// Fault is a classified error tied to a path or job.
type Fault struct {
	Kind  ErrorKind
	Path  string
	JobID string
	Err   error
}

func (f *Fault) Error() string {
	subject := f.Path
	if subject == "" {
		subject = f.JobID
	}
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Kind, subject)
	}
	if subject == "" {
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("%s: %s: %v", f.Kind, subject, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault builds a Fault for a path.
func NewFault(kind ErrorKind, path string, err error) *Fault {
	return &Fault{Kind: kind, Path: path, Err: err}
}

// Severity orders alerts for operators.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ExitStatus describes how a subprocess ended.
type ExitStatus struct {
	Code      int
	Signal    string
	Stalled   bool
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time
}

// Success reports a clean zero exit.
func (s ExitStatus) Success() bool {
	return s.Code == 0 && s.Signal == "" && !s.Stalled
}
