// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package alert

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// AuditLog is the append-only JSON-lines trail of every alert state change,
// independent of whether any transport works.
type AuditLog struct {
	mu     sync.Mutex
	closer io.Closer
	logger zerolog.Logger
}

// OpenAuditLog appends to path, creating it if needed.
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("audit log dir: %w", err)
	}
	// #nosec G304 -- path is operator configuration
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return NewAuditLog(f, f), nil
}

// NewAuditLog writes to w. closer may be nil.
func NewAuditLog(w io.Writer, closer io.Closer) *AuditLog {
	return &AuditLog{
		closer: closer,
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// Record appends one line for a in the given state.
func (l *AuditLog) Record(a Alert, state State, cause error) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ev := l.logger.Log().
		Str("alert_id", a.ID).
		Str("state", string(state)).
		Str("severity", string(a.Severity)).
		Str("kind", string(a.Kind)).
		Str("subject", a.Subject).
		Str("message", a.Message).
		Time("created_at", a.CreatedAt).
		Int("delivery_attempts", a.DeliveryAttempts)
	if a.Path != "" {
		ev = ev.Str("path", a.Path)
	}
	if a.JobID != "" {
		ev = ev.Str("job_id", a.JobID)
	}
	if cause != nil {
		ev = ev.Str("error", cause.Error())
	}
	ev.Send()
}

// Close closes the underlying file.
func (l *AuditLog) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
