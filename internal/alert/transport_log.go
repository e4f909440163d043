// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package alert

import (
	"context"

	xglog "github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/rs/zerolog"
)

// LogTransport "delivers" alerts to the service log. It is the transport for
// installations without a mail relay and never fails.
type LogTransport struct {
	Logger zerolog.Logger
}

// NewLogTransport returns a LogTransport on the alert component logger.
func NewLogTransport() *LogTransport {
	return &LogTransport{Logger: xglog.WithComponent("alert")}
}

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) Deliver(_ context.Context, a Alert) error {
	ev := t.Logger.Warn()
	if a.Severity == model.SeverityHigh || a.Severity == model.SeverityCritical {
		ev = t.Logger.Error()
	}
	ev.Str("event", "alert.notify").
		Str(xglog.FieldAlertID, a.ID).
		Str(xglog.FieldSeverity, string(a.Severity)).
		Str("kind", string(a.Kind)).
		Str(xglog.FieldPath, a.Path).
		Str(xglog.FieldJobID, a.JobID).
		Str("subject", a.Subject).
		Msg(a.Message)
	return nil
}
