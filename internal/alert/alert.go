// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package alert delivers operator notifications. Delivery is attempted once
// synchronously; on failure the alert is persisted in a dead-letter directory
// and a background flusher retries it until the transport accepts it.
package alert

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/google/uuid"
)

// State is the delivery state of an Alert.
type State string

const (
	StatePending      State = "pending"
	StateDelivered    State = "delivered"
	StateDeadLettered State = "dead_lettered"
	StateRedelivered  State = "redelivered"
)

// ErrTransportUnavailable is returned by transports that cannot reach their peer.
var ErrTransportUnavailable = errors.New("alert transport unavailable")

// Alert is one operator notification.
type Alert struct {
	ID               string          `json:"id"`
	Severity         model.Severity  `json:"severity"`
	Kind             model.ErrorKind `json:"kind,omitempty"`
	Subject          string          `json:"subject"`
	Message          string          `json:"message"`
	Path             string          `json:"path,omitempty"`
	JobID            string          `json:"job_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	DeliveryAttempts int             `json:"delivery_attempts"`
	State            State           `json:"state"`
}

// New builds a pending Alert with a fresh id.
func New(severity model.Severity, kind model.ErrorKind, subject, message string) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Severity:  severity,
		Kind:      kind,
		Subject:   subject,
		Message:   message,
		CreatedAt: time.Now().UTC(),
		State:     StatePending,
	}
}

// FromFault builds an Alert describing a classified failure.
func FromFault(severity model.Severity, f *model.Fault, subject string) Alert {
	a := New(severity, f.Kind, subject, f.Error())
	a.Path = f.Path
	a.JobID = f.JobID
	return a
}

// Transport delivers one alert to its destination.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, a Alert) error
}

// Sender is what producers depend on.
type Sender interface {
	Send(ctx context.Context, a Alert) error
}
