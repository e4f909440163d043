// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package exec

import (
	"errors"
	osexec "os/exec"
	"syscall"

	"github.com/ManuGH/recingest/internal/pipeline/model"
)

// Classifier maps an exit status to a failure class. Exit codes listed as
// permanent mean the tool rejected its input; everything else is retried.
type Classifier struct {
	permanent map[int]struct{}
}

// NewClassifier builds a Classifier from the configured permanent exit codes.
func NewClassifier(permanentExitCodes []int) Classifier {
	m := make(map[int]struct{}, len(permanentExitCodes))
	for _, c := range permanentExitCodes {
		m[c] = struct{}{}
	}
	return Classifier{permanent: m}
}

// Classify returns FailureNone for a clean exit.
func (c Classifier) Classify(st model.ExitStatus) model.FailureClass {
	switch {
	case st.Success():
		return model.FailureNone
	case st.Stalled, st.Signal != "":
		return model.FailureTransient
	}
	if _, ok := c.permanent[st.Code]; ok {
		return model.FailurePermanent
	}
	return model.FailureTransient
}

// ClassifySpawn classifies a failure to start the subprocess. Exhausted
// process or file tables are resource failures; a missing binary is permanent
// configuration breakage and anything else is transient.
func ClassifySpawn(err error) model.FailureClass {
	switch {
	case IsResourceError(err):
		return model.FailureResource
	case errors.Is(err, osexec.ErrNotFound), errors.Is(err, syscall.ENOENT), errors.Is(err, syscall.EACCES):
		return model.FailurePermanent
	default:
		return model.FailureTransient
	}
}

// IsResourceError reports process-table, memory or descriptor exhaustion.
func IsResourceError(err error) bool {
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.ENOMEM) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}
