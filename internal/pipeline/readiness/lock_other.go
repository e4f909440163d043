// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix

package readiness

// FlockProber is a no-op where flock(2) is unavailable.
type FlockProber struct{}

// Held always reports false.
func (FlockProber) Held(string) (bool, error) { return false, nil }
