// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package readiness

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FlockProber reports whether another process holds an exclusive flock on a file.
type FlockProber struct{}

// Held tries a non-blocking exclusive lock and releases it immediately.
func (FlockProber) Held(path string) (bool, error) {
	// #nosec G304 -- paths come from the configured source directories
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open for lock probe: %w", err)
	}
	defer func() { _ = f.Close() }()

	fd := int(f.Fd()) // #nosec G115 -- fd fits in int on all supported platforms
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return true, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}
	_ = unix.Flock(fd, unix.LOCK_UN)
	return false, nil
}
