// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns external tools in their own process group so a
// stall-kill or shutdown takes the whole tree down with the leader.
package procgroup

import "errors"

// ErrKillFailed is returned when a group survived SIGKILL.
var ErrKillFailed = errors.New("kill operation failed")
