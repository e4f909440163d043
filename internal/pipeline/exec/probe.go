// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package exec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	osexec "os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/recingest/internal/procgroup"
)

// ErrNoDuration is returned when the probe printed nothing parseable.
var ErrNoDuration = errors.New("probe returned no duration")

// CommandProber runs the external tool in inspect-only mode. The command must
// print the duration in seconds as the first non-empty line of stdout.
type CommandProber struct {
	Argv    []string
	Timeout time.Duration
}

// ProbeDuration implements readiness.DurationProber.
func (p CommandProber) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	argv, err := Expand(p.Argv, map[string]string{VarInput: path}, nil)
	if err != nil {
		return 0, err
	}
	if len(argv) == 0 {
		return 0, errors.New("probe command is empty")
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := osexec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec G204 -- argv comes from operator configuration
	procgroup.Set(cmd)
	cmd.Cancel = func() error { return procgroup.Kill(cmd, syscall.SIGKILL) }
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return 0, fmt.Errorf("probe %s: %w (%s)", path, err, msg)
	}
	return parseSeconds(out)
}

// maxSeconds is the longest duration a time.Duration can hold.
var maxSeconds = float64(math.MaxInt64) / float64(time.Second)

func parseSeconds(out []byte) (time.Duration, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		secs, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", line, err)
		}
		if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 || secs > maxSeconds {
			return 0, fmt.Errorf("duration %q out of range", line)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, ErrNoDuration
}
