// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ManuGH/recingest/internal/config"
	"github.com/ManuGH/recingest/internal/log"
	"github.com/rs/zerolog"
)

// LookPath resolves tool binaries; replaced in tests.
var LookPath = exec.LookPath

// PerformStartupChecks validates the environment before the daemon starts.
// Output and state directories are created when missing.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Str("event", "startup.checks").Msg("running pre-flight startup checks")

	for _, dir := range []struct{ name, path string }{
		{"data directory", cfg.DataDir},
		{"output directory", cfg.Transcode.OutputDir},
		{"dead-letter directory", cfg.Alerts.DeadLetterDir},
	} {
		if dir.path == "" {
			continue
		}
		if err := os.MkdirAll(dir.path, 0o750); err != nil {
			return fmt.Errorf("%s %s: %w", dir.name, dir.path, err)
		}
		if err := checkWritable(dir.path); err != nil {
			return fmt.Errorf("%s check failed: %w", dir.name, err)
		}
		logger.Info().Str(log.FieldPath, dir.path).Msgf("%s is writable", dir.name)
	}

	for _, src := range cfg.Sources.Dirs {
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("source directory %s: %w", src, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("source %s is not a directory", src)
		}
	}

	if err := checkTool(logger, "transcode", cfg.Transcode.Command); err != nil {
		return err
	}
	if cfg.Caption.Enabled {
		if err := checkTool(logger, "caption", cfg.Caption.Command); err != nil {
			return err
		}
	}
	if cfg.Readiness.MinDuration > 0 {
		if err := checkTool(logger, "probe", cfg.Transcode.ProbeCommand); err != nil {
			return err
		}
	}

	tempDir := filepath.Clean(os.TempDir())
	outDir := filepath.Clean(cfg.Transcode.OutputDir)
	if tempDir != "." && (outDir == tempDir || strings.HasPrefix(outDir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str(log.FieldOutputPath, cfg.Transcode.OutputDir).
			Msg("output directory is under temp; transcoded files may be lost on reboot")
	}

	logger.Info().Str("event", "startup.checks_passed").Msg("all startup checks passed")
	return nil
}

func checkTool(logger zerolog.Logger, step string, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("%s command is empty", step)
	}
	bin, err := LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("%s binary not found (%s): %w", step, argv[0], err)
	}
	logger.Info().Str(log.FieldStep, step).Str(log.FieldCommand, bin).Msg("tool available")
	return nil
}
