// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/recingest/internal/validate"
)

// Validate checks every section and returns all problems at once.
// The output directory is created when missing; source directories must exist.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.OneOf("logLevel", strings.ToLower(cfg.LogLevel), validate.LogLevels)
	v.Positive("errorBuffer", cfg.ErrorBuffer)

	if len(cfg.Sources.Dirs) == 0 {
		v.AddError("sources.dirs", "at least one source directory is required", cfg.Sources.Dirs)
	}
	for i, dir := range cfg.Sources.Dirs {
		v.Directory(fmt.Sprintf("sources.dirs[%d]", i), dir, true)
	}
	if len(cfg.Sources.Extensions) == 0 {
		v.AddError("sources.extensions", "at least one extension is required", cfg.Sources.Extensions)
	}
	for i, ext := range cfg.Sources.Extensions {
		if !strings.HasPrefix(ext, ".") {
			v.AddError(fmt.Sprintf("sources.extensions[%d]", i), "extension must start with '.'", ext)
		}
	}

	validateReadiness(v, cfg.Readiness)
	validateTranscode(v, cfg.Transcode)

	if cfg.Caption.Enabled {
		v.Command("caption.command", cfg.Caption.Command)
		v.MinDuration("caption.stallTimeout", cfg.Caption.StallTimeout, time.Second)
	}

	v.Range("jobs.workers", cfg.Jobs.Workers, 1, 64)
	v.Positive("jobs.queueSize", cfg.Jobs.QueueSize)
	v.OneOf("jobs.backpressure", cfg.Jobs.Backpressure, []string{"block", "reject"})
	v.Positive("jobs.maxAttempts", cfg.Jobs.MaxAttempts)
	v.MinDuration("jobs.backoffBase", cfg.Jobs.BackoffBase, 0)
	if cfg.Jobs.BackoffMax < cfg.Jobs.BackoffBase {
		v.AddError("jobs.backoffMax", "must not be less than jobs.backoffBase", cfg.Jobs.BackoffMax)
	}

	v.OneOf("alerts.transport", cfg.Alerts.Transport, []string{"smtp", "log"})
	v.NotEmpty("alerts.deadLetterDir", cfg.Alerts.DeadLetterDir)
	v.MinDuration("alerts.flushInterval", cfg.Alerts.FlushInterval, time.Second)
	v.PositiveFloat("alerts.flushRate", cfg.Alerts.FlushRate)
	v.Positive("alerts.flushBurst", cfg.Alerts.FlushBurst)
	v.Positive("alerts.breakerThreshold", cfg.Alerts.BreakerThreshold)
	v.MinDuration("alerts.breakerReset", cfg.Alerts.BreakerReset, time.Second)
	if cfg.Alerts.Transport == "smtp" {
		v.NotEmpty("smtp.host", cfg.SMTP.Host)
		v.Port("smtp.port", cfg.SMTP.Port)
		v.NotEmpty("smtp.from", cfg.SMTP.From)
		if len(cfg.SMTP.To) == 0 {
			v.AddError("smtp.to", "at least one recipient is required", cfg.SMTP.To)
		}
	}

	v.HostPort("control.addr", cfg.Control.Addr)
	if cfg.Admin.Listen != "" {
		v.HostPort("admin.listen", cfg.Admin.Listen)
		v.NonNegative("admin.rateLimit", cfg.Admin.RateLimit)
	}
	v.NotEmpty("store.path", cfg.Store.Path)

	if cfg.Disk.MinFreeBytes < 0 {
		v.AddError("disk.minFreeBytes", "cannot be negative", cfg.Disk.MinFreeBytes)
	}
	if cfg.Disk.MinFreeBytes > 0 {
		v.MinDuration("disk.interval", cfg.Disk.Interval, time.Second)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporterType", cfg.Telemetry.ExporterType, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.Fraction("telemetry.samplingRate", cfg.Telemetry.SamplingRate)
	}

	return v.Err()
}

func validateReadiness(v *validate.Validator, r ReadinessConfig) {
	v.MinDuration("readiness.pollInterval", r.PollInterval, 100*time.Millisecond)
	v.Positive("readiness.stableSamples", r.StableSamples)
	v.MinDuration("readiness.gracePeriod", r.GracePeriod, 0)
	v.MinDuration("readiness.timeout", r.Timeout, r.PollInterval)
	v.MinDuration("readiness.minDuration", r.MinDuration, 0)
	if r.MinDuration > 0 {
		v.Positive("readiness.probeAttempts", r.ProbeAttempts)
		v.MinDuration("readiness.probeTimeout", r.ProbeTimeout, time.Second)
	}
}

func validateTranscode(v *validate.Validator, t TranscodeConfig) {
	v.Command("transcode.command", t.Command)
	if !containsPlaceholder(t.Command, "{input}") {
		v.AddError("transcode.command", "must reference {input}", t.Command)
	}
	if !containsPlaceholder(t.Command, "{output}") {
		v.AddError("transcode.command", "must reference {output}", t.Command)
	}
	v.Directory("transcode.outputDir", t.OutputDir, false)
	if !strings.HasPrefix(t.OutputExt, ".") {
		v.AddError("transcode.outputExt", "extension must start with '.'", t.OutputExt)
	}
	for i, code := range t.PermanentExitCodes {
		if code <= 0 || code > 255 {
			v.AddError(fmt.Sprintf("transcode.permanentExitCodes[%d]", i), "exit code must be between 1 and 255", code)
		}
	}
	v.MinDuration("transcode.progressPollInterval", t.ProgressPollInterval, 100*time.Millisecond)
	v.MinDuration("transcode.stallTimeout", t.StallTimeout, t.ProgressPollInterval)
	v.MinDuration("transcode.maxRuntime", t.MaxRuntime, 0)
	v.MinDuration("transcode.killGrace", t.KillGrace, 0)
}

func containsPlaceholder(argv []string, placeholder string) bool {
	for _, arg := range argv {
		if strings.Contains(arg, placeholder) {
			return true
		}
	}
	return false
}
