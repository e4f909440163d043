// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// DefaultControlAddr is the well-known local control endpoint.
const DefaultControlAddr = "127.0.0.1:48200"

// Defaults returns the configuration used when neither file nor ENV set a value.
// Stability and grace values match the documented reference scenario; the
// exit-code mapping is left empty so every non-zero exit is retried until an
// operator lists the tool's permanent codes.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:     "/var/lib/recingest",
		LogLevel:    "info",
		LogService:  "recingest",
		ErrorBuffer: 100,
		Sources: SourcesConfig{
			Extensions:     []string{".ts", ".mkv", ".mp4", ".mov"},
			Recursive:      true,
			RescanInterval: 5 * time.Minute,
		},
		Readiness: ReadinessConfig{
			PollInterval:  2 * time.Second,
			StableSamples: 3,
			GracePeriod:   5 * time.Second,
			Timeout:       6 * time.Hour,
			LockProbe:     true,
			ProbeAttempts: 3,
			ProbeTimeout:  30 * time.Second,
		},
		Transcode: TranscodeConfig{
			Command: []string{
				"ffmpeg", "-hide_banner", "-nostdin", "-y",
				"-progress", "{progress}",
				"-i", "{input}",
				"-c:v", "libx264", "-preset", "{preset}", "-crf", "{crf}",
				"-c:a", "aac",
				"{output}",
			},
			ProbeCommand: []string{
				"ffprobe", "-v", "error",
				"-show_entries", "format=duration",
				"-of", "default=noprint_wrappers=1:nokey=1",
				"{input}",
			},
			Params:               map[string]string{"preset": "veryfast", "crf": "23"},
			OutputExt:            ".mp4",
			ProgressPollInterval: 5 * time.Second,
			StallTimeout:         5 * time.Minute,
			MaxRuntime:           12 * time.Hour,
			KillGrace:            10 * time.Second,
		},
		Caption: CaptionConfig{
			StallTimeout: 5 * time.Minute,
			MaxRuntime:   2 * time.Hour,
		},
		Jobs: JobsConfig{
			Workers:         2,
			QueueSize:       64,
			Backpressure:    "block",
			MaxAttempts:     3,
			BackoffBase:     30 * time.Second,
			BackoffMax:      15 * time.Minute,
			ResourceBackoff: time.Minute,
			ShutdownGrace:   30 * time.Second,
		},
		Alerts: AlertsConfig{
			Transport:        "log",
			FlushInterval:    time.Minute,
			FlushRate:        1,
			FlushBurst:       5,
			DeliveryTimeout:  10 * time.Second,
			BreakerThreshold: 3,
			BreakerReset:     5 * time.Minute,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Control: ControlConfig{
			Addr: DefaultControlAddr,
		},
		Admin: AdminConfig{
			RateLimit:       120,
			ShutdownTimeout: 10 * time.Second,
		},
		Disk: DiskConfig{
			Interval: time.Minute,
		},
		Telemetry: TelemetryConfig{
			ExporterType: "http",
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}
