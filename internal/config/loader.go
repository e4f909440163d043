// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/recingest/internal/log"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every recognised environment variable.
const EnvPrefix = "RECINGEST_"

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader. An empty configPath skips the file layer.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load resolves defaults, the strict YAML file and ENV overrides, then validates.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	}

	l.mergeEnv(&cfg)
	resolveDerivedPaths(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return AppConfig{}, err
	}

	logger := log.WithComponent("config")
	logger.Info().
		Str("event", "config.loaded").
		Str("path", l.configPath).
		Strs("sources", cfg.Sources.Dirs).
		Str("output_dir", cfg.Transcode.OutputDir).
		Int("workers", cfg.Jobs.Workers).
		Str("alert_transport", cfg.Alerts.Transport).
		Msg("configuration loaded")
	return cfg, nil
}

// loadFile decodes the YAML file on top of cfg. Keys absent from the file keep
// their current (default) value.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	p := func(name string) string { return EnvPrefix + name }

	cfg.DataDir = ParseString(p("DATA_DIR"), cfg.DataDir)
	cfg.LogLevel = ParseString(p("LOG_LEVEL"), cfg.LogLevel)
	cfg.LogService = ParseString(p("LOG_SERVICE"), cfg.LogService)
	cfg.ErrorBuffer = ParseInt(p("ERROR_BUFFER"), cfg.ErrorBuffer)

	cfg.Sources.Dirs = ParseList(p("SOURCE_DIRS"), cfg.Sources.Dirs)
	cfg.Sources.Extensions = ParseList(p("SOURCE_EXTENSIONS"), cfg.Sources.Extensions)
	cfg.Sources.Recursive = ParseBool(p("SOURCE_RECURSIVE"), cfg.Sources.Recursive)
	cfg.Sources.RescanInterval = ParseDuration(p("RESCAN_INTERVAL"), cfg.Sources.RescanInterval)

	cfg.Readiness.PollInterval = ParseDuration(p("POLL_INTERVAL"), cfg.Readiness.PollInterval)
	cfg.Readiness.StableSamples = ParseInt(p("STABLE_SAMPLES"), cfg.Readiness.StableSamples)
	cfg.Readiness.GracePeriod = ParseDuration(p("GRACE_PERIOD"), cfg.Readiness.GracePeriod)
	cfg.Readiness.Timeout = ParseDuration(p("READINESS_TIMEOUT"), cfg.Readiness.Timeout)
	cfg.Readiness.LockProbe = ParseBool(p("LOCK_PROBE"), cfg.Readiness.LockProbe)
	cfg.Readiness.MinDuration = ParseDuration(p("MIN_DURATION"), cfg.Readiness.MinDuration)

	cfg.Transcode.OutputDir = ParseString(p("OUTPUT_DIR"), cfg.Transcode.OutputDir)
	cfg.Transcode.OutputExt = ParseString(p("OUTPUT_EXT"), cfg.Transcode.OutputExt)
	cfg.Transcode.StallTimeout = ParseDuration(p("STALL_TIMEOUT"), cfg.Transcode.StallTimeout)
	cfg.Transcode.MaxRuntime = ParseDuration(p("MAX_RUNTIME"), cfg.Transcode.MaxRuntime)
	cfg.Transcode.KillGrace = ParseDuration(p("KILL_GRACE"), cfg.Transcode.KillGrace)

	cfg.Caption.Enabled = ParseBool(p("CAPTION_ENABLED"), cfg.Caption.Enabled)

	cfg.Jobs.Workers = ParseInt(p("WORKERS"), cfg.Jobs.Workers)
	cfg.Jobs.QueueSize = ParseInt(p("QUEUE_SIZE"), cfg.Jobs.QueueSize)
	cfg.Jobs.Backpressure = ParseString(p("BACKPRESSURE"), cfg.Jobs.Backpressure)
	cfg.Jobs.MaxAttempts = ParseInt(p("MAX_ATTEMPTS"), cfg.Jobs.MaxAttempts)
	cfg.Jobs.BackoffBase = ParseDuration(p("BACKOFF_BASE"), cfg.Jobs.BackoffBase)
	cfg.Jobs.BackoffMax = ParseDuration(p("BACKOFF_MAX"), cfg.Jobs.BackoffMax)

	cfg.Alerts.Transport = ParseString(p("ALERT_TRANSPORT"), cfg.Alerts.Transport)
	cfg.Alerts.DeadLetterDir = ParseString(p("DEADLETTER_DIR"), cfg.Alerts.DeadLetterDir)
	cfg.Alerts.AuditLog = ParseString(p("AUDIT_LOG"), cfg.Alerts.AuditLog)
	cfg.Alerts.FlushInterval = ParseDuration(p("FLUSH_INTERVAL"), cfg.Alerts.FlushInterval)
	cfg.Alerts.FlushRate = ParseFloat(p("FLUSH_RATE"), cfg.Alerts.FlushRate)
	cfg.Alerts.BreakerThreshold = ParseInt(p("BREAKER_THRESHOLD"), cfg.Alerts.BreakerThreshold)
	cfg.Alerts.BreakerReset = ParseDuration(p("BREAKER_RESET"), cfg.Alerts.BreakerReset)

	cfg.SMTP.Host = ParseString(p("SMTP_HOST"), cfg.SMTP.Host)
	cfg.SMTP.Port = ParseInt(p("SMTP_PORT"), cfg.SMTP.Port)
	cfg.SMTP.Username = ParseString(p("SMTP_USERNAME"), cfg.SMTP.Username)
	cfg.SMTP.Password = ParseString(p("SMTP_PASSWORD"), cfg.SMTP.Password)
	cfg.SMTP.From = ParseString(p("SMTP_FROM"), cfg.SMTP.From)
	cfg.SMTP.To = ParseList(p("SMTP_TO"), cfg.SMTP.To)

	cfg.Control.Addr = ParseString(p("CONTROL_ADDR"), cfg.Control.Addr)
	cfg.Admin.Listen = ParseString(p("ADMIN_LISTEN"), cfg.Admin.Listen)
	cfg.Admin.RateLimit = ParseInt(p("ADMIN_RATE_LIMIT"), cfg.Admin.RateLimit)
	cfg.Store.Path = ParseString(p("STORE_PATH"), cfg.Store.Path)

	cfg.Disk.MinFreeBytes = ParseInt64(p("DISK_MIN_FREE_BYTES"), cfg.Disk.MinFreeBytes)
	cfg.Disk.Interval = ParseDuration(p("DISK_INTERVAL"), cfg.Disk.Interval)

	cfg.Telemetry.Enabled = ParseBool(p("TRACING_ENABLED"), cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = ParseString(p("TRACING_EXPORTER"), cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = ParseString(p("TRACING_ENDPOINT"), cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat(p("TRACING_SAMPLING_RATE"), cfg.Telemetry.SamplingRate)
}

// resolveDerivedPaths fills locations that default to children of DataDir.
func resolveDerivedPaths(cfg *AppConfig) {
	if cfg.DataDir == "" {
		return
	}
	if cfg.Alerts.DeadLetterDir == "" {
		cfg.Alerts.DeadLetterDir = filepath.Join(cfg.DataDir, "deadletter")
	}
	if cfg.Alerts.AuditLog == "" {
		cfg.Alerts.AuditLog = filepath.Join(cfg.DataDir, "alerts.jsonl")
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "outcomes.db")
	}
}
