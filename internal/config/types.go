// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the fully resolved runtime configuration.
type AppConfig struct {
	Version    string `yaml:"-"`
	DataDir    string `yaml:"dataDir"`
	LogLevel   string `yaml:"logLevel"`
	LogService string `yaml:"logService"`

	// ErrorBuffer is the size of the recent-error ring exposed by `errors`.
	ErrorBuffer int `yaml:"errorBuffer"`

	Sources   SourcesConfig   `yaml:"sources"`
	Readiness ReadinessConfig `yaml:"readiness"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Caption   CaptionConfig   `yaml:"caption"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Control   ControlConfig   `yaml:"control"`
	Admin     AdminConfig     `yaml:"admin"`
	Store     StoreConfig     `yaml:"store"`
	Disk      DiskConfig      `yaml:"disk"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// SourcesConfig lists the recorder output directories.
type SourcesConfig struct {
	Dirs       []string `yaml:"dirs"`
	Extensions []string `yaml:"extensions"`
	Recursive  bool     `yaml:"recursive"`
	// RescanInterval re-walks the source dirs so files missed by the event
	// stream (e.g. during a watch restart) are still discovered.
	RescanInterval time.Duration `yaml:"rescanInterval"`
}

// ReadinessConfig tunes the stability detector.
type ReadinessConfig struct {
	PollInterval  time.Duration `yaml:"pollInterval"`
	StableSamples int           `yaml:"stableSamples"`
	GracePeriod   time.Duration `yaml:"gracePeriod"`
	Timeout       time.Duration `yaml:"timeout"`
	LockProbe     bool          `yaml:"lockProbe"`
	// MinDuration rejects files whose probed duration is shorter. Zero disables the probe.
	MinDuration   time.Duration `yaml:"minDuration"`
	ProbeAttempts int           `yaml:"probeAttempts"`
	ProbeTimeout  time.Duration `yaml:"probeTimeout"`
}

// TranscodeConfig describes the external encoder contract.
type TranscodeConfig struct {
	Command      []string          `yaml:"command"`
	ProbeCommand []string          `yaml:"probeCommand"`
	Params       map[string]string `yaml:"params"`
	OutputDir    string            `yaml:"outputDir"`
	OutputExt    string            `yaml:"outputExt"`

	PermanentExitCodes []int `yaml:"permanentExitCodes"`

	ProgressPollInterval time.Duration `yaml:"progressPollInterval"`
	StallTimeout         time.Duration `yaml:"stallTimeout"`
	MaxRuntime           time.Duration `yaml:"maxRuntime"`
	KillGrace            time.Duration `yaml:"killGrace"`
}

// CaptionConfig describes the optional caption extractor.
type CaptionConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Command      []string      `yaml:"command"`
	StallTimeout time.Duration `yaml:"stallTimeout"`
	MaxRuntime   time.Duration `yaml:"maxRuntime"`
}

// JobsConfig sizes the worker pool and its retry policy.
type JobsConfig struct {
	Workers      int    `yaml:"workers"`
	QueueSize    int    `yaml:"queueSize"`
	Backpressure string `yaml:"backpressure"` // "block" or "reject"
	MaxAttempts  int    `yaml:"maxAttempts"`

	BackoffBase     time.Duration `yaml:"backoffBase"`
	BackoffMax      time.Duration `yaml:"backoffMax"`
	ResourceBackoff time.Duration `yaml:"resourceBackoff"`
	ShutdownGrace   time.Duration `yaml:"shutdownGrace"`
}

// AlertsConfig configures delivery and the dead-letter store.
type AlertsConfig struct {
	Transport       string        `yaml:"transport"` // "smtp" or "log"
	DeadLetterDir   string        `yaml:"deadLetterDir"`
	AuditLog        string        `yaml:"auditLog"`
	FlushInterval   time.Duration `yaml:"flushInterval"`
	FlushRate       float64       `yaml:"flushRate"` // deliveries per second
	FlushBurst      int           `yaml:"flushBurst"`
	DeliveryTimeout time.Duration `yaml:"deliveryTimeout"`

	// Consecutive delivery failures before the transport is skipped for
	// BreakerReset.
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// SMTPConfig is the mail transport.
type SMTPConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// ControlConfig is the local command endpoint.
type ControlConfig struct {
	Addr string `yaml:"addr"`
}

// AdminConfig is the optional HTTP admin API. Empty Listen disables it.
type AdminConfig struct {
	Listen          string        `yaml:"listen"`
	RateLimit       int           `yaml:"rateLimit"` // requests per minute per IP
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StoreConfig locates the job outcome ledger.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DiskConfig is the output volume free-space check. Zero MinFreeBytes disables it.
type DiskConfig struct {
	MinFreeBytes int64         `yaml:"minFreeBytes"`
	Interval     time.Duration `yaml:"interval"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporterType"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}
