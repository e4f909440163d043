// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validate

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_AccumulatesErrors(t *testing.T) {
	v := New()
	v.Positive("Workers", 0)
	v.Range("StableSamples", 0, 1, 100)
	v.NotEmpty("OutputDir", "  ")

	require.False(t, v.IsValid())
	assert.Len(t, v.Errors(), 3)

	err := v.Err()
	require.Error(t, err)
	var verr ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Errors(), 3)
	assert.Contains(t, err.Error(), "Workers")
	assert.Contains(t, err.Error(), "; ")
}

func TestValidator_ValidIsNil(t *testing.T) {
	v := New()
	v.Positive("Workers", 2)
	v.OneOf("Backpressure", "block", []string{"block", "reject"})
	v.MinDuration("PollInterval", time.Second, 10*time.Millisecond)
	assert.True(t, v.IsValid())
	assert.NoError(t, v.Err())
}

func TestHostPort(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:48200", false},
		{":0", false},
		{"localhost", true},
		{"127.0.0.1:http", true},
		{"127.0.0.1:70000", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			v := New()
			v.HostPort("Control.Addr", tt.addr)
			assert.Equal(t, tt.wantErr, !v.IsValid())
		})
	}
}

func TestCommand(t *testing.T) {
	v := New()
	v.Command("Transcode.Command", nil)
	v.Command("Caption.Command", []string{""})
	assert.Len(t, v.Errors(), 2)

	v = New()
	v.Command("Transcode.Command", []string{"ffmpeg", "-i", "{input}"})
	assert.True(t, v.IsValid())
}

func TestDirectory_CreatesMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	v := New()
	v.Directory("OutputDir", dir, false)
	assert.True(t, v.IsValid())
	assert.DirExists(t, dir)

	v = New()
	v.Directory("OutputDir", filepath.Join(t.TempDir(), "missing"), true)
	assert.False(t, v.IsValid())
}

func TestFloatChecks(t *testing.T) {
	v := New()
	v.Fraction("telemetry.samplingRate", 0.5)
	v.PositiveFloat("alerts.flushRate", 0.2)
	assert.True(t, v.IsValid())

	v.Fraction("telemetry.samplingRate", 1.5)
	v.PositiveFloat("alerts.flushRate", 0)
	require.Len(t, v.Errors(), 2)
	assert.Equal(t, "telemetry.samplingRate", v.Errors()[0].Field)
}

func TestValidationError_Message(t *testing.T) {
	v := New()
	v.OneOf("logLevel", "verbose", LogLevels)
	err := v.Err()
	require.Error(t, err)
	assert.Equal(t, `invalid configuration: logLevel: must be one of debug, info, warn, error, got "verbose"`, err.Error())
}
