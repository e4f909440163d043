// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/ManuGH/recingest/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromhttpExposure(t *testing.T) {
	metrics.RecordJobOutcome("completed", 12)
	metrics.RecordAttempt("transcode", "ok")
	metrics.IncSpawn("transcode", "ok")
	metrics.IncReap("transcode", "exit0")
	metrics.RecordVerdict("ready", "")
	metrics.RecordAlert("high", "delivered")
	metrics.RecordControlCommand("ping", "ok")
	metrics.IncProcTerminate("SIGTERM", "sent")

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	for _, name := range []string{
		"recingest_job_outcomes_total",
		"recingest_job_attempts_total",
		"recingest_subprocess_spawn_total",
		"recingest_subprocess_reap_total",
		"recingest_detector_verdicts_total",
		"recingest_alerts_total",
		"recingest_control_commands_total",
		"recingest_proc_terminate_total",
		"recingest_queue_depth",
	} {
		assert.Contains(t, body, name)
	}
}
