// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ManuGH/recingest/internal/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStack_RecoversPanics(t *testing.T) {
	r := NewRouter(StackConfig{EnableSecurityHeaders: true, EnableLogging: true})
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body["error"])
	assert.Equal(t, w.Header().Get(HeaderRequestID), body["requestId"])
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestRequestID_PropagatesOrGenerates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = log.CorrelationIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, w.Header().Get(HeaderRequestID))
}

func TestStack_RateLimitApplies(t *testing.T) {
	r := NewRouter(StackConfig{RateLimit: 1, EnableMetrics: true})
	r.Get("/api/v1/stats", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, hit(r, "10.1.1.1:5").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "10.1.1.1:5").Code)
}

func TestMetrics_LabelsByRoutePattern(t *testing.T) {
	r := NewRouter(StackConfig{EnableMetrics: true})
	r.Get("/api/v1/outcomes/{id}", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("12345")) })

	before := testutil.ToFloat64(adminResponseBytes.WithLabelValues("/api/v1/outcomes/{id}"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/outcomes/abc", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, before+5, testutil.ToFloat64(adminResponseBytes.WithLabelValues("/api/v1/outcomes/{id}")))
	assert.Zero(t, testutil.ToFloat64(adminRequestsInFlight))
}
