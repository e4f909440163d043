// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	adminRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recingest_admin_http_request_duration_seconds",
		Help:    "Admin API request latency by route and status",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"method", "route", "status"})

	adminRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recingest_admin_http_requests_in_flight",
		Help: "Admin API requests currently being served",
	})

	adminResponseBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recingest_admin_http_response_bytes_total",
		Help: "Bytes written by the admin API by route",
	}, []string{"route"})
)

// Metrics records latency, in-flight count and response volume per route.
// Routes are labelled by their chi pattern; unmatched paths share one label.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		adminRequestsInFlight.Inc()
		defer adminRequestsInFlight.Dec()

		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := routeLabel(r)
		adminRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(sw.statusCode)).
			Observe(time.Since(start).Seconds())
		adminResponseBytes.WithLabelValues(route).Add(float64(sw.bytes))
	})
}

func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
