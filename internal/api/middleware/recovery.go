// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"runtime"
	"strings"

	"github.com/ManuGH/recingest/internal/log"
)

// Recoverer turns a handler panic into a logged 500 so the daemon keeps
// running. http.ErrAbortHandler is re-raised for net/http to handle.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			stack := make([]byte, 8<<10)
			stack = stack[:runtime.Stack(stack, false)]

			logger := log.WithContext(r.Context(), log.WithComponent("api"))
			logger.Error().
				Str("event", "panic.recovered").
				Str("method", r.Method).
				Str("path", strings.ToValidUTF8(r.URL.Path, "")).
				Interface("panic", rec).
				Bytes("stack", stack).
				Msg("panic in admin API handler")

			writeError(w, r, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}()
		next.ServeHTTP(w, r)
	})
}
