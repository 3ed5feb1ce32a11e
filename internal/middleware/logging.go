// Package middleware holds the cross-cutting HTTP wrappers mounted on the
// router: request logging and Prometheus request metrics.
//
// Both follow the usual shape, run the next handler and look at what it did:
//
//	func(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        rec := record(w)
//	        next.ServeHTTP(rec, r)
//	        // rec.status, rec.bytes, routePattern(r) are now known
//	    })
//	}
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Logger writes one line per completed request.
//
// 5xx responses log at Error and 4xx at Warn, so a failing client or a
// broken store stands out without raising the global level.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			rec := record(w)

			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			if rec.status >= http.StatusInternalServerError {
				level = slog.LevelError
			} else if rec.status >= http.StatusBadRequest {
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "request completed",
				slog.String("requestID", chimiddleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", routePattern(r)),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(began)),
				slog.Int64("bytes", rec.bytes),
			)
		})
	}
}
