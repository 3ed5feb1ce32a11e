// Package handler contains the HTTP handlers of the map markers API.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements the http.Handler interface:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// Chi's router accepts plain http.HandlerFunc values, so every handler here
// is a method with the (w, r) signature.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming HTTP request (path params, query, body)
//  2. Call the service layer
//  3. Write the HTTP response (status code, headers, JSON body)
//
// Handlers hold no business rules. They depend on small interfaces declared
// next to them, which the service types satisfy.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/map-markers/internal/apperror"
)

// Pinger reports whether a backing store answers. *sqlite.DB satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers liveness probes.
type HealthHandler struct {
	db     Pinger
	logger *slog.Logger
}

func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// HandleHealth pings the database.
//
// HTTP: GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("health check failed", slog.String("error", err.Error()))
		writeError(w, apperror.Unavailable("database"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
