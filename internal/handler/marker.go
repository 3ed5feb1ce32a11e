package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/map-markers/internal/auth"
	"github.com/sakif/map-markers/internal/model"
	"github.com/sakif/map-markers/internal/service"
)

// MarkerService is what MarkerHandler needs from the business layer.
// *service.MarkerService satisfies it.
type MarkerService interface {
	List(ctx context.Context, ownerID string) ([]model.Marker, error)
	Create(ctx context.Context, ownerID string, in service.CreateMarkerInput) (*model.Marker, error)
	GetByID(ctx context.Context, ownerID, id string) (*model.Marker, error)
	Update(ctx context.Context, ownerID, id string, in service.UpdateMarkerInput) (*model.Marker, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// MarkerHandler serves /api/markers. Every route sits behind RequireAuth,
// so the owner always comes from the session cookie, never from the body.
type MarkerHandler struct {
	markers MarkerService
	logger  *slog.Logger
}

func NewMarkerHandler(markers MarkerService, logger *slog.Logger) *MarkerHandler {
	return &MarkerHandler{
		markers: markers,
		logger:  logger,
	}
}

// HandleList returns the caller's markers, newest first.
//
// HTTP: GET /api/markers
func (h *MarkerHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.UserIDFromContext(r.Context())

	markers, err := h.markers.List(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markers)
}

// HandleCreate stores a new marker for the caller.
//
// HTTP: POST /api/markers
// REQUEST BODY: {"title": "Cafe", "description": "best coffee", "latitude": 55.75, "longitude": 37.61}
func (h *MarkerHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.UserIDFromContext(r.Context())

	var in service.CreateMarkerInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.logger.Debug("invalid marker body", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	marker, err := h.markers.Create(r.Context(), ownerID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, marker)
}

// HandleGet returns one of the caller's markers.
//
// HTTP: GET /api/markers/{id}
func (h *MarkerHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.UserIDFromContext(r.Context())

	marker, err := h.markers.GetByID(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marker)
}

// HandleUpdate applies a partial update. Fields absent from the body keep
// their stored values; "description": "" clears the description.
//
// HTTP: PATCH /api/markers/{id}
func (h *MarkerHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.UserIDFromContext(r.Context())

	var in service.UpdateMarkerInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.logger.Debug("invalid marker patch", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	marker, err := h.markers.Update(r.Context(), ownerID, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marker)
}

// HandleDelete removes one of the caller's markers.
//
// HTTP: DELETE /api/markers/{id}
// 204 No Content on success, 404 when nothing was removed.
func (h *MarkerHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.UserIDFromContext(r.Context())

	if err := h.markers.Delete(r.Context(), ownerID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
