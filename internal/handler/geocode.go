package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/map-markers/internal/apperror"
	"github.com/sakif/map-markers/internal/service"
)

// GeocodeService is what GeocodeHandler needs from the business layer.
type GeocodeService interface {
	Search(ctx context.Context, q string) (*service.SearchResponse, error)
	Reverse(ctx context.Context, lat, lon float64) (*service.Place, error)
}

// GeocodeHandler proxies address search and reverse lookup for the map UI.
type GeocodeHandler struct {
	geocode GeocodeService
}

func NewGeocodeHandler(geocode GeocodeService) *GeocodeHandler {
	return &GeocodeHandler{geocode: geocode}
}

// HandleSearch runs a forward lookup.
//
// HTTP: GET /api/geocode?q=red+square
func (h *GeocodeHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	resp, err := h.geocode.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleReverse describes the place at a point.
//
// HTTP: GET /api/geocode/reverse?lat=55.75&lon=37.61
func (h *GeocodeHandler) HandleReverse(w http.ResponseWriter, r *http.Request) {
	lat, err := floatParam(r, "lat")
	if err != nil {
		writeError(w, err)
		return
	}
	lon, err := floatParam(r, "lon")
	if err != nil {
		writeError(w, err)
		return
	}

	place, err := h.geocode.Reverse(r.Context(), lat, lon)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, place)
}

func floatParam(r *http.Request, name string) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, apperror.ValidationFailed(name, name+" is required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be a number")
	}
	return v, nil
}
