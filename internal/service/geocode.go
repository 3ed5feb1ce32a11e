package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sakif/map-markers/internal/apperror"
	"github.com/sakif/map-markers/internal/geocoding"
	"github.com/sakif/map-markers/internal/validation"
)

// SearchLimit caps the number of places a forward lookup asks for.
const SearchLimit = 10

// SearchResponse is the body of GET /api/geocode.
type SearchResponse struct {
	Results []geocoding.Result `json:"results"`
	Count   int                `json:"count"`
}

// Place is the body of GET /api/geocode/reverse.
type Place struct {
	Latitude    float64           `json:"latitude"`
	Longitude   float64           `json:"longitude"`
	DisplayName string            `json:"displayName"`
	Address     string            `json:"address"`
	Type        string            `json:"type"`
	Raw         *geocoding.Result `json:"raw"`
}

type searchInput struct {
	Query string `json:"q" validate:"required,min=3"`
}

type reverseInput struct {
	Latitude  *float64 `json:"lat" validate:"required,latitude"`
	Longitude *float64 `json:"lon" validate:"required,longitude"`
}

// GeocodeService validates lookups and shapes geocoder output for the map UI.
type GeocodeService struct {
	geocoder geocoding.Geocoder
	logger   *slog.Logger
}

func NewGeocodeService(geocoder geocoding.Geocoder, logger *slog.Logger) *GeocodeService {
	return &GeocodeService{
		geocoder: geocoder,
		logger:   logger,
	}
}

// Search finds places matching q, most important first.
func (s *GeocodeService) Search(ctx context.Context, q string) (*SearchResponse, error) {
	in := searchInput{Query: strings.TrimSpace(q)}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	results, err := s.geocoder.Search(ctx, in.Query, SearchLimit)
	if err != nil {
		return nil, s.geocoderError(ctx, "search", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ImportanceOrZero() > results[j].ImportanceOrZero()
	})

	return &SearchResponse{Results: results, Count: len(results)}, nil
}

// Reverse describes the place at a point.
func (s *GeocodeService) Reverse(ctx context.Context, lat, lon float64) (*Place, error) {
	if err := validation.Struct(reverseInput{Latitude: &lat, Longitude: &lon}); err != nil {
		return nil, err
	}

	res, err := s.geocoder.Reverse(ctx, lat, lon)
	if err != nil {
		return nil, s.geocoderError(ctx, "reverse", err)
	}
	if res == nil {
		return nil, &apperror.AppError{
			Err:     apperror.ErrNotFound,
			Message: "no place found at this location",
		}
	}

	return &Place{
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: res.DisplayName,
		Address:     geocoding.FormatAddress(*res),
		Type:        geocoding.ObjectType(*res),
		Raw:         res,
	}, nil
}

func (s *GeocodeService) geocoderError(ctx context.Context, op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return fmt.Errorf("geocode %s: %w", op, err)
	}

	s.logger.ErrorContext(ctx, "geocoder failure",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return apperror.Internal()
}
