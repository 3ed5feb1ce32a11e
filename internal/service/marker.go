// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services depend on repository interfaces, never on *sqlite.DB, so tests
// pass an in-memory fake and main.go passes the real store.
//
// ERROR CONTRACT:
// Every service method returns either nil or an error that wraps one of the
// apperror sentinels. Storage faults are logged here and replaced with
// apperror.Internal(), so no SQL text or file path ever reaches a client.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/map-markers/internal/apperror"
	"github.com/sakif/map-markers/internal/metrics"
	"github.com/sakif/map-markers/internal/model"
	"github.com/sakif/map-markers/internal/repository"
	"github.com/sakif/map-markers/internal/validation"
)

// Length limits for marker text fields.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
)

// CreateMarkerInput is the body of POST /api/markers.
//
// Pointer fields let validation tell "absent" from a zero value: a missing
// latitude is an error, latitude 0 (the equator) is fine.
type CreateMarkerInput struct {
	Title       *string  `json:"title" validate:"required,max=200"`
	Description *string  `json:"description" validate:"omitempty,max=2000"`
	Latitude    *float64 `json:"latitude" validate:"required,latitude"`
	Longitude   *float64 `json:"longitude" validate:"required,longitude"`
}

// UpdateMarkerInput is the body of PATCH /api/markers/{id}. Every field is
// optional; a nil field is left untouched. An empty description clears it.
type UpdateMarkerInput struct {
	Title       *string  `json:"title" validate:"omitempty,max=200"`
	Description *string  `json:"description" validate:"omitempty,max=2000"`
	Latitude    *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude   *float64 `json:"longitude" validate:"omitempty,longitude"`
}

// MarkerService handles business logic for markers.
//
// OWNERSHIP:
// Every method takes the caller's ownerID as resolved by the auth middleware.
// The service never looks a marker up without it, so a user can only ever
// reach their own records. "Not yours" and "does not exist" are the same
// NotFound outcome.
type MarkerService struct {
	repo   repository.MarkerRepository
	logger *slog.Logger
}

func NewMarkerService(repo repository.MarkerRepository, logger *slog.Logger) *MarkerService {
	return &MarkerService{
		repo:   repo,
		logger: logger,
	}
}

// List returns the caller's markers, newest first.
func (s *MarkerService) List(ctx context.Context, ownerID string) (markers []model.Marker, err error) {
	defer func() { metrics.RecordMarkerOperation("list", err) }()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	markers, err = s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, s.storeError(ctx, "listing markers", err, slog.String("owner", ownerID))
	}
	return markers, nil
}

// Create validates the input and stores a new marker owned by ownerID.
func (s *MarkerService) Create(ctx context.Context, ownerID string, in CreateMarkerInput) (marker *model.Marker, err error) {
	defer func() { metrics.RecordMarkerOperation("create", err) }()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	in.Title = trimmed(in.Title)
	in.Description = trimmed(in.Description)
	if in.Title != nil && *in.Title == "" {
		return nil, apperror.ValidationFailed("title", "title is required")
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	m := &model.Marker{
		Title:     *in.Title,
		Latitude:  *in.Latitude,
		Longitude: *in.Longitude,
		OwnerID:   ownerID,
	}
	if in.Description != nil && *in.Description != "" {
		m.Description = in.Description
	}

	if err := s.repo.Create(ctx, m); err != nil {
		return nil, s.storeError(ctx, "creating marker", err, slog.String("owner", ownerID))
	}

	s.logger.Info("marker created",
		slog.String("id", m.ID),
		slog.String("owner", ownerID),
	)
	return m, nil
}

// GetByID returns the caller's marker with the given id.
func (s *MarkerService) GetByID(ctx context.Context, ownerID, id string) (marker *model.Marker, err error) {
	defer func() { metrics.RecordMarkerOperation("get", err) }()

	if err := requireOwnerAndID(ownerID, id); err != nil {
		return nil, err
	}

	marker, err = s.repo.GetByID(ctx, id, ownerID)
	if err != nil {
		return nil, s.storeError(ctx, "getting marker", err, slog.String("id", id))
	}
	return marker, nil
}

// Update applies a partial update to the caller's marker.
//
// Present fields are validated exactly like on Create. An update with no
// fields at all is valid and returns the marker unchanged.
func (s *MarkerService) Update(ctx context.Context, ownerID, id string, in UpdateMarkerInput) (marker *model.Marker, err error) {
	defer func() { metrics.RecordMarkerOperation("update", err) }()

	if err := requireOwnerAndID(ownerID, id); err != nil {
		return nil, err
	}

	in.Title = trimmed(in.Title)
	in.Description = trimmed(in.Description)
	if in.Title != nil && *in.Title == "" {
		return nil, apperror.ValidationFailed("title", "title must not be empty")
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	patch := model.MarkerPatch{
		Title:       in.Title,
		Description: in.Description,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
	}

	marker, err = s.repo.Update(ctx, id, ownerID, patch)
	if err != nil {
		return nil, s.storeError(ctx, "updating marker", err, slog.String("id", id))
	}

	if !patch.IsEmpty() {
		s.logger.Info("marker updated", slog.String("id", id))
	}
	return marker, nil
}

// Delete removes the caller's marker. Nothing removed is reported as NotFound,
// whether the marker never existed or belongs to someone else.
func (s *MarkerService) Delete(ctx context.Context, ownerID, id string) (err error) {
	defer func() { metrics.RecordMarkerOperation("delete", err) }()

	if err := requireOwnerAndID(ownerID, id); err != nil {
		return err
	}

	removed, err := s.repo.Delete(ctx, id, ownerID)
	if err != nil {
		return s.storeError(ctx, "deleting marker", err, slog.String("id", id))
	}
	if !removed {
		return apperror.NotFound("marker", id)
	}

	s.logger.Info("marker deleted", slog.String("id", id))
	return nil
}

// storeError passes application errors through (wrapped with op) and turns
// anything else into a logged, opaque Internal error.
func (s *MarkerService) storeError(ctx context.Context, op string, err error, attrs ...slog.Attr) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	attrs = append(attrs, slog.String("error", err.Error()))
	s.logger.LogAttrs(ctx, slog.LevelError, "marker store failure: "+op, attrs...)
	return apperror.Internal()
}

func requireOwner(ownerID string) error {
	if ownerID == "" {
		return apperror.Unauthenticated("authentication required")
	}
	return nil
}

func requireOwnerAndID(ownerID, id string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return apperror.ValidationFailed("id", "id is required")
	}
	return nil
}

// trimmed returns a pointer to the trimmed copy of s, or nil for nil.
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
