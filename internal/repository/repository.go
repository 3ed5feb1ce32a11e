// Package repository declares the storage contracts used by the service layer.
//
// The service depends on these interfaces, never on a concrete database, so
// tests can swap in a hand-written fake and production wires in SQLite.
package repository

import (
	"context"

	"github.com/sakif/map-markers/internal/model"
)

// MarkerRepository persists markers. Every single-record method is scoped by
// ownerID: a record owned by someone else behaves exactly like a missing one.
type MarkerRepository interface {
	// ListByOwner returns the owner's markers, newest first. Never nil.
	ListByOwner(ctx context.Context, ownerID string) ([]model.Marker, error)
	// Create assigns ID and timestamps to m and stores it under m.OwnerID.
	Create(ctx context.Context, m *model.Marker) error
	GetByID(ctx context.Context, id, ownerID string) (*model.Marker, error)
	// Update applies the non-nil fields of patch and returns the stored result.
	Update(ctx context.Context, id, ownerID string, patch model.MarkerPatch) (*model.Marker, error)
	// Delete reports whether a record was removed.
	Delete(ctx context.Context, id, ownerID string) (bool, error)
}

type UserRepository interface {
	// Create inserts a local account. A taken login yields apperror.ErrConflict.
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByLogin(ctx context.Context, login string) (*model.User, error)
	// UpsertGitHub inserts or refreshes the account linked to user.GitHubID.
	UpsertGitHub(ctx context.Context, user *model.User) error
}
