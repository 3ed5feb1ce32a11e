package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/map-markers/internal/apperror"
	"github.com/sakif/map-markers/internal/model"
	"github.com/sakif/map-markers/internal/repository"
)

// COMPILE-TIME INTERFACE CHECK:
// If *MarkerDB ever stops satisfying repository.MarkerRepository, this line
// fails to compile instead of the mismatch surfacing somewhere in main.go.
var _ repository.MarkerRepository = (*MarkerDB)(nil)

// MarkerDB is the SQLite implementation of repository.MarkerRepository.
//
// OWNER SCOPING:
// Every single-record query carries `AND user_id = ?`. A marker that exists
// but belongs to another user matches zero rows, which is indistinguishable
// from a marker that never existed. That is the whole authorization model.
type MarkerDB struct {
	db *DB
}

const markerColumns = `id, title, description, latitude, longitude, user_id, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMarker reads one row in markerColumns order.
//
// description is nullable, so it goes through sql.NullString and comes out
// as a *string (nil for NULL).
func scanMarker(s rowScanner) (model.Marker, error) {
	var (
		m    model.Marker
		desc sql.NullString
	)
	if err := s.Scan(
		&m.ID, &m.Title, &desc, &m.Latitude, &m.Longitude,
		&m.OwnerID, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return model.Marker{}, err
	}
	if desc.Valid {
		d := desc.String
		m.Description = &d
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// checkStorable enforces the invariants the table itself relies on.
// Range checks are the service's job; the store only refuses data it could
// not meaningfully persist.
func checkStorable(m *model.Marker) error {
	if m.OwnerID == "" {
		return apperror.ValidationFailed("ownerId", "owner is required")
	}
	if strings.TrimSpace(m.Title) == "" {
		return apperror.ValidationFailed("title", "title is required")
	}
	if math.IsNaN(m.Latitude) || math.IsInf(m.Latitude, 0) {
		return apperror.ValidationFailed("latitude", "latitude must be a finite number")
	}
	if math.IsNaN(m.Longitude) || math.IsInf(m.Longitude, 0) {
		return apperror.ValidationFailed("longitude", "longitude must be a finite number")
	}
	return nil
}

// ListByOwner returns every marker owned by ownerID, newest first.
//
// ORDER BY created_at DESC, id DESC:
// Two markers created in the same microsecond still come back in a stable
// order. xid ids embed a timestamp and a counter, so id DESC also means
// "created later first".
func (r *MarkerDB) ListByOwner(ctx context.Context, ownerID string) ([]model.Marker, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+markerColumns+`
		 FROM markers
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing markers: %w", err)
	}
	defer rows.Close()

	// Non-nil even when empty, so the handler writes [] rather than null.
	markers := make([]model.Marker, 0)
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning marker row: %w", err)
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating markers: %w", err)
	}

	return markers, nil
}

// Create inserts a new marker, filling in ID, CreatedAt and UpdatedAt on m.
//
// The caller's struct is modified in place (pointer argument), so after a
// successful Create it holds exactly what was written.
func (r *MarkerDB) Create(ctx context.Context, m *model.Marker) error {
	if err := checkStorable(m); err != nil {
		return err
	}

	now := r.db.timestamp()
	m.ID = xid.New().String()
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO markers (`+markerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.Title,
		nullableString(m.Description),
		m.Latitude,
		m.Longitude,
		m.OwnerID,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating marker: %w", err)
	}

	return nil
}

// GetByID returns the marker only if it exists AND belongs to ownerID.
func (r *MarkerDB) GetByID(ctx context.Context, id, ownerID string) (*model.Marker, error) {
	m, err := scanMarker(r.db.conn.QueryRowContext(ctx,
		`SELECT `+markerColumns+`
		 FROM markers
		 WHERE id = ? AND user_id = ?`,
		id, ownerID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("marker", id)
		}
		return nil, fmt.Errorf("sqlite: getting marker %s: %w", id, err)
	}
	return &m, nil
}

// Update applies patch to the owner's marker inside one transaction.
//
// READ-MODIFY-WRITE IN A TRANSACTION:
//  1. SELECT the row scoped by owner (absent → NotFound, nothing written)
//  2. apply only the non-nil patch fields in Go
//  3. UPDATE with the same owner scope
//
// The transaction pins one connection, so no other writer can slip in between
// the read and the write.
//
// An empty patch returns the stored record without writing, so updatedAt
// only moves when something was actually applied. When it moves, it moves
// strictly forward: if the clock has not advanced past the previous value
// (coarse clocks, fast successive calls) it is bumped by one microsecond.
func (r *MarkerDB) Update(ctx context.Context, id, ownerID string, patch model.MarkerPatch) (*model.Marker, error) {
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning marker update: %w", err)
	}
	// Rollback after a successful Commit is a no-op returning sql.ErrTxDone.
	defer tx.Rollback()

	m, err := scanMarker(tx.QueryRowContext(ctx,
		`SELECT `+markerColumns+`
		 FROM markers
		 WHERE id = ? AND user_id = ?`,
		id, ownerID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("marker", id)
		}
		return nil, fmt.Errorf("sqlite: reading marker %s for update: %w", id, err)
	}

	if patch.IsEmpty() {
		return &m, nil
	}

	patch.Apply(&m)
	if err := checkStorable(&m); err != nil {
		return nil, err
	}
	m.UpdatedAt = nextUpdatedAt(m.UpdatedAt, r.db.timestamp())

	result, err := tx.ExecContext(ctx,
		`UPDATE markers
		 SET title = ?, description = ?, latitude = ?, longitude = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		m.Title,
		nullableString(m.Description),
		m.Latitude,
		m.Longitude,
		m.UpdatedAt,
		id,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating marker %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, apperror.NotFound("marker", id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing marker update %s: %w", id, err)
	}
	return &m, nil
}

func nextUpdatedAt(prev, now time.Time) time.Time {
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

// Delete removes the owner's marker and reports whether anything was removed.
// Deleting a missing or foreign marker is not an error; it returns false.
func (r *MarkerDB) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	result, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM markers WHERE id = ? AND user_id = ?`,
		id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting marker %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}
