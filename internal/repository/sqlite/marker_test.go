package sqlite

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/map-markers/internal/apperror"
	"github.com/sakif/map-markers/internal/model"
)

// TESTING WITH IN-MEMORY SQLITE:
// ":memory:" creates a fresh database that exists only during the test.
// Each test gets its own, so there is no shared state between tests.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeClock returns a clock function that advances by step on every call.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(step)
		return now
	}
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func createTestMarker(t *testing.T, r *MarkerDB, owner, title string, lat, lon float64) *model.Marker {
	t.Helper()
	m := &model.Marker{Title: title, Latitude: lat, Longitude: lon, OwnerID: owner}
	if err := r.Create(context.Background(), m); err != nil {
		t.Fatalf("failed to create test marker: %v", err)
	}
	return m
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestMarkerCreate(t *testing.T) {
	r := newTestDB(t).Markers()

	m := &model.Marker{Title: "Cafe", Latitude: 55.75, Longitude: 37.61, OwnerID: "u1"}
	if err := r.Create(context.Background(), m); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if m.ID == "" {
		t.Error("Create() did not set ID")
	}
	if m.CreatedAt.IsZero() {
		t.Error("Create() did not set CreatedAt")
	}
	if !m.CreatedAt.Equal(m.UpdatedAt) {
		t.Errorf("CreatedAt %v != UpdatedAt %v", m.CreatedAt, m.UpdatedAt)
	}
	if m.Description != nil {
		t.Errorf("Description = %q, want nil", *m.Description)
	}
}

func TestMarkerCreate_UniqueIDs(t *testing.T) {
	r := newTestDB(t).Markers()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		m := createTestMarker(t, r, "u1", "spot", 1, 2)
		if seen[m.ID] {
			t.Fatalf("duplicate id %s", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestMarkerCreate_RoundTrip(t *testing.T) {
	r := newTestDB(t).Markers()

	original := &model.Marker{
		Title:       "Library",
		Description: strPtr("quiet place"),
		Latitude:    -33.8688,
		Longitude:   151.2093,
		OwnerID:     "u1",
	}
	if err := r.Create(context.Background(), original); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	found, err := r.GetByID(context.Background(), original.ID, "u1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if found.Title != original.Title {
		t.Errorf("Title = %q, want %q", found.Title, original.Title)
	}
	if found.Description == nil || *found.Description != "quiet place" {
		t.Errorf("Description = %v, want %q", found.Description, "quiet place")
	}
	if found.Latitude != original.Latitude || found.Longitude != original.Longitude {
		t.Errorf("coordinates = %v,%v, want %v,%v",
			found.Latitude, found.Longitude, original.Latitude, original.Longitude)
	}
	if found.OwnerID != "u1" {
		t.Errorf("OwnerID = %q, want u1", found.OwnerID)
	}
	if !found.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", found.CreatedAt, original.CreatedAt)
	}
	if !found.UpdatedAt.Equal(original.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", found.UpdatedAt, original.UpdatedAt)
	}
}

func TestMarkerCreate_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		marker    model.Marker
		wantField string
	}{
		{"empty title", model.Marker{Title: "", OwnerID: "u1"}, "title"},
		{"whitespace title", model.Marker{Title: "   ", OwnerID: "u1"}, "title"},
		{"NaN latitude", model.Marker{Title: "x", Latitude: math.NaN(), OwnerID: "u1"}, "latitude"},
		{"infinite longitude", model.Marker{Title: "x", Longitude: math.Inf(1), OwnerID: "u1"}, "longitude"},
		{"missing owner", model.Marker{Title: "x"}, "ownerId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestDB(t).Markers()
			m := tt.marker

			err := r.Create(context.Background(), &m)

			var appErr *apperror.AppError
			if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("Create() error = %v, want validation error", err)
			}
			if appErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", appErr.Field, tt.wantField)
			}

			list, err := r.ListByOwner(context.Background(), "u1")
			if err != nil {
				t.Fatalf("ListByOwner() error = %v", err)
			}
			if len(list) != 0 {
				t.Errorf("rejected marker was persisted: %d records", len(list))
			}
		})
	}
}

// =========================================================================
// LIST TESTS
// =========================================================================

func TestListByOwner_Empty(t *testing.T) {
	r := newTestDB(t).Markers()

	markers, err := r.ListByOwner(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if markers == nil {
		t.Error("ListByOwner() returned nil, want empty slice")
	}
	if len(markers) != 0 {
		t.Errorf("len = %d, want 0", len(markers))
	}
}

func TestListByOwner_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	db.now = fakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), time.Second)
	r := db.Markers()

	first := createTestMarker(t, r, "u1", "first", 1, 1)
	second := createTestMarker(t, r, "u1", "second", 2, 2)
	third := createTestMarker(t, r, "u1", "third", 3, 3)

	markers, err := r.ListByOwner(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}

	want := []string{third.ID, second.ID, first.ID}
	if len(markers) != len(want) {
		t.Fatalf("len = %d, want %d", len(markers), len(want))
	}
	for i, id := range want {
		if markers[i].ID != id {
			t.Errorf("markers[%d].ID = %s, want %s", i, markers[i].ID, id)
		}
	}
}

func TestListByOwner_SameTimestampStableOrder(t *testing.T) {
	db := newTestDB(t)
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return fixed }
	r := db.Markers()

	a := createTestMarker(t, r, "u1", "a", 1, 1)
	b := createTestMarker(t, r, "u1", "b", 2, 2)

	markers, err := r.ListByOwner(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(markers) != 2 {
		t.Fatalf("len = %d, want 2", len(markers))
	}
	// xid ids increase within a process, so the later one sorts first.
	if markers[0].ID != b.ID || markers[1].ID != a.ID {
		t.Errorf("order = [%s %s], want [%s %s]", markers[0].ID, markers[1].ID, b.ID, a.ID)
	}
}

func TestListByOwner_OnlyOwnMarkers(t *testing.T) {
	r := newTestDB(t).Markers()

	createTestMarker(t, r, "u1", "mine", 1, 1)
	createTestMarker(t, r, "u2", "theirs", 2, 2)
	createTestMarker(t, r, "u1", "mine too", 3, 3)

	markers, err := r.ListByOwner(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(markers) != 2 {
		t.Fatalf("len = %d, want 2", len(markers))
	}
	for _, m := range markers {
		if m.OwnerID != "u1" {
			t.Errorf("got marker owned by %q in u1's list", m.OwnerID)
		}
	}
}

// =========================================================================
// GET BY ID TESTS
// =========================================================================

func TestMarkerGetByID_NotFound(t *testing.T) {
	r := newTestDB(t).Markers()

	_, err := r.GetByID(context.Background(), "nonexistent", "u1")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestMarkerGetByID_ForeignLooksMissing(t *testing.T) {
	r := newTestDB(t).Markers()
	m := createTestMarker(t, r, "u1", "Cafe", 55.75, 37.61)

	_, foreignErr := r.GetByID(context.Background(), m.ID, "u2")
	_, missingErr := r.GetByID(context.Background(), "nonexistent", "u2")

	if !errors.Is(foreignErr, apperror.ErrNotFound) {
		t.Fatalf("foreign GetByID() error = %v, want ErrNotFound", foreignErr)
	}
	if !errors.Is(missingErr, apperror.ErrNotFound) {
		t.Fatalf("missing GetByID() error = %v, want ErrNotFound", missingErr)
	}
}

// =========================================================================
// UPDATE TESTS
// =========================================================================

func TestMarkerUpdate_PartialLeavesOtherFields(t *testing.T) {
	db := newTestDB(t)
	db.now = fakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), time.Second)
	r := db.Markers()
	m := createTestMarker(t, r, "u1", "Cafe", 55.75, 37.61)

	updated, err := r.Update(context.Background(), m.ID, "u1", model.MarkerPatch{
		Description: strPtr("great coffee"),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if updated.Title != "Cafe" {
		t.Errorf("Title = %q, want Cafe", updated.Title)
	}
	if updated.Latitude != 55.75 || updated.Longitude != 37.61 {
		t.Errorf("coordinates = %v,%v, want 55.75,37.61", updated.Latitude, updated.Longitude)
	}
	if updated.Description == nil || *updated.Description != "great coffee" {
		t.Errorf("Description = %v, want great coffee", updated.Description)
	}
	if !updated.CreatedAt.Equal(m.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", m.CreatedAt, updated.CreatedAt)
	}
	if !updated.UpdatedAt.After(m.UpdatedAt) {
		t.Errorf("UpdatedAt %v should be after %v", updated.UpdatedAt, m.UpdatedAt)
	}

	found, err := r.GetByID(context.Background(), m.ID, "u1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Description == nil || *found.Description != "great coffee" {
		t.Errorf("persisted Description = %v, want great coffee", found.Description)
	}
	if !found.UpdatedAt.Equal(updated.UpdatedAt) {
		t.Errorf("persisted UpdatedAt = %v, want %v", found.UpdatedAt, updated.UpdatedAt)
	}
}

func TestMarkerUpdate_StrictlyIncreasesWithFrozenClock(t *testing.T) {
	db := newTestDB(t)
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return fixed }
	r := db.Markers()
	m := createTestMarker(t, r, "u1", "Cafe", 55.75, 37.61)

	first, err := r.Update(context.Background(), m.ID, "u1", model.MarkerPatch{Title: strPtr("Cafe 2")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	second, err := r.Update(context.Background(), m.ID, "u1", model.MarkerPatch{Title: strPtr("Cafe 3")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if !first.UpdatedAt.After(m.UpdatedAt) {
		t.Errorf("first UpdatedAt %v should be after %v", first.UpdatedAt, m.UpdatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("second UpdatedAt %v should be after %v", second.UpdatedAt, first.UpdatedAt)
	}
}

func TestMarkerUpdate_EmptyPatchIsNoop(t *testing.T) {
	db := newTestDB(t)
	db.now = fakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), time.Second)
	r := db.Markers()
	m := createTestMarker(t, r, "u1", "Cafe", 55.75, 37.61)

	got, err := r.Update(context.Background(), m.ID, "u1", model.MarkerPatch{})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !got.UpdatedAt.Equal(m.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want unchanged %v", got.UpdatedAt, m.UpdatedAt)
	}
	if got.Title != "Cafe" {
		t.Errorf("Title = %q, want Cafe", got.Title)
	}
}

func TestMarkerUpdate_ClearDescription(t *testing.T) {
	r := newTestDB(t).Markers()
	m := &model.Marker{Title: "Cafe", Description: strPtr("old"), Latitude: 1, Longitude: 1, OwnerID: "u1"}
	if err := r.Create(context.Background(), m); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := r.Update(context.Background(), m.ID, "u1", model.MarkerPatch{Description: strPtr("")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Description != nil {
		t.Errorf("Description = %q, want nil", *updated.Description)
	}
}

func TestMarkerUpdate_ForeignIsNotFoundAndUnchanged(t *testing.T) {
	r := newTestDB(t).Markers()
	m := createTestMarker(t, r, "u1", "Cafe", 55.75, 37.61)

	_, err := r.Update(context.Background(), m.ID, "u2", model.MarkerPatch{Title: strPtr("Hacked")})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}

	found, err := r.GetByID(context.Background(), m.ID, "u1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Title != "Cafe" {
		t.Errorf("Title = %q, foreign update must not apply", found.Title)
	}
	if !found.UpdatedAt.Equal(m.UpdatedAt) {
		t.Errorf("UpdatedAt changed by a foreign update")
	}
}

func TestMarkerUpdate_RejectsBlankTitle(t *testing.T) {
	r := newTestDB(t).Markers()
	m := createTestMarker(t, r, "u1", "Cafe", 55.75, 37.61)

	_, err := r.Update(context.Background(), m.ID, "u1", model.MarkerPatch{Title: strPtr("  ")})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("Update() error = %v, want ErrValidation", err)
	}
}

func TestMarkerUpdate_Coordinates(t *testing.T) {
	r := newTestDB(t).Markers()
	m := createTestMarker(t, r, "u1", "Cafe", 55.75, 37.61)

	updated, err := r.Update(context.Background(), m.ID, "u1", model.MarkerPatch{
		Latitude:  floatPtr(0),
		Longitude: floatPtr(-0.1276),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Latitude != 0 || updated.Longitude != -0.1276 {
		t.Errorf("coordinates = %v,%v, want 0,-0.1276", updated.Latitude, updated.Longitude)
	}
}

// TestMarkerUpdate_ConcurrentOnFile runs many read-modify-write updates of
// one marker at once against a real database file, where the pool holds
// several connections. Every update must commit; none may surface
// SQLITE_BUSY to the caller.
func TestMarkerUpdate_ConcurrentOnFile(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "markers.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	r := db.Markers()
	m := createTestMarker(t, r, "u1", "Cafe", 0, 0)

	const workers = 40
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
		stamps   = make(map[int64]bool)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lat := float64(i)
			updated, err := r.Update(context.Background(), m.ID, "u1", model.MarkerPatch{Latitude: &lat})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			stamps[updated.UpdatedAt.UnixNano()] = true
		}(i)
	}
	wg.Wait()

	if len(failures) > 0 {
		t.Fatalf("%d/%d updates failed, first: %v", len(failures), workers, failures[0])
	}
	// Serialized writers each bump updatedAt past the previous value.
	if len(stamps) != workers {
		t.Errorf("got %d distinct updatedAt values, want %d", len(stamps), workers)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"data/markers.db", "data/markers.db?"},
		{"file:markers.db?mode=rwc", "file:markers.db?mode=rwc&"},
	}
	for _, tt := range tests {
		got := dsn(tt.path)
		if !strings.HasPrefix(got, tt.want) {
			t.Errorf("dsn(%q) = %q, want prefix %q", tt.path, got, tt.want)
		}
		if !strings.Contains(got, "_txlock=immediate") {
			t.Errorf("dsn(%q) = %q, want immediate write transactions", tt.path, got)
		}
	}
}

// =========================================================================
// DELETE TESTS
// =========================================================================

func TestMarkerDelete(t *testing.T) {
	r := newTestDB(t).Markers()
	m := createTestMarker(t, r, "u1", "Cafe", 55.75, 37.61)

	removed, err := r.Delete(context.Background(), m.ID, "u1")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !removed {
		t.Error("Delete() = false, want true")
	}

	_, err = r.GetByID(context.Background(), m.ID, "u1")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}

	removed, err = r.Delete(context.Background(), m.ID, "u1")
	if err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if removed {
		t.Error("second Delete() = true, want false")
	}
}

func TestMarkerDelete_ForeignKeepsRecord(t *testing.T) {
	r := newTestDB(t).Markers()
	m := createTestMarker(t, r, "u1", "Cafe", 55.75, 37.61)

	removed, err := r.Delete(context.Background(), m.ID, "u2")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if removed {
		t.Error("Delete() by non-owner = true, want false")
	}

	if _, err := r.GetByID(context.Background(), m.ID, "u1"); err != nil {
		t.Errorf("owner's marker should still exist: %v", err)
	}
}

// =========================================================================
// SCENARIO
// =========================================================================

// TestCafeScenario walks one record through two users: only the creator
// can see, change or remove it.
func TestCafeScenario(t *testing.T) {
	ctx := context.Background()
	r := newTestDB(t).Markers()

	cafe := createTestMarker(t, r, "u1", "Cafe", 55.75, 37.61)

	u1List, err := r.ListByOwner(ctx, "u1")
	if err != nil || len(u1List) != 1 || u1List[0].ID != cafe.ID {
		t.Fatalf("u1 list = %v, %v; want [Cafe]", u1List, err)
	}

	u2List, err := r.ListByOwner(ctx, "u2")
	if err != nil || len(u2List) != 0 {
		t.Fatalf("u2 list = %v, %v; want []", u2List, err)
	}

	if _, err := r.Update(ctx, cafe.ID, "u2", model.MarkerPatch{Title: strPtr("X")}); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("u2 update error = %v, want ErrNotFound", err)
	}
	if removed, _ := r.Delete(ctx, cafe.ID, "u2"); removed {
		t.Error("u2 delete should not remove u1's marker")
	}

	found, err := r.GetByID(ctx, cafe.ID, "u1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Title != "Cafe" {
		t.Errorf("Title = %q, want Cafe", found.Title)
	}
}

func TestNextUpdatedAt(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := nextUpdatedAt(base, base.Add(time.Second)); !got.Equal(base.Add(time.Second)) {
		t.Errorf("clock ahead: got %v, want now", got)
	}
	if got := nextUpdatedAt(base, base); !got.Equal(base.Add(time.Microsecond)) {
		t.Errorf("clock equal: got %v, want prev+1µs", got)
	}
	if got := nextUpdatedAt(base, base.Add(-time.Hour)); !got.Equal(base.Add(time.Microsecond)) {
		t.Errorf("clock behind: got %v, want prev+1µs", got)
	}
}
