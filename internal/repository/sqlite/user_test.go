package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/map-markers/internal/apperror"
	"github.com/sakif/map-markers/internal/model"
)

func int64Ptr(v int64) *int64 { return &v }

// createTestUser is a test helper that creates a local user and fails the test if it errors.
func createTestUser(t *testing.T, u *UserDB, login string) *model.User {
	t.Helper()
	user := &model.User{
		Login:        login,
		Email:        login + "@example.com",
		PasswordHash: "$2a$04$hash",
	}
	if err := u.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestUserCreate(t *testing.T) {
	u := newTestDB(t).Users()

	user := &model.User{Login: "admin", PasswordHash: "$2a$04$hash"}
	if err := u.Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if user.ID == "" {
		t.Error("Create() did not set user.ID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("Create() did not set user.CreatedAt")
	}
}

func TestUserCreate_DuplicateLogin(t *testing.T) {
	u := newTestDB(t).Users()
	createTestUser(t, u, "admin")

	err := u.Create(context.Background(), &model.User{Login: "admin"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Create() error = %v, want ErrConflict", err)
	}
}

func TestUserCreate_ManyLocalUsersWithoutGitHubID(t *testing.T) {
	u := newTestDB(t).Users()

	// github_id is NULL for both; NULLs never collide under UNIQUE.
	createTestUser(t, u, "alice")
	createTestUser(t, u, "bob")
}

// =========================================================================
// LOOKUP TESTS
// =========================================================================

func TestUserGetByID(t *testing.T) {
	u := newTestDB(t).Users()
	created := createTestUser(t, u, "getbyid_user")

	found, err := u.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Login != "getbyid_user" {
		t.Errorf("Login = %q, want %q", found.Login, "getbyid_user")
	}
	if found.PasswordHash != "$2a$04$hash" {
		t.Errorf("PasswordHash = %q, want stored hash", found.PasswordHash)
	}
	if found.GitHubID != nil {
		t.Errorf("GitHubID = %d, want nil", *found.GitHubID)
	}
}

func TestUserGetByID_NotFound(t *testing.T) {
	u := newTestDB(t).Users()

	_, err := u.GetByID(context.Background(), "nonexistent-id")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestUserGetByLogin(t *testing.T) {
	u := newTestDB(t).Users()
	created := createTestUser(t, u, "admin")

	found, err := u.GetByLogin(context.Background(), "admin")
	if err != nil {
		t.Fatalf("GetByLogin() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}

	_, err = u.GetByLogin(context.Background(), "nobody")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByLogin(nobody) error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// GITHUB UPSERT TESTS
// =========================================================================

func TestUserUpsertGitHub_NewUser(t *testing.T) {
	u := newTestDB(t).Users()

	user := &model.User{GitHubID: int64Ptr(55555), Login: "octocat", Email: "o@example.com"}
	if err := u.UpsertGitHub(context.Background(), user); err != nil {
		t.Fatalf("UpsertGitHub() error = %v", err)
	}
	if user.ID == "" {
		t.Error("UpsertGitHub() did not set user.ID")
	}

	found, err := u.GetByGitHubID(context.Background(), 55555)
	if err != nil {
		t.Fatalf("GetByGitHubID() error = %v", err)
	}
	if found.Login != "octocat" {
		t.Errorf("Login = %q, want octocat", found.Login)
	}
}

func TestUserUpsertGitHub_ExistingKeepsIDAndCreatedAt(t *testing.T) {
	u := newTestDB(t).Users()

	first := &model.User{GitHubID: int64Ptr(66666), Login: "original_login", Email: "old@example.com"}
	if err := u.UpsertGitHub(context.Background(), first); err != nil {
		t.Fatalf("UpsertGitHub() first: %v", err)
	}

	second := &model.User{GitHubID: int64Ptr(66666), Login: "updated_login", Email: "new@example.com"}
	if err := u.UpsertGitHub(context.Background(), second); err != nil {
		t.Fatalf("UpsertGitHub() second: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("ID changed: got %q, want %q", second.ID, first.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed: got %v, want %v", second.CreatedAt, first.CreatedAt)
	}

	found, err := u.GetByGitHubID(context.Background(), 66666)
	if err != nil {
		t.Fatalf("GetByGitHubID() error = %v", err)
	}
	if found.Login != "updated_login" || found.Email != "new@example.com" {
		t.Errorf("profile = %q/%q, want updated_login/new@example.com", found.Login, found.Email)
	}
}

func TestUserUpsertGitHub_LoginTakenByLocalUser(t *testing.T) {
	u := newTestDB(t).Users()
	local := createTestUser(t, u, "admin")

	gh := &model.User{GitHubID: int64Ptr(42), Login: "admin"}
	if err := u.UpsertGitHub(context.Background(), gh); err != nil {
		t.Fatalf("UpsertGitHub() error = %v", err)
	}

	if gh.ID == local.ID {
		t.Fatal("GitHub account must not take over the local account")
	}
	if gh.Login != "admin-gh42" {
		t.Errorf("Login = %q, want admin-gh42", gh.Login)
	}
}

func TestUserUpsertGitHub_RequiresGitHubID(t *testing.T) {
	u := newTestDB(t).Users()

	err := u.UpsertGitHub(context.Background(), &model.User{Login: "x"})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("UpsertGitHub() error = %v, want ErrValidation", err)
	}
}

func TestMarkersTableHasNoUserForeignKey(t *testing.T) {
	db := newTestDB(t)

	// Any opaque owner id is accepted, even one with no users row.
	m := &model.Marker{Title: "orphan", OwnerID: "external-session-42"}
	if err := db.Markers().Create(context.Background(), m); err != nil {
		t.Fatalf("Create() with unknown owner: %v", err)
	}

	var owner string
	row := db.conn.QueryRowContext(context.Background(),
		`SELECT user_id FROM markers WHERE id = ?`, m.ID)
	if err := row.Scan(&owner); err != nil {
		t.Fatalf("reading user_id: %v", err)
	}
	if owner != "external-session-42" {
		t.Errorf("user_id = %q, want external-session-42", owner)
	}
}
