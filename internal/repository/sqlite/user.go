package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/xid"
	"github.com/sakif/map-markers/internal/apperror"
	"github.com/sakif/map-markers/internal/model"
	"github.com/sakif/map-markers/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the SQLite implementation of repository.UserRepository.
type UserDB struct {
	db *DB
}

const userColumns = `id, login, email, avatar_url, github_id, password_hash, created_at, updated_at`

func scanUser(s rowScanner) (*model.User, error) {
	var (
		u        model.User
		githubID sql.NullInt64
	)
	if err := s.Scan(
		&u.ID, &u.Login, &u.Email, &u.AvatarURL,
		&githubID, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if githubID.Valid {
		id := githubID.Int64
		u.GitHubID = &id
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// Create inserts a new account and fills in ID and timestamps.
// A duplicate login (or GitHub ID) is reported as apperror.ErrConflict.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := u.db.timestamp()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := u.db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Login,
		user.Email,
		user.AvatarURL,
		nullableInt64(user.GitHubID),
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Login)
		}
		return fmt.Errorf("sqlite: creating user %q: %w", user.Login, err)
	}
	return nil
}

// GetByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(u.db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return user, nil
}

// GetByLogin retrieves a user by login name (used by password sign-in).
func (u *UserDB) GetByLogin(ctx context.Context, login string) (*model.User, error) {
	user, err := scanUser(u.db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE login = ?`, login,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", login)
		}
		return nil, fmt.Errorf("sqlite: getting user by login %q: %w", login, err)
	}
	return user, nil
}

// GetByGitHubID retrieves the account linked to a GitHub user ID.
func (u *UserDB) GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	user, err := scanUser(u.db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`, githubID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(githubID, 10))
		}
		return nil, fmt.Errorf("sqlite: getting user by github_id %d: %w", githubID, err)
	}
	return user, nil
}

// UpsertGitHub inserts or refreshes the account linked to user.GitHubID.
//
// An existing account KEEPS its internal ID and created_at; only the profile
// fields (login, email, avatar) are refreshed. The caller's struct is filled
// with the stored ID and timestamps either way.
//
// LOGIN COLLISIONS:
// login is UNIQUE across local and GitHub accounts. If the GitHub login is
// already taken by a different account (e.g. a local "admin"), the GitHub
// account is stored as "<login>-gh<githubID>" instead.
func (u *UserDB) UpsertGitHub(ctx context.Context, user *model.User) error {
	if user.GitHubID == nil {
		return apperror.ValidationFailed("githubId", "github id is required")
	}

	existing, err := u.GetByGitHubID(ctx, *user.GitHubID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return err
	}

	if existing == nil {
		if err := u.Create(ctx, user); err != nil {
			if !errors.Is(err, apperror.ErrConflict) {
				return err
			}
			user.Login = fallbackLogin(user.Login, *user.GitHubID)
			return u.Create(ctx, user)
		}
		return nil
	}

	user.ID = existing.ID
	user.CreatedAt = existing.CreatedAt
	user.PasswordHash = existing.PasswordHash
	user.UpdatedAt = u.db.timestamp()

	err = u.refreshProfile(ctx, user)
	if errors.Is(err, apperror.ErrConflict) {
		user.Login = fallbackLogin(user.Login, *user.GitHubID)
		err = u.refreshProfile(ctx, user)
	}
	return err
}

func (u *UserDB) refreshProfile(ctx context.Context, user *model.User) error {
	_, err := u.db.conn.ExecContext(ctx,
		`UPDATE users SET login = ?, email = ?, avatar_url = ?, updated_at = ?
		 WHERE id = ?`,
		user.Login,
		user.Email,
		user.AvatarURL,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Login)
		}
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}
	return nil
}

func fallbackLogin(login string, githubID int64) string {
	return login + "-gh" + strconv.FormatInt(githubID, 10)
}
