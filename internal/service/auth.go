package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/map-markers/internal/apperror"
	"github.com/sakif/map-markers/internal/auth"
	"github.com/sakif/map-markers/internal/model"
	"github.com/sakif/map-markers/internal/repository"
	"github.com/sakif/map-markers/internal/validation"
)

// AuthService is the business logic layer for sign-in and accounts.
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt)
//
// It never touches cookies or HTTP requests. The handler turns an AuthResult
// into a Set-Cookie header.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// AuthResult bundles the signed-in user and the issued JWT.
type AuthResult struct {
	User  *model.User
	Token string
}

// Credentials is the body of POST /api/auth/login and the input of Register.
type Credentials struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

var errInvalidCredentials = apperror.Unauthenticated("invalid username or password")

// Login checks a username/password pair and issues a session token.
//
// TIMING:
// An unknown username still runs one bcrypt comparison (VerifyDummy), so the
// response time does not reveal which usernames exist. Both failure paths
// return the same message.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	creds := Credentials{Username: strings.TrimSpace(username), Password: password}
	if err := validation.Struct(creds); err != nil {
		return nil, err
	}

	user, err := s.users.GetByLogin(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.passwords.VerifyDummy(creds.Password)
			s.logger.Info("login failed", slog.String("login", creds.Username), slog.String("reason", "unknown user"))
			return nil, errInvalidCredentials
		}
		s.logger.Error("login: user lookup failed",
			slog.String("login", creds.Username),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Internal()
	}

	// GitHub-only accounts have no password and cannot sign in this way.
	if user.PasswordHash == "" {
		s.passwords.VerifyDummy(creds.Password)
		return nil, errInvalidCredentials
	}

	if err := s.passwords.Verify(user.PasswordHash, creds.Password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("login: password check failed",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
			return nil, apperror.Internal()
		}
		s.logger.Info("login failed", slog.String("login", creds.Username), slog.String("reason", "wrong password"))
		return nil, errInvalidCredentials
	}

	return s.issue(user, "password")
}

// Register creates a local account with a bcrypt-hashed password.
// A taken username is reported as apperror.ErrConflict.
func (s *AuthService) Register(ctx context.Context, username, password string) (*model.User, error) {
	creds := Credentials{Username: strings.TrimSpace(username), Password: password}
	if err := validation.Struct(creds); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(creds.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	user := &model.User{Login: creds.Username, PasswordHash: hash}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, fmt.Errorf("registering user: %w", err)
		}
		s.logger.Error("register: creating user failed",
			slog.String("login", creds.Username),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Internal()
	}

	s.logger.Info("user registered", slog.String("userID", user.ID), slog.String("login", user.Login))
	return user, nil
}

// EnsureAdmin creates the configured admin account if it does not exist yet.
// An existing account is left alone, including its password.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}

	_, err := s.users.GetByLogin(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("service/auth: looking up admin %q: %w", username, err)
	}

	if _, err := s.Register(ctx, username, password); err != nil {
		// Another instance may have seeded it between the lookup and the insert.
		if errors.Is(err, apperror.ErrConflict) {
			return nil
		}
		return fmt.Errorf("service/auth: seeding admin %q: %w", username, err)
	}

	s.logger.Warn("admin account created from configuration; change its password",
		slog.String("login", username),
	)
	return nil
}

// LoginOrRegisterGitHub upserts the GitHub account and issues a token.
//
// First login → INSERT; later logins refresh login/email/avatar in case
// they changed on GitHub. The internal ID never changes.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	githubID := ghUser.ID
	user := &model.User{
		GitHubID:  &githubID,
		Login:     ghUser.Login,
		Email:     ghUser.Email,
		AvatarURL: ghUser.AvatarURL,
	}

	if err := s.users.UpsertGitHub(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", ghUser.ID, err)
	}

	return s.issue(user, "github")
}

func (s *AuthService) issue(user *model.User, method string) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	s.logger.Info("user authenticated",
		slog.String("userID", user.ID),
		slog.String("login", user.Login),
		slog.String("method", method),
	)
	return &AuthResult{User: user, Token: token}, nil
}

// GetUserByID returns the user for the given internal ID.
// Used by the session endpoint after the middleware resolved the token.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthenticated("authentication required")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}

	return user, nil
}

// ValidateToken validates a JWT string and returns the userID it encodes.
func (s *AuthService) ValidateToken(tokenStr string) (string, error) {
	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", err)
	}
	return userID, nil
}

// SessionTTL is the lifetime of issued tokens, for the cookie max-age.
func (s *AuthService) SessionTTL() time.Duration {
	return s.tokens.TTL()
}
