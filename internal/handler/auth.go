package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/map-markers/internal/apperror"
	"github.com/sakif/map-markers/internal/auth"
	"github.com/sakif/map-markers/internal/model"
	"github.com/sakif/map-markers/internal/service"
)

const stateCookieName = "oauth_state"

// AuthService is what AuthHandler needs from the business layer.
type AuthService interface {
	Login(ctx context.Context, username, password string) (*service.AuthResult, error)
	LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*service.AuthResult, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	SessionTTL() time.Duration
}

// GitHubAuthenticator runs the OAuth code flow. *auth.GitHubProvider satisfies it.
type GitHubAuthenticator interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

// AuthHandler manages password login, the GitHub OAuth flow and the session.
//
// HANDLER RESPONSIBILITIES:
//   - HandleLogin          → check credentials, set the JWT cookie
//   - HandleLogout         → clear the JWT cookie
//   - HandleSession        → report who the cookie belongs to
//   - HandleGitHubLogin    → redirect the browser to GitHub's authorization page
//   - HandleGitHubCallback → receive the code, upsert the user, set the JWT cookie
//
// The session is stateless: "logout" deletes the client-side cookie and the
// token stays technically valid until it expires.
type AuthHandler struct {
	auth   AuthService
	github GitHubAuthenticator // nil when GitHub login is not configured
	secure bool                // Secure flag on cookies (HTTPS deployments)
	logger *slog.Logger
}

func NewAuthHandler(authSvc AuthService, github GitHubAuthenticator, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   authSvc,
		github: github,
		secure: secureCookies,
		logger: logger,
	}
}

// SessionUser is the public view of the signed-in account.
type SessionUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type loginResponse struct {
	Success bool        `json:"success"`
	User    SessionUser `json:"user"`
}

type sessionResponse struct {
	Authenticated bool         `json:"authenticated"`
	User          *SessionUser `json:"user,omitempty"`
}

func sessionUser(u *model.User) SessionUser {
	return SessionUser{ID: u.ID, Username: u.Login}
}

// HandleLogin checks a username/password pair.
//
// HTTP: POST /api/auth/login
// REQUEST BODY: {"username": "admin", "password": "..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var creds service.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.auth.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthenticated) {
			h.logger.Info("login rejected", slog.String("username", creds.Username))
		}
		writeError(w, err)
		return
	}

	auth.SetSessionCookie(w, result.Token, h.auth.SessionTTL(), h.secure)
	writeJSON(w, http.StatusOK, loginResponse{Success: true, User: sessionUser(result.User)})
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.secure)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleSession reports whether the request carries a valid session.
//
// HTTP: GET /api/auth/session
// Auth: Optional (OptionalAuth sets userID in context when the cookie is valid)
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, sessionResponse{Authenticated: false})
		return
	}

	user, err := h.auth.GetUserByID(r.Context(), userID)
	if err != nil {
		// A valid token for a deleted account is just an anonymous request.
		if errors.Is(err, apperror.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, sessionResponse{Authenticated: false})
			return
		}
		h.logger.Error("session lookup failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	u := sessionUser(user)
	writeJSON(w, http.StatusOK, sessionResponse{Authenticated: true, User: &u})
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state value goes into a short-lived HttpOnly cookie and into the
// authorization URL. HandleGitHubCallback only proceeds when both match.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, apperror.NotFound("route", r.URL.Path))
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth login flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a GitHub user profile
//  3. Upsert the user and issue a JWT
//  4. Set the cookie and redirect to the map
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, apperror.NotFound("route", r.URL.Path))
		return
	}

	// --- Step 1: Validate CSRF state ---
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// The state cookie is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	// --- Step 2: Exchange code for GitHub user profile ---
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		writeError(w, apperror.Upstream("GitHub", err))
		return
	}

	// --- Step 3: Upsert user and issue a token ---
	result, err := h.auth.LoginOrRegisterGitHub(r.Context(), ghUser)
	if err != nil {
		h.logger.Error("auth callback: login failed",
			slog.Int64("githubID", ghUser.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	// --- Step 4: Set cookie and redirect ---
	auth.SetSessionCookie(w, result.Token, h.auth.SessionTTL(), h.secure)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// UserLookup resolves a session subject to its account.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// RequireKnownUser runs after auth.RequireAuth and turns away sessions whose
// account no longer exists. A signed token outlives its user, so the
// signature alone does not prove the owner is still there.
func RequireKnownUser(users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _ := auth.UserIDFromContext(r.Context())
			if _, err := users.GetUserByID(r.Context(), userID); err != nil {
				if errors.Is(err, apperror.ErrNotFound) {
					err = apperror.Unauthenticated("valid authentication required")
				}
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
