// Package auth resolves HTTP requests to user identities.
//
// A session is a signed JWT kept in the HttpOnly "token" cookie. Sign-in
// (password or GitHub) mints one, the middleware verifies it on every API
// call and puts the subject into the request context, and the handlers pass
// that subject down as the owner of every marker operation.
//
// Tokens are HS256 with three registered claims that matter:
//
//	{"sub":"<userID>","iss":"map-markers","exp":1718000000}
//
// Nothing is stored server-side, so logout only drops the cookie.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is written into every token and required on validation, so tokens
// minted by other services sharing the secret are rejected.
const Issuer = "map-markers"

// DefaultSessionTTL is how long a session token stays valid: one week.
const DefaultSessionTTL = 7 * 24 * time.Hour

// ErrTokenExpired is returned by Validate for a well-formed but expired token.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService issues and verifies session tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokenService creates a TokenService with the given secret and lifetime.
// A non-positive ttl falls back to DefaultSessionTTL.
//
// Use at least 32 random bytes in production, e.g.
// MAPMARKERS_AUTH_JWT_SECRET=$(openssl rand -hex 32).
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	s := &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}

	// Pinning the method list blocks "alg":"none" and RS/HS confusion; the
	// clock goes through s.now so tests can freeze it after construction.
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s, nil
}

// TTL is the lifetime of tokens produced by Generate. The cookie max-age uses it too.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a session token for userID that expires after TTL.
func (s *TokenService) Generate(userID string) (string, error) {
	return s.GenerateWithDuration(userID, s.ttl)
}

// GenerateWithDuration is Generate with an explicit lifetime.
// A negative d yields an already-expired token, which tests rely on.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: cannot issue a token without a subject")
	}

	issued := s.now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(d)),
		},
	}).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies tokenStr and returns its subject (the user ID).
// Signature, issuer, algorithm and a present, unexpired "exp" are all required.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	var c claims
	token, err := s.parser.ParseWithClaims(tokenStr, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrTokenExpired
	case err != nil:
		return "", fmt.Errorf("auth: invalid token: %w", err)
	case !token.Valid:
		return "", errors.New("auth: invalid token")
	case c.Subject == "":
		return "", errors.New("auth: token has no subject")
	}
	return c.Subject, nil
}
