// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered user account.
//
// Accounts come from two places: a local login with a bcrypt password (created
// by the admin seed or `mapctl user create`), or GitHub OAuth. A GitHub account
// has GitHubID set and may have no password at all.
//
// NULLABLE GITHUB ID:
// Local accounts have no GitHub identity. A nil pointer is stored as NULL, and
// the UNIQUE constraint on github_id ignores NULLs, so many local users can
// coexist while each GitHub account still maps to exactly one row.
//
// PasswordHash carries the `json:"-"` tag so it can never leak into an API response.
type User struct {
	ID           string    `json:"id"`
	Login        string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	GitHubID     *int64    `json:"githubId,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
