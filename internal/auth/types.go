package auth

import (
	"context"
	"errors"

	"Woe-Notify/pkg/plugin"
)

// Common errors returned by the authentication subsystem.
var (
	ErrMissingToken     = errors.New("missing client token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSubjectRevoked   = errors.New("subject is disabled")
)

// UserStore reads the account flags behind a token. Implementations must be
// safe for concurrent use.
type UserStore interface {
	User(ctx context.Context, userID int64) (plugin.User, error)
}

// UserWriter is implemented by stores that can upsert the accounts named in
// the static token table.
type UserWriter interface {
	EnsureUser(ctx context.Context, user plugin.User) error
}

// Token maps one client token to the account it authenticates.
type Token struct {
	Token    string
	UserID   int64
	Name     string
	Admin    bool
	Disabled bool
}

// Subject is the authenticated account passed to request handlers via
// context.
type Subject struct {
	ID    int64
	Name  string
	Admin bool
}

// User converts the subject into the account flags used by plugin services.
func (s *Subject) User() plugin.User {
	if s == nil {
		return plugin.User{}
	}
	return plugin.User{ID: s.ID, Name: s.Name, Admin: s.Admin}
}

// Authorize ensures the subject is present and, when admin is set, holds the
// admin flag.
func (s *Subject) Authorize(admin bool) error {
	if s == nil {
		return ErrInvalidToken
	}
	if admin && !s.Admin {
		return ErrPermissionDenied
	}
	return nil
}
