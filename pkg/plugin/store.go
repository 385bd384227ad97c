package plugin

import (
	"context"
	"errors"
)

var (
	// ErrUserNotFound is returned by Store.User for unknown accounts.
	ErrUserNotFound = errors.New("user not found")
	// ErrConfigNotFound is returned when a configuration row does not exist
	// or belongs to another user.
	ErrConfigNotFound = errors.New("plugin config not found")
	// ErrConfigConflict is returned when a configuration row would duplicate
	// an existing name or token of the same user.
	ErrConfigConflict = errors.New("plugin config already exists")
)

// Store is the configuration and audit storage the manager reads from and
// writes execution logs to.
type Store interface {
	// User returns the account flags, or ErrUserNotFound.
	User(ctx context.Context, userID int64) (User, error)
	// PermittedModules lists the module paths granted to a non-admin user.
	PermittedModules(ctx context.Context, userID int64) ([]string, error)
	// EnabledConfigs returns the user's enabled configuration rows ordered by id.
	EnabledConfigs(ctx context.Context, userID int64) ([]PluginConfig, error)
	// InsertLog appends one execution log entry.
	InsertLog(ctx context.Context, entry PluginLog) error
}
