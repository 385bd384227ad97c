// Package invalidation fans plugin cache drops out to every running instance.
// A bus publishes the id of a user whose plugin rows changed; each instance
// subscribes and drops its own cached entry. Notices carry the publishing
// instance id so an instance ignores its own echoes.
package invalidation
