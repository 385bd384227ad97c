// Package sqlstore persists plugin configuration rows, permission grants and
// execution logs through database/sql. MySQL and SQLite are supported; both
// share the same queries and differ only in connection tuning, the
// insert-ignore spelling and the embedded migration set.
package sqlstore
