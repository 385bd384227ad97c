// Package config loads the woed service configuration from a YAML file,
// fills in defaults, resolves relative paths against the file's directory and
// applies WOE_* environment overrides.
package config
