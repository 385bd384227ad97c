// Package api exposes the plugin administration surface over HTTP: listing,
// configuration, enable/disable, display rendering, execution logs and module
// permissions, plus health and Prometheus endpoints.
package api
