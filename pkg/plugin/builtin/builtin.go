// Package builtin provides the plugin implementations shipped with the relay
// and registers them with a plugin.Registry.
package builtin

import (
	"log/slog"
	"net/http"
	"time"

	"Woe-Notify/pkg/logger"
	"Woe-Notify/pkg/plugin"
)

// Options tunes the builtin implementations.
type Options struct {
	// HTTPClient performs webhook calls. Defaults to a client without a
	// global timeout; each call is bounded by its own timeoutMs.
	HTTPClient *http.Client
	// WebhookTimeout applies when a Webhooker has no timeoutMs.
	WebhookTimeout time.Duration
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.WebhookTimeout <= 0 {
		o.WebhookTimeout = DefaultWebhookTimeout
	}
	if o.Logger == nil {
		o.Logger = logger.Named("plugin.builtin")
	}
	return o
}

// Definition describes a builtin provisioned for every user.
type Definition struct {
	ModulePath   string
	Name         string
	Capabilities []plugin.Capability
}

// Definitions lists the builtins in provisioning order.
func Definitions() []Definition {
	return []Definition{
		{
			ModulePath:   WebhookerModule,
			Name:         "Webhooker",
			Capabilities: []plugin.Capability{plugin.CapabilityWebhooker, plugin.CapabilityMessenger},
		},
		{
			ModulePath:   DisplayerModule,
			Name:         "Displayer",
			Capabilities: []plugin.Capability{plugin.CapabilityDisplayer},
		},
	}
}

// Register adds every builtin factory to reg.
func Register(reg *plugin.Registry, o Options) error {
	if err := reg.Register(WebhookerModule, NewWebhookerFactory(o)); err != nil {
		return err
	}
	return reg.Register(DisplayerModule, NewDisplayer)
}
