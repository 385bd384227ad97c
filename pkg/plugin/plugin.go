package plugin

import (
	"context"
	"log/slog"
	"time"
)

// ExecutablePlugin is an instantiated plugin owned by the manager cache.
// Event handlers are optional and expressed through the hook interfaces below.
type ExecutablePlugin interface {
	// ID returns the id of the configuration row the instance was built from.
	ID() int64
	// Name returns the display name of the configuration row.
	Name() string
	// Capabilities lists the behaviours the implementation provides.
	Capabilities() []Capability
	// Init hands the parsed configuration to the instance. It is called once
	// before any hook.
	Init(opts InitOptions) error
}

// InitOptions carries the parsed configuration block. Config is nil when the
// row has no configuration text.
type InitOptions struct {
	Config map[string]any
}

// MessageCreateHandler is implemented by plugins reacting to message.create.
type MessageCreateHandler interface {
	OnMessageCreate(ctx context.Context, pctx Context) error
}

// MessageDeleteHandler is implemented by plugins reacting to message.delete.
type MessageDeleteHandler interface {
	OnMessageDelete(ctx context.Context, pctx Context) error
}

// ApplicationCreateHandler is implemented by plugins reacting to application.create.
type ApplicationCreateHandler interface {
	OnApplicationCreate(ctx context.Context, pctx Context) error
}

// ClientCreateHandler is implemented by plugins reacting to client.create.
type ClientCreateHandler interface {
	OnClientCreate(ctx context.Context, pctx Context) error
}

// DisplayRenderer is implemented by plugins offering read-side rendering.
type DisplayRenderer interface {
	RenderDisplay(ctx context.Context, pctx Context) (string, error)
}

// ConfigExampler exposes a sample configuration shown to operators.
type ConfigExampler interface {
	ConfigExample() string
}

// HookFunc is a bound event handler.
type HookFunc func(ctx context.Context, pctx Context) error

// HandlerFor returns the handler p implements for event, or nil when p does
// not react to it.
func HandlerFor(p ExecutablePlugin, event Event) HookFunc {
	switch event {
	case EventMessageCreate:
		if h, ok := p.(MessageCreateHandler); ok {
			return h.OnMessageCreate
		}
	case EventMessageDelete:
		if h, ok := p.(MessageDeleteHandler); ok {
			return h.OnMessageDelete
		}
	case EventApplicationCreate:
		if h, ok := p.(ApplicationCreateHandler); ok {
			return h.OnApplicationCreate
		}
	case EventClientCreate:
		if h, ok := p.(ClientCreateHandler); ok {
			return h.OnClientCreate
		}
	}
	return nil
}

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithLogger overrides the logger used for swallowed failures.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces the time source used for durations and log timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithObserver registers a metrics sink for executions and cache lookups.
func WithObserver(observer Observer) Option {
	return func(m *Manager) {
		if observer != nil {
			m.observer = observer
		}
	}
}

// WithInvalidationPublisher forwards every Invalidate call to other instances.
func WithInvalidationPublisher(publisher InvalidationPublisher) Option {
	return func(m *Manager) {
		if publisher != nil {
			m.publisher = publisher
		}
	}
}

// Observer receives engine measurements. Implementations must be safe for
// concurrent use.
type Observer interface {
	PluginExecuted(event Event, status Status, duration time.Duration)
	CacheLookup(hit bool)
	InitFailed(modulePath string)
}

// InvalidationPublisher announces a dropped cache entry to other instances.
type InvalidationPublisher interface {
	PublishInvalidation(ctx context.Context, userID int64) error
}

type noopObserver struct{}

func (noopObserver) PluginExecuted(Event, Status, time.Duration) {}
func (noopObserver) CacheLookup(bool)                            {}
func (noopObserver) InitFailed(string)                           {}
