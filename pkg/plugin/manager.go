package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Manager loads, caches and permission-filters per-user plugin sets and
// dispatches domain events to them.
//
// A user moves through not-loaded -> loaded -> invalidated -> not-loaded.
// Loading is lazy; Invalidate only drops the cached entry.
type Manager struct {
	registry  *Registry
	store     Store
	cache     *userCache
	logger    *slog.Logger
	observer  Observer
	publisher InvalidationPublisher
	now       func() time.Time
}

// NewManager constructs a manager resolving modules through registry and
// reading configuration from store.
func NewManager(registry *Registry, store Store, opts ...Option) (*Manager, error) {
	if registry == nil {
		return nil, errors.New("plugin registry cannot be nil")
	}
	if store == nil {
		return nil, errors.New("plugin store cannot be nil")
	}
	m := &Manager{
		registry: registry,
		store:    store,
		cache:    newUserCache(),
		logger:   slog.Default(),
		observer: noopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// LoadForUser returns the user's loaded plugin instances, building and caching
// them on a miss. Disabled or unknown users get an empty list that is never
// cached. Storage failures also yield an empty, uncached list.
func (m *Manager) LoadForUser(ctx context.Context, userID int64) []ExecutablePlugin {
	logger := m.logger.With(slog.Int64("user_id", userID))

	user, err := m.store.User(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			logger.Warn("load plugins: read user failed", slog.Any("error", err))
		}
		return nil
	}
	if user.Disabled {
		return nil
	}

	if cached, ok := m.cache.get(userID); ok {
		m.observer.CacheLookup(true)
		return cached
	}
	m.observer.CacheLookup(false)
	epoch := m.cache.epoch(userID)

	policy, err := PolicyFor(user, func() ([]string, error) {
		return m.store.PermittedModules(ctx, userID)
	})
	if err != nil {
		logger.Warn("load plugins: read permissions failed", slog.Any("error", err))
		return nil
	}

	rows, err := m.store.EnabledConfigs(ctx, userID)
	if err != nil {
		logger.Warn("load plugins: read configs failed", slog.Any("error", err))
		return nil
	}

	plugins := make([]ExecutablePlugin, 0, len(rows))
	for _, row := range rows {
		if !policy.Allows(row.ModulePath) {
			continue
		}
		p := m.registry.Resolve(row.ModulePath, row.ID, row.Name)
		if p == nil {
			logger.Debug("load plugins: unknown module skipped",
				slog.Int64("plugin_id", row.ID), slog.String("module", row.ModulePath))
			continue
		}
		if err := initPlugin(p, InitOptions{Config: ParseConfig(row.ConfigYAML)}); err != nil {
			m.observer.InitFailed(row.ModulePath)
			logger.Warn("load plugins: init failed, plugin skipped",
				slog.Int64("plugin_id", row.ID), slog.String("module", row.ModulePath), slog.Any("error", err))
			continue
		}
		plugins = append(plugins, p)
	}

	if !m.cache.store(userID, epoch, plugins) {
		logger.Debug("load plugins: invalidated during load, result not cached")
	}
	return plugins
}

// Invalidate drops the cached plugin set of userID and, when a publisher is
// configured, announces the drop to other instances. It never reloads.
func (m *Manager) Invalidate(userID int64) {
	m.cache.drop(userID)
	if m.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.publisher.PublishInvalidation(ctx, userID); err != nil {
		m.logger.Warn("publish plugin invalidation failed",
			slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// InvalidateLocal drops the cached plugin set of userID without announcing it.
// Invalidation subscribers call it for drops received from other instances.
func (m *Manager) InvalidateLocal(userID int64) {
	m.cache.drop(userID)
}

// Cached reports how many users currently have a loaded plugin set.
func (m *Manager) Cached() int {
	return m.cache.len()
}

// Emit runs the handlers registered for event on every loaded plugin of
// userID, one after another in load order, and records one execution log per
// handler that ran. Emit never panics and reports nothing to the caller:
// handler failures become error logs and log write failures are dropped.
func (m *Manager) Emit(ctx context.Context, userID int64, event Event, pctx Context) {
	logger := m.logger.With(
		slog.String("emit_id", uuid.NewString()),
		slog.Int64("user_id", userID),
		slog.String("event", string(event)),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("emit aborted by panic", slog.Any("panic", r))
		}
	}()

	for _, p := range m.LoadForUser(ctx, userID) {
		handler := HandlerFor(p, event)
		if handler == nil {
			continue
		}

		start := m.now()
		err := invokeHook(ctx, handler, pctx)
		elapsed := m.now().Sub(start)

		entry := PluginLog{
			PluginID:   p.ID(),
			UserID:     userID,
			Event:      event,
			Status:     StatusOK,
			DurationMs: elapsed.Milliseconds(),
			CreatedAt:  m.now(),
		}
		if err != nil {
			entry.Status = StatusError
			entry.Error = err.Error()
			if entry.Error == "" {
				entry.Error = "unknown"
			}
			logger.Warn("plugin handler failed",
				slog.Int64("plugin_id", p.ID()), slog.String("plugin", p.Name()), slog.Any("error", err))
		}
		m.observer.PluginExecuted(event, entry.Status, elapsed)
		m.recordLog(ctx, logger, entry)
	}
}

func (m *Manager) recordLog(ctx context.Context, logger *slog.Logger, entry PluginLog) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("write plugin log panicked", slog.Int64("plugin_id", entry.PluginID), slog.Any("panic", r))
		}
	}()
	if err := m.store.InsertLog(ctx, entry); err != nil {
		logger.Warn("write plugin log failed", slog.Int64("plugin_id", entry.PluginID), slog.Any("error", err))
	}
}

func invokeHook(ctx context.Context, handler HookFunc, pctx Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	return handler(ctx, pctx)
}

func initPlugin(p ExecutablePlugin, opts InitOptions) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin init panicked: %v", r)
		}
	}()
	return p.Init(opts)
}
