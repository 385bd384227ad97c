package plugin

import "sync"

// userCache holds loaded plugin sets per user. It is process local: other
// instances only learn about changes through an InvalidationPublisher.
//
// Every drop bumps the user's epoch so a load that started before the drop
// cannot repopulate the entry with stale rows.
type userCache struct {
	mu      sync.Mutex
	entries map[int64][]ExecutablePlugin
	epochs  map[int64]uint64
}

func newUserCache() *userCache {
	return &userCache{
		entries: make(map[int64][]ExecutablePlugin),
		epochs:  make(map[int64]uint64),
	}
}

func (c *userCache) get(userID int64) ([]ExecutablePlugin, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	plugins, ok := c.entries[userID]
	return plugins, ok
}

func (c *userCache) epoch(userID int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochs[userID]
}

// store saves plugins unless the entry was dropped after epoch was read.
func (c *userCache) store(userID int64, epoch uint64, plugins []ExecutablePlugin) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochs[userID] != epoch {
		return false
	}
	c.entries[userID] = plugins
	return true
}

func (c *userCache) drop(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.epochs[userID]++
}

func (c *userCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
