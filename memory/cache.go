package memory

import (
	"sync"
	"time"

	"github.com/hupe1980/recordflow/core"
)

type cacheEntry struct {
	wm        *core.WorkingMemory
	expiresAt time.Time
}

// TTLCache is the process-local hot tier for working memory. Entries are
// evicted lazily on read once their TTL passes. Safe for concurrent access.
type TTLCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewTTLCache constructs an empty cache.
func NewTTLCache() *TTLCache {
	return &TTLCache{entries: make(map[string]cacheEntry)}
}

// Get returns a clone of the cached working memory, dropping expired entries.
func (c *TTLCache) Get(conversationID string) (*core.WorkingMemory, bool) {
	c.mu.RLock()
	entry, ok := c.entries[conversationID]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.Delete(conversationID)
		return nil, false
	}
	return entry.wm.Clone(), true
}

// Set stores a clone of wm for at most ttl.
func (c *TTLCache) Set(wm *core.WorkingMemory, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[wm.ConversationID] = cacheEntry{wm: wm.Clone(), expiresAt: time.Now().Add(ttl)}
}

// Delete drops the entry for a conversation.
func (c *TTLCache) Delete(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, conversationID)
}
