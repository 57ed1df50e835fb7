package fictora

import (
	"strings"
	"sync"
)

// apiKeyPrefix marks cache keys that mirror server-backed reads. Session
// recovery invalidates everything under it.
const apiKeyPrefix = "api:"

// ChatListKey is the single cache slot holding a user's chat list.
func ChatListKey(userID string) string { return apiKeyPrefix + "chats:" + userID }

// ChatKey holds one chat's metadata (title, state, counters).
func ChatKey(chatUUID string) string { return apiKeyPrefix + "chat:" + chatUUID }

// Cache is the shared read cache: many views read it, the synchronizers and
// monitors write it. Invalidation marks an entry stale so the next read
// refetches; merge inserts a known-fresh message without a round-trip.
//
// Message sequences are held apart from plain entries: they are append-only
// and deduplicated by message id, never invalidated wholesale by the
// metadata paths.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]any
	msgs    map[string][]Message
	seen    map[string]map[string]struct{}
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]any),
		msgs:    make(map[string][]Message),
		seen:    make(map[string]map[string]struct{}),
	}
}

// Put stores a fresh value under key.
func (c *Cache) Put(key string, v any) {
	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()
}

// Get returns the cached value; ok is false for absent or invalidated keys.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Invalidate drops one entry. Invalidating an absent key is a no-op, which
// makes racing invalidations from independent subscriptions safe.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidatePrefix drops every entry whose key starts with prefix.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// InvalidateAll drops every plain entry. Message sequences are kept: they
// are merge-maintained and converge via reconciliation instead.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]any)
	c.mu.Unlock()
}

// Messages returns a copy of the cached message sequence for a chat.
func (c *Cache) Messages(chatUUID string) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seq := c.msgs[chatUUID]
	out := make([]Message, len(seq))
	copy(out, seq)
	return out
}

// MergeMessage appends msg to the chat's sequence unless a message with the
// same id is already present. Applying the same event twice (once via push,
// once via a reconciliation fetch) leaves exactly one entry. The sequence
// is never reordered.
func (c *Cache) MergeMessage(chatUUID string, msg Message) bool {
	if msg.ID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.seen[chatUUID]
	if ids == nil {
		ids = make(map[string]struct{})
		c.seen[chatUUID] = ids
	}
	if _, dup := ids[msg.ID]; dup {
		return false
	}
	ids[msg.ID] = struct{}{}
	c.msgs[chatUUID] = append(c.msgs[chatUUID], msg)
	return true
}

// MergeMessages merges a batch in order, returning how many were new.
func (c *Cache) MergeMessages(chatUUID string, msgs []Message) int {
	merged := 0
	for _, m := range msgs {
		if c.MergeMessage(chatUUID, m) {
			merged++
		}
	}
	return merged
}

// DropMessages forgets a chat's sequence entirely, e.g. when the chat is
// deleted or the consumer switches users.
func (c *Cache) DropMessages(chatUUID string) {
	c.mu.Lock()
	delete(c.msgs, chatUUID)
	delete(c.seen, chatUUID)
	c.mu.Unlock()
}
