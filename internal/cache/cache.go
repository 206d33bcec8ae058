// Package cache holds the process-wide map from message id to SDK message handle.
package cache

import (
	"sync"

	"github.com/neoclaw-ai/msgbridge/internal/messaging"
)

// Cache maps message ids to shared message handles.
// Gating callbacks write from SDK goroutines while commands read and delete from the channel loop.
type Cache struct {
	mu       sync.RWMutex
	messages map[string]messaging.Message
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{messages: make(map[string]messaging.Message)}
}

// Put stores msg under id, replacing any earlier entry for the same id.
func (c *Cache) Put(id string, msg messaging.Message) {
	c.mu.Lock()
	c.messages[id] = msg
	c.mu.Unlock()
}

// Get returns the message cached under id.
func (c *Cache) Get(id string) (messaging.Message, bool) {
	c.mu.RLock()
	msg, ok := c.messages[id]
	c.mu.RUnlock()
	return msg, ok
}

// Remove deletes id and reports whether it was present.
func (c *Cache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.messages[id]; !ok {
		return false
	}
	delete(c.messages, id)
	return true
}

// Values returns a point-in-time copy of the cached messages in no particular order.
func (c *Cache) Values() []messaging.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]messaging.Message, 0, len(c.messages))
	for _, msg := range c.messages {
		out = append(out, msg)
	}
	return out
}

// Len returns the number of cached messages.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
