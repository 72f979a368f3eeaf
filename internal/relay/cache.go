package relay

import (
	"container/list"
	"sync"
	"time"

	"github.com/matheus3301/remotememo/internal/store"
)

type cached struct {
	msg    store.Message
	stored time.Time
	elem   *list.Element
}

// MessageCache keeps recently relayed messages for GET /message/:id.
type MessageCache struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*cached
	order   *list.List // front = most recently stored
}

// NewMessageCache creates a cache of at most max messages kept for ttl.
func NewMessageCache(max int, ttl time.Duration) *MessageCache {
	return &MessageCache{
		max:     max,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*cached),
		order:   list.New(),
	}
}

// Put stores or replaces m.
func (c *MessageCache) Put(m store.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[m.ID]; ok {
		e.msg = m
		e.stored = c.now()
		c.order.MoveToFront(e.elem)
		return
	}
	e := &cached{msg: m, stored: c.now()}
	e.elem = c.order.PushFront(m.ID)
	c.entries[m.ID] = e
	for c.max > 0 && len(c.entries) > c.max {
		c.evict(c.order.Back().Value.(string))
	}
}

// Get returns the cached message with id, if present and not expired.
func (c *MessageCache) Get(id string) (store.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return store.Message{}, false
	}
	if c.ttl > 0 && c.now().Sub(e.stored) > c.ttl {
		c.evict(id)
		return store.Message{}, false
	}
	return e.msg, true
}

// Len returns the number of cached messages, expired ones included.
func (c *MessageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MessageCache) evict(id string) {
	if e, ok := c.entries[id]; ok {
		c.order.Remove(e.elem)
		delete(c.entries, id)
	}
}
