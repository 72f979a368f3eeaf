package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/remotememo/internal/transport"
)

type mailbox struct {
	items    []transport.Envelope
	notify   chan struct{}
	lastUsed time.Time
}

// Mailboxes holds the per-device inbound queues. Each queue keeps at most
// size envelopes; when full the oldest is dropped. At most maxBoxes queues
// exist; the least recently used one is discarded to make room.
type Mailboxes struct {
	mu       sync.Mutex
	size     int
	maxBoxes int
	boxes    map[string]*mailbox
	dropped  atomic.Int64
}

// NewMailboxes creates the queue set.
func NewMailboxes(size, maxBoxes int) *Mailboxes {
	return &Mailboxes{
		size:     size,
		maxBoxes: maxBoxes,
		boxes:    make(map[string]*mailbox),
	}
}

func (m *Mailboxes) box(id string) *mailbox {
	b, ok := m.boxes[id]
	if !ok {
		if m.maxBoxes > 0 && len(m.boxes) >= m.maxBoxes {
			m.evictOldest()
		}
		b = &mailbox{notify: make(chan struct{})}
		m.boxes[id] = b
	}
	b.lastUsed = time.Now()
	return b
}

func (m *Mailboxes) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, b := range m.boxes {
		if oldestID == "" || b.lastUsed.Before(oldest) {
			oldestID, oldest = id, b.lastUsed
		}
	}
	m.remove(oldestID)
}

func (m *Mailboxes) remove(id string) {
	if b, ok := m.boxes[id]; ok {
		close(b.notify)
		delete(m.boxes, id)
	}
}

// Push queues env for deviceID and wakes any waiting subscriber. Returns
// true when an older envelope had to be dropped.
func (m *Mailboxes) Push(deviceID string, env transport.Envelope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.box(deviceID)
	dropped := false
	if len(b.items) >= m.size {
		b.items = b.items[1:]
		m.dropped.Add(1)
		dropped = true
	}
	b.items = append(b.items, env)
	close(b.notify)
	b.notify = make(chan struct{})
	return dropped
}

// Pop returns the next envelope for deviceID, waiting until one arrives or
// ctx is done. A nil envelope means the wait ended empty.
func (m *Mailboxes) Pop(ctx context.Context, deviceID string) *transport.Envelope {
	for {
		m.mu.Lock()
		b := m.box(deviceID)
		if len(b.items) > 0 {
			env := b.items[0]
			b.items = b.items[1:]
			m.mu.Unlock()
			return &env
		}
		wait := b.notify
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-wait:
		}
	}
}

// Remove discards deviceID's queue. Waiters wake up and see an empty box.
func (m *Mailboxes) Remove(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(deviceID)
}

// Len returns the queued envelope count for deviceID.
func (m *Mailboxes) Len(deviceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.boxes[deviceID]; ok {
		return len(b.items)
	}
	return 0
}

// Dropped returns how many envelopes were discarded for overflow.
func (m *Mailboxes) Dropped() int64 {
	return m.dropped.Load()
}
