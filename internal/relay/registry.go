package relay

import (
	"container/list"
	"sync"
	"time"

	"github.com/matheus3301/remotememo/internal/store"
	"github.com/matheus3301/remotememo/internal/trust"
)

type device struct {
	id       string
	lastSeen time.Time
	statuses map[string]string
	block    *trust.Block
	elem     *list.Element
}

// Registry is the relay's PeerStatusRegistry: the last reported status map
// and latest block of each device, bounded by count and by idle time.
// The counterpart of a device is the most recently seen other live device.
type Registry struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	now     func() time.Time
	devices map[string]*device
	order   *list.List // front = most recently seen
	onEvict func(id string)
}

// NewRegistry creates a registry holding at most max devices, each
// forgotten after ttl without contact.
func NewRegistry(max int, ttl time.Duration) *Registry {
	return &Registry{
		max:     max,
		ttl:     ttl,
		now:     time.Now,
		devices: make(map[string]*device),
		order:   list.New(),
	}
}

// OnEvict registers a callback run (under the registry lock) for every
// device dropped by capacity or TTL.
func (r *Registry) OnEvict(fn func(id string)) {
	r.mu.Lock()
	r.onEvict = fn
	r.mu.Unlock()
}

// Touch records contact from id.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen(id)
}

// ReportStatuses stores the caller's known statuses as reported and returns,
// for every id the counterpart also reported with a different status, the
// counterpart's status. peerFound is false when no live counterpart exists.
func (r *Registry) ReportStatuses(id string, known []store.StatusEntry) (updates []store.StatusEntry, peerFound bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.seen(id)
	d.statuses = make(map[string]string, len(known))
	for _, e := range known {
		d.statuses[e.ID] = e.Status
	}

	p := r.counterpart(id)
	if p == nil {
		return nil, false
	}
	updates = []store.StatusEntry{}
	for _, e := range known {
		ps, ok := p.statuses[e.ID]
		if !ok || ps == e.Status {
			continue
		}
		updates = append(updates, store.StatusEntry{ID: e.ID, Status: ps})
	}
	return updates, true
}

// ExchangeBlock stores the caller's latest block and returns the
// counterpart's, or nil when there is none yet.
func (r *Registry) ExchangeBlock(id string, b *trust.Block) *trust.Block {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.seen(id)
	if b != nil {
		cp := *b
		d.block = &cp
	}
	p := r.counterpart(id)
	if p == nil || p.block == nil {
		return nil
	}
	cp := *p.block
	return &cp
}

// Counterpart returns the most recently seen live device other than id.
func (r *Registry) Counterpart(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire()
	if p := r.counterpart(id); p != nil {
		return p.id, true
	}
	return "", false
}

// Others returns every live device except id, most recent first.
func (r *Registry) Others(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire()
	var out []string
	for e := r.order.Front(); e != nil; e = e.Next() {
		if d := e.Value.(*device); d.id != id {
			out = append(out, d.id)
		}
	}
	return out
}

// Len returns the number of tracked devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire()
	return len(r.devices)
}

func (r *Registry) seen(id string) *device {
	r.expire()
	d, ok := r.devices[id]
	if !ok {
		d = &device{id: id, statuses: map[string]string{}}
		d.elem = r.order.PushFront(d)
		r.devices[id] = d
		for r.max > 0 && len(r.devices) > r.max {
			r.drop(r.order.Back().Value.(*device))
		}
	} else {
		r.order.MoveToFront(d.elem)
	}
	d.lastSeen = r.now()
	return d
}

func (r *Registry) counterpart(id string) *device {
	cutoff := r.now().Add(-r.ttl)
	for e := r.order.Front(); e != nil; e = e.Next() {
		d := e.Value.(*device)
		if d.id != id && d.lastSeen.After(cutoff) {
			return d
		}
	}
	return nil
}

func (r *Registry) expire() {
	cutoff := r.now().Add(-r.ttl)
	for e := r.order.Back(); e != nil; {
		d := e.Value.(*device)
		if d.lastSeen.After(cutoff) {
			break
		}
		e = e.Prev()
		r.drop(d)
	}
}

func (r *Registry) drop(d *device) {
	r.order.Remove(d.elem)
	delete(r.devices, d.id)
	if r.onEvict != nil {
		r.onEvict(d.id)
	}
}
