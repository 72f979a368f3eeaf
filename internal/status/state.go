package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/remotememo/internal/bus"
)

// Indicator is the ledger sync signal surfaced to callers.
type Indicator string

const (
	Idle    Indicator = "idle"
	Syncing Indicator = "syncing"
	OK      Indicator = "ok"
)

// validTransitions lists the allowed indicator moves. Setting the current
// value again is always accepted and publishes nothing.
var validTransitions = map[Indicator][]Indicator{
	Idle:    {Syncing, OK},
	Syncing: {OK, Idle},
	OK:      {Syncing, Idle},
}

// Machine tracks the ledger sync indicator.
type Machine struct {
	mu      sync.RWMutex
	current Indicator
	bus     *bus.Bus
}

// NewMachine creates a machine starting at Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current indicator.
func (m *Machine) Current() Indicator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new indicator value. Returns error if the move is invalid.
func (m *Machine) Transition(to Indicator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindSyncStatusChanged, IndicatorChange{From: from, To: to})
	return nil
}

// IndicatorChange is the payload for indicator change events.
type IndicatorChange struct {
	From Indicator
	To   Indicator
}
