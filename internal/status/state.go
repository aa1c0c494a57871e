package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kevinfeng77/imsgd/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting  State = "BOOTING"
	Idle     State = "IDLE"
	Polling  State = "POLLING"
	Degraded State = "DEGRADED"
	Error    State = "ERROR"
)

// validTransitions defines allowed state transitions. Idle and Polling are
// the two steady states of the sync loop; Degraded means polls keep failing
// but the loop is still retrying on its interval.
var validTransitions = map[State][]State{
	Booting:  {Idle, Error},
	Idle:     {Polling, Error},
	Polling:  {Idle, Degraded, Error},
	Degraded: {Polling, Idle, Error},
	Error:    {Booting},
}

// Machine tracks and enforces daemon runtime state transitions, and counts
// consecutive poll failures for external alerting.
type Machine struct {
	mu       sync.RWMutex
	current  State
	failures int
	bus      *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "status.changed",
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// RecordFailure increments the consecutive poll failure counter and returns
// the new count.
func (m *Machine) RecordFailure() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	return m.failures
}

// RecordSuccess resets the consecutive poll failure counter.
func (m *Machine) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
}

// Failures returns the current consecutive poll failure count.
func (m *Machine) Failures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
