// Package system models the governance circuit breaker the engine consults
// before every mutating operation. Policy for when the state changes lives
// outside the core; this package only answers what is allowed right now.
package system

import (
	"fmt"
	"sync"
)

// State is the governance circuit-breaker position.
type State int

const (
	// Unrestricted is normal operation.
	Unrestricted State = iota

	// TrainingWheels is the initial guarded period; operations run but
	// governance retains intervention rights. Mints and burns both work.
	TrainingWheels

	// Emergency halts mints while still letting holders exit.
	Emergency

	// Shutdown halts everything.
	Shutdown
)

var stateNames = map[State]string{
	Unrestricted:   "unrestricted",
	TrainingWheels: "training_wheels",
	Emergency:      "emergency",
	Shutdown:       "shutdown",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState maps a persisted status string back to a State.
func ParseState(name string) (State, error) {
	for state, n := range stateNames {
		if n == name {
			return state, nil
		}
	}
	return Unrestricted, fmt.Errorf("unknown system state %q", name)
}

// AllowsMints reports whether deposits may open new positions.
func (s State) AllowsMints() bool {
	return s == Unrestricted || s == TrainingWheels
}

// AllowsBurns reports whether withdrawals may close positions.
func (s State) AllowsBurns() bool {
	return s != Shutdown
}

// Machine holds the current state. Transitions come from governance
// tooling; the engine only reads.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// NewMachine starts in the given state.
func NewMachine(initial State) *Machine {
	return &Machine{state: initial}
}

// Status returns the current state.
func (m *Machine) Status() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SetStatus moves the machine to a new state.
func (m *Machine) SetStatus(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}
