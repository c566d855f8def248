// Package lifecycle — state.go
//
// Defines the top-level lifecycle state machine for EDGELOGD.
//
// State transition graph:
//
//	IDLE ──Init──→ READY ──Start──→ RUNNING
//	  ↑              │  ↑              │
//	  └───Deinit─────┘  └────Stop──────┘
//
// Every transition passes through a transient LOCK sub-state that
// serializes concurrent lifecycle calls: Begin* moves to LOCK, the
// caller performs the work, and Commit* resolves LOCK to the success or
// rollback state.
//
// Idempotency:
//   - Init from READY and Deinit from IDLE succeed with no side effects.
//   - Start and Stop are strict; calling them from any state other than
//     READY / RUNNING respectively is a transition error.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

// State is the subsystem lifecycle state.
type State int

const (
	StateIdle State = iota
	StateReady
	StateRunning
	// StateLock is the transient sub-state held while a transition's
	// work is in flight.
	StateLock
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateLock:
		return "LOCK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ErrTransition is returned for a lifecycle call from the wrong state.
var ErrTransition = errors.New("lifecycle: invalid state transition")

// Machine is the lifecycle state holder. All transitions are gated by a
// single mutex; LOCK excludes concurrent transitions for the duration of
// the work between Begin and Commit.
type Machine struct {
	mu    sync.Mutex
	state State
}

// New returns a Machine in IDLE.
func New() *Machine {
	return &Machine{state: StateIdle}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// BeginInit starts an Init transition. run=false means Init is already
// done (READY) and the caller should return success without working.
func (m *Machine) BeginInit() (run bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateIdle:
		m.state = StateLock
		return true, nil
	case StateReady:
		return false, nil
	default:
		return false, fmt.Errorf("%w: Init from %s", ErrTransition, m.state)
	}
}

// CommitInit resolves an Init transition.
func (m *Machine) CommitInit(success bool) {
	m.resolve(success, StateReady, StateIdle)
}

// BeginDeinit starts a Deinit transition. run=false means already IDLE.
func (m *Machine) BeginDeinit() (run bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateReady:
		m.state = StateLock
		return true, nil
	case StateIdle:
		return false, nil
	default:
		return false, fmt.Errorf("%w: Deinit from %s", ErrTransition, m.state)
	}
}

// CommitDeinit resolves a Deinit transition.
func (m *Machine) CommitDeinit(success bool) {
	m.resolve(success, StateIdle, StateReady)
}

// BeginStart starts a Start transition (READY → RUNNING).
func (m *Machine) BeginStart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return fmt.Errorf("%w: Start from %s", ErrTransition, m.state)
	}
	m.state = StateLock
	return nil
}

// CommitStart resolves a Start transition; failure rolls back to READY.
func (m *Machine) CommitStart(success bool) {
	m.resolve(success, StateRunning, StateReady)
}

// BeginStop starts a Stop transition (RUNNING → READY).
func (m *Machine) BeginStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return fmt.Errorf("%w: Stop from %s", ErrTransition, m.state)
	}
	m.state = StateLock
	return nil
}

// CommitStop resolves a Stop transition; failure rolls back to RUNNING.
func (m *Machine) CommitStop(success bool) {
	m.resolve(success, StateReady, StateRunning)
}

func (m *Machine) resolve(success bool, onOK, onFail State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateLock {
		return
	}
	if success {
		m.state = onOK
	} else {
		m.state = onFail
	}
}

// Require returns ErrTransition unless the current state is one of the
// allowed states. Used to gate operational calls (set/get/send).
func (m *Machine) Require(allowed ...State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range allowed {
		if m.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: operation in %s", ErrTransition, m.state)
}
