package lifecycle

import (
	"errors"
	"testing"
)

func mustInit(t *testing.T, m *Machine) {
	t.Helper()
	run, err := m.BeginInit()
	if err != nil || !run {
		t.Fatalf("BeginInit = (%v, %v)", run, err)
	}
	m.CommitInit(true)
}

func TestInitTransitions(t *testing.T) {
	m := New()
	if m.Current() != StateIdle {
		t.Fatalf("initial state = %s", m.Current())
	}

	mustInit(t, m)
	if m.Current() != StateReady {
		t.Fatalf("state after Init = %s", m.Current())
	}

	// Idempotent: a second Init from READY succeeds without running.
	run, err := m.BeginInit()
	if err != nil || run {
		t.Fatalf("second BeginInit = (%v, %v), want (false, nil)", run, err)
	}
}

func TestInitFailureRollsBack(t *testing.T) {
	m := New()
	run, err := m.BeginInit()
	if err != nil || !run {
		t.Fatalf("BeginInit = (%v, %v)", run, err)
	}
	m.CommitInit(false)
	if m.Current() != StateIdle {
		t.Fatalf("state after failed Init = %s, want IDLE", m.Current())
	}
}

func TestStartStop(t *testing.T) {
	m := New()

	// Start from IDLE is a transition error.
	if err := m.BeginStart(); !errors.Is(err, ErrTransition) {
		t.Fatalf("Start from IDLE = %v", err)
	}

	mustInit(t, m)
	if err := m.BeginStart(); err != nil {
		t.Fatalf("BeginStart: %v", err)
	}
	m.CommitStart(true)
	if m.Current() != StateRunning {
		t.Fatalf("state after Start = %s", m.Current())
	}

	// Init from RUNNING is a transition error.
	if _, err := m.BeginInit(); !errors.Is(err, ErrTransition) {
		t.Fatalf("Init from RUNNING = %v", err)
	}
	// Deinit from RUNNING is a transition error.
	if _, err := m.BeginDeinit(); !errors.Is(err, ErrTransition) {
		t.Fatalf("Deinit from RUNNING = %v", err)
	}

	if err := m.BeginStop(); err != nil {
		t.Fatalf("BeginStop: %v", err)
	}
	m.CommitStop(true)
	if m.Current() != StateReady {
		t.Fatalf("state after Stop = %s", m.Current())
	}
}

func TestStartFailureRollsBack(t *testing.T) {
	m := New()
	mustInit(t, m)
	if err := m.BeginStart(); err != nil {
		t.Fatalf("BeginStart: %v", err)
	}
	m.CommitStart(false)
	if m.Current() != StateReady {
		t.Fatalf("state after failed Start = %s, want READY", m.Current())
	}
}

func TestDeinitIdempotent(t *testing.T) {
	m := New()
	mustInit(t, m)

	run, err := m.BeginDeinit()
	if err != nil || !run {
		t.Fatalf("BeginDeinit = (%v, %v)", run, err)
	}
	m.CommitDeinit(true)
	if m.Current() != StateIdle {
		t.Fatalf("state after Deinit = %s", m.Current())
	}

	run, err = m.BeginDeinit()
	if err != nil || run {
		t.Fatalf("second BeginDeinit = (%v, %v), want (false, nil)", run, err)
	}
}

func TestLockExcludesConcurrentTransitions(t *testing.T) {
	m := New()
	run, err := m.BeginInit()
	if err != nil || !run {
		t.Fatalf("BeginInit = (%v, %v)", run, err)
	}
	// While LOCK is held, every other transition is rejected.
	if err := m.BeginStart(); !errors.Is(err, ErrTransition) {
		t.Fatalf("Start during LOCK = %v", err)
	}
	if _, err := m.BeginDeinit(); !errors.Is(err, ErrTransition) {
		t.Fatalf("Deinit during LOCK = %v", err)
	}
	m.CommitInit(true)
}

func TestRequire(t *testing.T) {
	m := New()
	if err := m.Require(StateRunning); !errors.Is(err, ErrTransition) {
		t.Fatalf("Require(RUNNING) in IDLE = %v", err)
	}
	mustInit(t, m)
	if err := m.Require(StateReady, StateRunning); err != nil {
		t.Fatalf("Require(READY|RUNNING) in READY = %v", err)
	}
}
