package scraper

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// State is a stage of a scrape job
type State int

const (
	StateIdle State = iota
	StateFetching
	StateParsing
	StateExporting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateParsing:
		return "parsing"
	case StateExporting:
		return "exporting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:      {StateFetching, StateFailed},
	StateFetching:  {StateParsing, StateFailed},
	StateParsing:   {StateExporting, StateFailed},
	StateExporting: {StateDone, StateFailed},
}

// CanTransition reports whether a job may move from s to next
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}

// ErrInvalidTransition is returned for a transition the job lifecycle forbids
var ErrInvalidTransition = errors.New("invalid state transition")

// StateMachine tracks the state of one job. It is safe for concurrent use.
type StateMachine struct {
	mu       sync.Mutex
	state    State
	onChange func(from, to State)
}

// NewStateMachine starts in StateIdle. onChange, if set, is called after
// every successful transition.
func NewStateMachine(onChange func(from, to State)) *StateMachine {
	return &StateMachine{state: StateIdle, onChange: onChange}
}

// State returns the current state
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to next or returns ErrInvalidTransition
func (m *StateMachine) Transition(next State) error {
	m.mu.Lock()
	from := m.state
	if !from.CanTransition(next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	m.state = next
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(from, next)
	}
	return nil
}

// Fail moves to StateFailed unless the job already finished
func (m *StateMachine) Fail() {
	if !m.State().Terminal() {
		_ = m.Transition(StateFailed)
	}
}
