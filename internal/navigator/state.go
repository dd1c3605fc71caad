package navigator

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// State is the navigator's position in the portal.
type State int

const (
	LoggedOut State = iota
	LoggingIn
	AtList
	AtDetail
	AtExtractionTarget
	Recovering
	Terminal
)

var stateNames = [...]string{
	LoggedOut:          "logged_out",
	LoggingIn:          "logging_in",
	AtList:             "at_list",
	AtDetail:           "at_detail",
	AtExtractionTarget: "at_extraction_target",
	Recovering:         "recovering",
	Terminal:           "terminal",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the states reachable from each state. Terminal is
// absorbing and Recovering never leads straight back to an extraction target.
var transitions = map[State][]State{
	LoggedOut:          {LoggingIn, Terminal},
	LoggingIn:          {AtList, LoggedOut, Terminal},
	AtList:             {AtDetail, Recovering, Terminal},
	AtDetail:           {AtExtractionTarget, AtList, Recovering, Terminal},
	AtExtractionTarget: {AtList, Recovering, Terminal},
	Recovering:         {AtList, LoggedOut, Terminal},
	Terminal:           nil,
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

var (
	// ErrIllegalTransition is returned for a transition not in the table.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrUnexpectedState is returned when a step runs in the wrong state.
	ErrUnexpectedState = errors.New("unexpected navigator state")
)

// Transition is one recorded state change.
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// Machine holds the current state. All changes go through transition.
type Machine struct {
	logger *slog.Logger

	mu      sync.RWMutex
	state   State
	history []Transition
	onEnter func(Transition)
}

// NewMachine returns a machine in LoggedOut.
func NewMachine(logger *slog.Logger) *Machine {
	return &Machine{logger: logger, state: LoggedOut}
}

// OnTransition registers fn to run after every transition.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter = fn
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// History returns a copy of the recorded transitions.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Transition(nil), m.history...)
}

// Path returns the sequence of states visited, starting with the initial one.
func (m *Machine) Path() []State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	path := []State{LoggedOut}
	for _, t := range m.history {
		path = append(path, t.To)
	}
	return path
}

func (m *Machine) transition(to State, reason string) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s (%s)", ErrIllegalTransition, from, to, reason)
	}
	t := Transition{From: from, To: to, Reason: reason, At: time.Now()}
	m.state = to
	m.history = append(m.history, t)
	hook := m.onEnter
	m.mu.Unlock()

	m.logger.Info("state transition", "from", from.String(), "to", to.String(), "reason", reason)
	if hook != nil {
		hook(t)
	}
	return nil
}

// expect fails unless the machine is in one of states.
func (m *Machine) expect(states ...State) error {
	cur := m.State()
	if slices.Contains(states, cur) {
		return nil
	}
	return fmt.Errorf("%w: in %s, want %v", ErrUnexpectedState, cur, states)
}

// terminate moves to Terminal from any non-terminal state.
func (m *Machine) terminate(reason string) {
	if m.State() == Terminal {
		return
	}
	_ = m.transition(Terminal, reason)
}
