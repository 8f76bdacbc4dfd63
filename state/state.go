package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// GameState 游戏会话状态
type GameState int

const (
	NoGame GameState = iota
	Lobby
	InProgress
)

var stateNames = map[GameState]string{
	NoGame:     "NoGame",
	Lobby:      "Lobby",
	InProgress: "InProgress",
}

func (s GameState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("GameState(%d)", int(s))
}

func (s GameState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *GameState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for state, n := range stateNames {
		if n == name {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown game state %q", name)
}

// ErrInvalidTransition is matched by every TransitionError.
var ErrInvalidTransition = errors.New("state transition not allowed")

// TransitionError is returned when a transition is not in the table.
type TransitionError struct {
	From GameState
	To   GameState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("can't transition from '%s' to '%s'", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Hook runs when a state is entered or left.
type Hook func(from, to GameState)

// Machine 状态机：只允许表中登记的转换
type Machine struct {
	current     GameState
	transitions map[GameState]map[GameState]bool
	onEnter     map[GameState][]Hook
	onExit      map[GameState][]Hook
	mutex       sync.RWMutex
}

func NewMachine(initial GameState) *Machine {
	return &Machine{
		current:     initial,
		transitions: make(map[GameState]map[GameState]bool),
		onEnter:     make(map[GameState][]Hook),
		onExit:      make(map[GameState][]Hook),
	}
}

// NewGameMachine returns a machine in NoGame with the game session lifecycle:
// NoGame -> Lobby -> InProgress -> NoGame, plus Lobby -> NoGame for abandoned lobbies.
func NewGameMachine() *Machine {
	m := NewMachine(NoGame)
	m.AddTransition(NoGame, Lobby)
	m.AddTransition(Lobby, InProgress)
	m.AddTransition(InProgress, NoGame)
	m.AddTransition(Lobby, NoGame)
	return m
}

func (m *Machine) AddTransition(from, to GameState) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.transitions[from]; !exists {
		m.transitions[from] = make(map[GameState]bool)
	}
	m.transitions[from][to] = true
}

// OnEnter registers a hook run after the machine has moved into state.
func (m *Machine) OnEnter(state GameState, hook Hook) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onEnter[state] = append(m.onEnter[state], hook)
}

// OnExit registers a hook run before the machine leaves state.
func (m *Machine) OnExit(state GameState, hook Hook) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onExit[state] = append(m.onExit[state], hook)
}

// CanTransition reports whether the current state may move to to.
func (m *Machine) CanTransition(to GameState) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.transitions[m.current][to]
}

// Transition moves to the given state, running exit hooks of the old state and
// enter hooks of the new one. Hooks must not call back into the machine.
func (m *Machine) Transition(to GameState) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	from := m.current
	if !m.transitions[from][to] {
		return &TransitionError{From: from, To: to}
	}

	for _, hook := range m.onExit[from] {
		hook(from, to)
	}
	m.current = to
	for _, hook := range m.onEnter[to] {
		hook(from, to)
	}
	return nil
}

func (m *Machine) Current() GameState {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}
