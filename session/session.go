// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/wfunc/snakes/geometry"
	"github.com/wfunc/snakes/models"
)

const (
	// DefaultBorder keeps a freshly joined head this many cells off every edge.
	DefaultBorder = 5

	// trailingSegments is the number of body cells behind the head on join.
	trailingSegments = 4
)

// Game is the part of a game session a player needs in order to join it.
type Game interface {
	BoardSize() geometry.BoardSize
	AddPlayer(player *Session) error
}

// Session is one player: identity, snake body and score. All methods are
// safe for concurrent use; each call runs alone against the player's state.
type Session struct {
	ID        string
	CreatedAt time.Time

	name            string
	humanControlled bool
	body            []geometry.Position // head first
	last            *geometry.Position  // tail cell dropped by the latest Advance
	direction       geometry.Direction
	alive           bool
	score           int
	boardSize       geometry.BoardSize
	border          int
	rng             geometry.Rand
	mutex           sync.RWMutex
}

// Option configures a new Session.
type Option func(*Session)

// WithRand sets the randomness used when joining a game.
func WithRand(rng geometry.Rand) Option {
	return func(s *Session) { s.rng = rng }
}

// WithBorder overrides DefaultBorder.
func WithBorder(border int) Option {
	return func(s *Session) { s.border = border }
}

func NewSession(id string, opts ...Option) *Session {
	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		name:      id,
		alive:     true,
		border:    DefaultBorder,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = geometry.NewRand(0)
	}
	return s
}

func (s *Session) GetID() string {
	return s.ID
}

// JoinGame resets the player onto a random spot of game's board and registers
// it with the game. Joining again starts over from scratch.
func (s *Session) JoinGame(game Game) error {
	s.Reset(game.BoardSize())
	return game.AddPlayer(s)
}

// Reset puts a fresh five-cell snake on a board of the given size: a random
// head kept off the edges and four cells trailing behind it.
func (s *Session) Reset(size geometry.BoardSize) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.boardSize = size
	s.last = nil
	s.alive = true
	s.score = 0
	s.direction = geometry.RandomDirection(s.rng)

	head := geometry.OnScreen(s.rng, s.border, size)
	s.body = make([]geometry.Position, 0, trailingSegments+1)
	s.body = append(s.body, head)

	prev := head
	for i := 0; i < trailingSegments; i++ {
		prev = prev.Move(s.direction.OppositeOf())
		s.body = append(s.body, prev)
	}
}

// Place lays the snake out explicitly, head first, facing dir. It is used to
// set up scenarios; the board size is kept.
func (s *Session) Place(body []geometry.Position, dir geometry.Direction) {
	if len(body) == 0 {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.body = append([]geometry.Position(nil), body...)
	s.direction = dir
	s.last = nil
}

// SetBoardSize changes the board the player is checked against.
func (s *Session) SetBoardSize(size geometry.BoardSize) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.boardSize = size
}

// Advance moves the snake one cell forward and reports whether the head is
// still on the board.
func (s *Session) Advance() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.body) == 0 {
		return false
	}

	tail := s.body[len(s.body)-1]
	s.last = &tail
	for i := len(s.body) - 1; i > 0; i-- {
		s.body[i] = s.body[i-1]
	}
	s.body[0] = s.body[0].Move(s.direction)

	return s.body[0].InBounds(s.boardSize)
}

func (s *Session) TurnLeft() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.direction = s.direction.LeftOf()
}

func (s *Session) TurnRight() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.direction = s.direction.RightOf()
}

// FoundBerry scores a point and grows the snake back onto the cell its tail
// left during the latest Advance, if any.
func (s *Session) FoundBerry() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.score++
	if s.last != nil {
		s.body = append(s.body, *s.last)
	}
}

// Die marks the player dead. The body is kept so the last frame still shows it.
func (s *Session) Die() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.alive = false
}

func (s *Session) Name() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.name
}

func (s *Session) SetName(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.name = name
}

func (s *Session) HumanControlled() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.humanControlled
}

func (s *Session) SetHumanControlled(human bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.humanControlled = human
}

// Body returns a copy of the snake, head first.
func (s *Session) Body() []geometry.Position {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]geometry.Position(nil), s.body...)
}

func (s *Session) Head() geometry.Position {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if len(s.body) == 0 {
		return geometry.Position{}
	}
	return s.body[0]
}

func (s *Session) Direction() geometry.Direction {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.direction
}

func (s *Session) Alive() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.alive
}

func (s *Session) Score() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.score
}

// Snapshot returns the player's state as sent to clients.
func (s *Session) Snapshot() models.PlayerState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return models.PlayerState{
		ID:              s.ID,
		Name:            s.name,
		HumanControlled: s.humanControlled,
		Alive:           s.alive,
		Score:           s.score,
		Body:            append([]geometry.Position(nil), s.body...),
	}
}

// Manager 玩家注册表：按ID持有所有玩家
type Manager struct {
	sessions map[string]*Session
	options  []Option
	mutex    sync.RWMutex
}

// NewManager returns a registry whose GetOrCreate applies opts to new players.
func NewManager(opts ...Option) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		options:  opts,
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

// GetOrCreate returns the player registered under id, creating it first if
// needed.
func (m *Manager) GetOrCreate(id string) *Session {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if session, exists := m.sessions[id]; exists {
		return session
	}
	session := NewSession(id, m.options...)
	m.sessions[id] = session
	return session
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}
