// gateway/gateway.go
package gateway

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/wfunc/snakes/geometry"
	"github.com/wfunc/snakes/logger"
	"github.com/wfunc/snakes/models"
	"github.com/wfunc/snakes/room"
	"github.com/wfunc/snakes/session"
	"github.com/wfunc/snakes/state"
)

var (
	ErrUnknownRoom = errors.New("unknown room")
	// ErrNotJoined is returned when a caller steers before joining a game.
	ErrNotJoined = errors.New("caller has not joined a game")
)

// Pusher delivers one notification to one remote caller. An error means the
// caller is gone.
type Pusher interface {
	Push(n Notification) error
}

// Gateway exposes the rooms and players to remote callers. Callers are named
// by the identity their transport gave them.
type Gateway struct {
	rooms   *room.Manager
	players *session.Manager
	log     *zap.SugaredLogger

	defaultSize     geometry.BoardSize
	defaultExpected int

	// caller -> rooms it is subscribed to
	subscriptions map[string]map[string]bool
	mutex         sync.Mutex
}

type Option func(*Gateway)

// WithDefaultGame sets what InitializeNewGame falls back to when the caller
// leaves the board size or the player count out.
func WithDefaultGame(size geometry.BoardSize, expectedPlayers int) Option {
	return func(g *Gateway) {
		if !size.IsZero() {
			g.defaultSize = size
		}
		if expectedPlayers > 0 {
			g.defaultExpected = expectedPlayers
		}
	}
}

func New(rooms *room.Manager, players *session.Manager, opts ...Option) *Gateway {
	g := &Gateway{
		rooms:           rooms,
		players:         players,
		log:             logger.Named("gateway"),
		defaultSize:     geometry.DefaultBoardSize,
		defaultExpected: room.DefaultExpectedPlayers,
		subscriptions:   make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) lookup(roomID string) (*room.Room, error) {
	r, ok := g.rooms.GetRoom(roomID)
	if !ok {
		return nil, ErrUnknownRoom
	}
	return r, nil
}

// GetCurrentState returns the state of the room, creating the room if it does
// not exist yet. A caller with a pusher is subscribed to the room as well.
func (g *Gateway) GetCurrentState(roomID, caller string, pusher Pusher) state.GameState {
	r := g.rooms.GetOrCreateRoom(roomID)
	if pusher != nil {
		g.subscribe(r, caller, pusher)
	}
	return r.State()
}

func (g *Gateway) GetLobbyState(roomID string) (models.LobbyState, error) {
	r, err := g.lookup(roomID)
	if err != nil {
		return models.LobbyState{}, err
	}
	return r.LobbyState(), nil
}

// InitializeNewGame opens a lobby. A zero board size means the default board
// and a non-positive count means the default number of players.
func (g *Gateway) InitializeNewGame(roomID string, size geometry.BoardSize, expectedPlayers int) error {
	if size.IsZero() {
		size = g.defaultSize
	}
	if expectedPlayers <= 0 {
		expectedPlayers = g.defaultExpected
	}
	r := g.rooms.GetOrCreateRoom(roomID)
	if err := r.InitializeNewGame(size, expectedPlayers); err != nil {
		return err
	}
	g.log.Infof("room %s opened a %s lobby for %d players", roomID, size, expectedPlayers)
	return nil
}

// JoinGame joins the caller as a human player named name and returns its
// player id.
func (g *Gateway) JoinGame(roomID, caller, name string) (string, error) {
	r, err := g.lookup(roomID)
	if err != nil {
		return "", err
	}

	p := g.players.GetOrCreate(caller)
	p.SetHumanControlled(true)
	if name != "" {
		p.SetName(name)
	}
	if err := p.JoinGame(r); err != nil {
		return "", err
	}
	return p.GetID(), nil
}

func (g *Gateway) StartGame(roomID string) error {
	r, err := g.lookup(roomID)
	if err != nil {
		return err
	}
	return r.Start()
}

func (g *Gateway) TurnLeft(caller string) error {
	p, ok := g.players.Get(caller)
	if !ok {
		return ErrNotJoined
	}
	p.TurnLeft()
	return nil
}

func (g *Gateway) TurnRight(caller string) error {
	p, ok := g.players.Get(caller)
	if !ok {
		return ErrNotJoined
	}
	p.TurnRight()
	return nil
}

// Subscribe registers or refreshes the caller's pusher on the room.
func (g *Gateway) Subscribe(roomID, caller string, pusher Pusher) error {
	r, err := g.lookup(roomID)
	if err != nil {
		return err
	}
	g.subscribe(r, caller, pusher)
	return nil
}

func (g *Gateway) subscribe(r *room.Room, caller string, pusher Pusher) {
	r.Subscribe(caller, newObserver(r, caller, pusher))

	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.subscriptions[caller] == nil {
		g.subscriptions[caller] = make(map[string]bool)
	}
	g.subscriptions[caller][r.ID] = true
}

func (g *Gateway) Unsubscribe(roomID, caller string) error {
	r, err := g.lookup(roomID)
	if err != nil {
		return err
	}
	r.Unsubscribe(caller)

	g.mutex.Lock()
	defer g.mutex.Unlock()
	delete(g.subscriptions[caller], roomID)
	if len(g.subscriptions[caller]) == 0 {
		delete(g.subscriptions, caller)
	}
	return nil
}

// Disconnect drops every subscription of the caller and forgets its player.
// A snake already in a match keeps moving until it dies.
func (g *Gateway) Disconnect(caller string) {
	g.mutex.Lock()
	roomIDs := g.subscriptions[caller]
	delete(g.subscriptions, caller)
	g.mutex.Unlock()

	for roomID := range roomIDs {
		if r, ok := g.rooms.GetRoom(roomID); ok {
			r.Unsubscribe(caller)
		}
	}
	g.players.Remove(caller)
}
