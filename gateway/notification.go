package gateway

import (
	"github.com/wfunc/snakes/geometry"
	"github.com/wfunc/snakes/models"
	"github.com/wfunc/snakes/room"
	"github.com/wfunc/snakes/state"
)

// Kind names a push notification.
type Kind string

const (
	KindExpectedPlayerCountChanged Kind = "OnExpectedPlayerCountChanged"
	KindStateChanged               Kind = "OnStateChanged"
	KindPlayerJoined               Kind = "OnPlayerJoined"
	KindBoardSizeChanged           Kind = "OnBoardSizeChanged"
	KindNewRound                   Kind = "OnNewRound"
	KindDied                       Kind = "OnDied"
	KindScoreChanged               Kind = "OnScoreChanged"
)

// Notification is one push to a caller. Payload is one of the *Payload types.
type Notification struct {
	Kind    Kind
	Payload interface{}
}

type CountPayload struct {
	Count int `json:"count"`
}

type StatePayload struct {
	State state.GameState `json:"state"`
}

type BoardSizePayload struct {
	Size geometry.BoardSize `json:"size"`
}

type NewRoundPayload struct {
	Players []models.PlayerState `json:"players"`
	Berries []geometry.Position  `json:"berries"`
}

type DiedPayload struct {
	PlayerID string `json:"player_id"`
}

type ScorePayload struct {
	PlayerID string `json:"player_id"`
	Score    int    `json:"score"`
}

// observer turns room events into pushes for one caller.
type observer struct {
	room   *room.Room
	caller string
	pusher Pusher
}

func newObserver(r *room.Room, caller string, pusher Pusher) *observer {
	return &observer{room: r, caller: caller, pusher: pusher}
}

func (o *observer) push(kind Kind, payload interface{}) error {
	return o.pusher.Push(Notification{Kind: kind, Payload: payload})
}

func (o *observer) OnExpectedPlayerCountChanged(count int) error {
	return o.push(KindExpectedPlayerCountChanged, CountPayload{Count: count})
}

func (o *observer) OnStateChanged(s state.GameState) error {
	return o.push(KindStateChanged, StatePayload{State: s})
}

func (o *observer) OnPlayerJoined(count int) error {
	return o.push(KindPlayerJoined, CountPayload{Count: count})
}

func (o *observer) OnBoardSizeChanged(size geometry.BoardSize) error {
	return o.push(KindBoardSizeChanged, BoardSizePayload{Size: size})
}

// OnNewRound reads the roster and berries now, so the payload may already
// show a later round than the one that raised the event.
func (o *observer) OnNewRound() error {
	return o.push(KindNewRound, NewRoundPayload{
		Players: o.room.PlayerStates(),
		Berries: o.room.Berries(),
	})
}

// OnDied only reaches the player who died.
func (o *observer) OnDied(playerID string) error {
	if playerID != o.caller {
		return nil
	}
	return o.push(KindDied, DiedPayload{PlayerID: playerID})
}

// OnScoreChanged only reaches the player who scored.
func (o *observer) OnScoreChanged(playerID string, score int) error {
	if playerID != o.caller {
		return nil
	}
	return o.push(KindScoreChanged, ScorePayload{PlayerID: playerID, Score: score})
}
