package room

import (
	"context"
	"time"

	"github.com/wfunc/snakes/geometry"
	"github.com/wfunc/snakes/models"
	"github.com/wfunc/snakes/state"
)

// Observer receives the events of a room. A returned error marks the
// observer as disconnected and it is dropped from the room.
type Observer interface {
	OnExpectedPlayerCountChanged(count int) error
	OnStateChanged(state state.GameState) error
	OnPlayerJoined(count int) error
	OnBoardSizeChanged(size geometry.BoardSize) error
	// OnNewRound carries no payload; observers read the room when delivered.
	OnNewRound() error
	OnDied(playerID string) error
	OnScoreChanged(playerID string, score int) error
}

// MatchRecorder stores the outcome of a finished match.
// This is defined here so the room does not depend on persistence.
type MatchRecorder interface {
	RecordMatch(ctx context.Context, record models.MatchRecord) error
}

// Metrics is the subset of monitor.Monitor a room reports to.
type Metrics interface {
	IncActiveRooms()
	DecActiveRooms()
	ObserveRound(duration time.Duration)
	IncPlayersJoined()
	IncPlayersDied()
	IncSubscribersRemoved(reason string)
}

type nopMetrics struct{}

func (nopMetrics) IncActiveRooms() {}
func (nopMetrics) DecActiveRooms() {}
func (nopMetrics) ObserveRound(time.Duration) {}
func (nopMetrics) IncPlayersJoined() {}
func (nopMetrics) IncPlayersDied() {}
func (nopMetrics) IncSubscribersRemoved(string) {}
