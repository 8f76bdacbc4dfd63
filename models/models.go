// models/models.go
package models

import (
	"time"

	"github.com/wfunc/snakes/geometry"
)

// PlayerState 广播给客户端的玩家快照
type PlayerState struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	HumanControlled bool                `json:"human_controlled"`
	Alive           bool                `json:"alive"`
	Score           int                 `json:"score"`
	Body            []geometry.Position `json:"body"`
}

// LobbyState 大厅状态
type LobbyState struct {
	CurrentPlayers  int                `json:"current_players"`
	ExpectedPlayers int                `json:"expected_players"`
	BoardSize       geometry.BoardSize `json:"board_size"`
}

// MatchRecord 一局游戏的记录
type MatchRecord struct {
	ID        string             `json:"id"`
	RoomID    string             `json:"room_id"`
	BoardSize geometry.BoardSize `json:"board_size"`
	Rounds    int                `json:"rounds"`
	Players   []PlayerResult     `json:"players"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at"`
}

// PlayerResult 玩家在一局中的结果
type PlayerResult struct {
	PlayerID        string `json:"player_id"`
	Name            string `json:"name"`
	HumanControlled bool   `json:"human_controlled"`
	Score           int    `json:"score"`
	Survived        bool   `json:"survived"`
}

// ScoreEntry 排行榜条目
type ScoreEntry struct {
	Name     string    `json:"name"`
	Score    int       `json:"score"`
	RoomID   string    `json:"room_id"`
	Recorded time.Time `json:"recorded"`
}
