// services/match_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/wfunc/snakes/logger"
	"github.com/wfunc/snakes/models"
	"github.com/wfunc/snakes/persistence"
)

const (
	DefaultLeaderboardSize = 10
	MaxLeaderboardSize     = 100
)

var ErrInvalidRecord = errors.New("invalid match record")

// MatchService 比赛记录与排行榜
type MatchService struct {
	db persistence.Database
}

func NewMatchService(db persistence.Database) *MatchService {
	return &MatchService{db: db}
}

// RecordMatch 保存一局结束的比赛，rooms 在比赛结束时调用
func (s *MatchService) RecordMatch(ctx context.Context, record models.MatchRecord) error {
	if record.ID == "" || len(record.Players) == 0 {
		return ErrInvalidRecord
	}
	if err := s.db.SaveMatch(ctx, record); err != nil {
		return fmt.Errorf("save match %s: %w", record.ID, err)
	}

	logger.Log.Infow("match recorded",
		"match", record.ID,
		"room", record.RoomID,
		"rounds", record.Rounds,
		"players", len(record.Players),
	)
	return nil
}

// Leaderboard 获取排行榜，limit 超出范围时使用默认值或上限
func (s *MatchService) Leaderboard(ctx context.Context, limit int) ([]models.ScoreEntry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	if limit > MaxLeaderboardSize {
		limit = MaxLeaderboardSize
	}
	return s.db.TopScores(ctx, limit)
}

func (s *MatchService) Match(ctx context.Context, id string) (*models.MatchRecord, error) {
	return s.db.LoadMatch(ctx, id)
}
