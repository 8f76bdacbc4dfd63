// persistence/interface.go
package persistence

import (
	"context"
	"fmt"
	"sort"

	"github.com/wfunc/snakes/config"
	"github.com/wfunc/snakes/models"
)

// Database 比赛记录存储接口
type Database interface {
	SaveMatch(ctx context.Context, record models.MatchRecord) error
	LoadMatch(ctx context.Context, id string) (*models.MatchRecord, error)
	// TopScores returns the best human scores, highest first.
	TopScores(ctx context.Context, limit int) ([]models.ScoreEntry, error)
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
	ErrUnknownDriver  = fmt.Errorf("unknown database driver")
)

// Open 根据配置选择存储实现
func Open(cfg config.DatabaseConfig) (Database, error) {
	pg := cfg.Postgres
	switch cfg.Driver {
	case "", "none", "memory":
		return NewMemory(), nil
	case "gorm":
		return NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case "postgres":
		return NewPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case "redis":
		return NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// scoreEntries lists the human results of a match for the leaderboard.
func scoreEntries(record models.MatchRecord) []models.ScoreEntry {
	var entries []models.ScoreEntry
	for _, p := range record.Players {
		if !p.HumanControlled {
			continue
		}
		entries = append(entries, models.ScoreEntry{
			Name:     p.Name,
			Score:    p.Score,
			RoomID:   record.RoomID,
			Recorded: record.EndedAt,
		})
	}
	return entries
}

func sortScores(entries []models.ScoreEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Recorded.Before(entries[j].Recorded)
	})
}
