package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wfunc/snakes/models"
)

const (
	leaderboardKey     = "snakes:leaderboard"
	leaderboardMetaKey = "snakes:leaderboard:meta"
	recentMatchesKey   = "snakes:matches:recent"

	// recentMatches is how many match records are kept.
	recentMatches = 100
)

// RedisStore keeps recent match records and a best-score-per-name leaderboard
// in Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr and checks the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// SaveMatch stores the record, trims the history and raises the leaderboard
// entry of every human whose score improved.
func (s *RedisStore) SaveMatch(ctx context.Context, record models.MatchRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal match: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, matchKey(record.ID), data, 0)
	pipe.LPush(ctx, recentMatchesKey, record.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store match: %w", err)
	}

	if err := s.trim(ctx); err != nil {
		return err
	}

	for _, e := range scoreEntries(record) {
		changed, err := s.client.ZAddArgs(ctx, leaderboardKey, redis.ZAddArgs{
			GT:      true,
			Ch:      true,
			Members: []redis.Z{{Score: float64(e.Score), Member: e.Name}},
		}).Result()
		if err != nil {
			return fmt.Errorf("failed to update leaderboard: %w", err)
		}
		if changed == 0 {
			continue
		}

		meta, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal score: %w", err)
		}
		if err := s.client.HSet(ctx, leaderboardMetaKey, e.Name, meta).Err(); err != nil {
			return fmt.Errorf("failed to update leaderboard: %w", err)
		}
	}
	return nil
}

// trim drops match records that fell off the history list.
func (s *RedisStore) trim(ctx context.Context) error {
	stale, err := s.client.LRange(ctx, recentMatchesKey, recentMatches, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read match history: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range stale {
		pipe.Del(ctx, matchKey(id))
	}
	pipe.LTrim(ctx, recentMatchesKey, 0, recentMatches-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to trim match history: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadMatch(ctx context.Context, id string) (*models.MatchRecord, error) {
	data, err := s.client.Get(ctx, matchKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	var record models.MatchRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match: %w", err)
	}
	return &record, nil
}

func (s *RedisStore) TopScores(ctx context.Context, limit int) ([]models.ScoreEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	top, err := s.client.ZRevRangeWithScores(ctx, leaderboardKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	if len(top) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(top))
	for _, z := range top {
		names = append(names, fmt.Sprint(z.Member))
	}
	metas, err := s.client.HMGet(ctx, leaderboardMetaKey, names...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	return leaderboardEntries(top, metas), nil
}

// leaderboardEntries joins the sorted-set members with their stored details.
// The set orders ties by name, so the entries are re-sorted to put the
// earlier score first.
func leaderboardEntries(top []redis.Z, metas []interface{}) []models.ScoreEntry {
	entries := make([]models.ScoreEntry, 0, len(top))
	for i, z := range top {
		entry := models.ScoreEntry{Name: fmt.Sprint(z.Member), Score: int(z.Score)}
		if i < len(metas) {
			if raw, ok := metas[i].(string); ok {
				var meta models.ScoreEntry
				if json.Unmarshal([]byte(raw), &meta) == nil {
					entry.RoomID = meta.RoomID
					entry.Recorded = meta.Recorded
				}
			}
		}
		entries = append(entries, entry)
	}
	sortScores(entries)
	return entries
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func matchKey(id string) string {
	return fmt.Sprintf("snakes:match:%s", id)
}
