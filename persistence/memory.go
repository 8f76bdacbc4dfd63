package persistence

import (
	"context"
	"sync"

	"github.com/wfunc/snakes/models"
)

// Memory keeps match records in process. It is the store used when no
// database is configured.
type Memory struct {
	matches map[string]models.MatchRecord
	scores  []models.ScoreEntry
	mutex   sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{matches: make(map[string]models.MatchRecord)}
}

func (m *Memory) SaveMatch(ctx context.Context, record models.MatchRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	record.Players = append([]models.PlayerResult(nil), record.Players...)
	m.matches[record.ID] = record
	m.scores = append(m.scores, scoreEntries(record)...)
	sortScores(m.scores)
	return nil
}

func (m *Memory) LoadMatch(ctx context.Context, id string) (*models.MatchRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	record, ok := m.matches[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &record, nil
}

func (m *Memory) TopScores(ctx context.Context, limit int) ([]models.ScoreEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if limit <= 0 || limit > len(m.scores) {
		limit = len(m.scores)
	}
	return append([]models.ScoreEntry(nil), m.scores[:limit]...), nil
}

func (m *Memory) Close() error {
	return nil
}
