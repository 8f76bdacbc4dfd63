package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wfunc/snakes/config"
	"github.com/wfunc/snakes/models"
)

func match(id string, ended time.Time, players ...models.PlayerResult) models.MatchRecord {
	return models.MatchRecord{
		ID:      id,
		RoomID:  "default",
		Rounds:  10,
		Players: players,
		EndedAt: ended,
	}
}

func TestMemory_SaveAndLoadMatch(t *testing.T) {
	db := NewMemory()
	ctx := context.Background()

	record := match("m1", time.Now(), models.PlayerResult{PlayerID: "p1", Name: "alice", HumanControlled: true, Score: 3})
	if err := db.SaveMatch(ctx, record); err != nil {
		t.Fatalf("SaveMatch failed: %v", err)
	}

	loaded, err := db.LoadMatch(ctx, "m1")
	if err != nil {
		t.Fatalf("LoadMatch failed: %v", err)
	}
	if loaded.Rounds != 10 || len(loaded.Players) != 1 || loaded.Players[0].Name != "alice" {
		t.Errorf("unexpected record %+v", loaded)
	}

	if _, err := db.LoadMatch(ctx, "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestMemory_TopScores(t *testing.T) {
	db := NewMemory()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	db.SaveMatch(ctx, match("m1", base,
		models.PlayerResult{Name: "alice", HumanControlled: true, Score: 4},
		models.PlayerResult{Name: "AI-ControlledPlayer-1", Score: 40},
	))
	db.SaveMatch(ctx, match("m2", base.Add(time.Minute),
		models.PlayerResult{Name: "bob", HumanControlled: true, Score: 7},
		models.PlayerResult{Name: "carol", HumanControlled: true, Score: 4},
	))

	top, err := db.TopScores(ctx, 2)
	if err != nil {
		t.Fatalf("TopScores failed: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(top))
	}
	if top[0].Name != "bob" || top[1].Name != "alice" {
		t.Errorf("expected bob then alice (earlier tie first), got %s then %s", top[0].Name, top[1].Name)
	}

	all, _ := db.TopScores(ctx, 0)
	if len(all) != 3 {
		t.Errorf("AI players should not be ranked, got %d entries", len(all))
	}
}

func TestOpen(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "none"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := db.(*Memory); !ok {
		t.Errorf("expected the in-memory store, got %T", db)
	}

	if _, err := Open(config.DatabaseConfig{Driver: "cassandra"}); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("expected ErrUnknownDriver, got %v", err)
	}
}
