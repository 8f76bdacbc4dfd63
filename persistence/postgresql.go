// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq" // PostgreSQL 驱动

	"github.com/wfunc/snakes/models"
)

// PostgreSQL 数据库实现
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 初始化表结构
	if err := initTables(ctx, db); err != nil {
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(ctx context.Context, db *sql.DB) error {
	// 创建比赛表
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS matches (
            id VARCHAR(36) PRIMARY KEY,
            room_id VARCHAR(255) NOT NULL,
            board_width INTEGER NOT NULL,
            board_height INTEGER NOT NULL,
            rounds INTEGER NOT NULL,
            players JSONB NOT NULL,
            started_at TIMESTAMP NOT NULL,
            ended_at TIMESTAMP NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	// 创建排行榜表
	_, err = db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS scores (
            id SERIAL PRIMARY KEY,
            match_id VARCHAR(36) NOT NULL REFERENCES matches(id),
            name VARCHAR(255) NOT NULL,
            score INTEGER NOT NULL,
            room_id VARCHAR(255) NOT NULL,
            recorded TIMESTAMP NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	// 创建索引以提高查询性能
	_, err = db.ExecContext(ctx, `
        CREATE INDEX IF NOT EXISTS idx_matches_room_id ON matches(room_id);
        CREATE INDEX IF NOT EXISTS idx_matches_ended_at ON matches(ended_at);
        CREATE INDEX IF NOT EXISTS idx_scores_score ON scores(score DESC);
    `)

	return err
}

// SaveMatch 保存比赛记录
func (p *PostgreSQL) SaveMatch(ctx context.Context, record models.MatchRecord) error {
	playersJSON, err := json.Marshal(record.Players)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO matches (id, room_id, board_width, board_height, rounds, players, started_at, ended_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, record.ID, record.RoomID, record.BoardSize.Width, record.BoardSize.Height,
		record.Rounds, playersJSON, record.StartedAt, record.EndedAt)
	if err != nil {
		return err
	}

	for _, e := range scoreEntries(record) {
		_, err = tx.ExecContext(ctx, `
            INSERT INTO scores (match_id, name, score, room_id, recorded)
            VALUES ($1, $2, $3, $4, $5)
        `, record.ID, e.Name, e.Score, e.RoomID, e.Recorded)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadMatch 加载比赛记录
func (p *PostgreSQL) LoadMatch(ctx context.Context, id string) (*models.MatchRecord, error) {
	var (
		record  models.MatchRecord
		players []byte
	)
	query := `
        SELECT id, room_id, board_width, board_height, rounds, players, started_at, ended_at
        FROM matches WHERE id = $1
    `
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&record.ID, &record.RoomID, &record.BoardSize.Width, &record.BoardSize.Height,
		&record.Rounds, &players, &record.StartedAt, &record.EndedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(players, &record.Players); err != nil {
		return nil, err
	}
	return &record, nil
}

// TopScores 排行榜
func (p *PostgreSQL) TopScores(ctx context.Context, limit int) ([]models.ScoreEntry, error) {
	query := `SELECT name, score, room_id, recorded FROM scores ORDER BY score DESC, recorded ASC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.ScoreEntry
	for rows.Next() {
		var e models.ScoreEntry
		if err := rows.Scan(&e.Name, &e.Score, &e.RoomID, &e.Recorded); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
