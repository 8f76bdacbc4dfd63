// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wfunc/snakes/geometry"
	"github.com/wfunc/snakes/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold: time.Second,   // 慢SQL阈值
			LogLevel:      logger.Silent, // 日志级别
			Colorful:      false,         // 禁用彩色打印
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// 获取通用数据库对象 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

// 定义GORM模型
type MatchModel struct {
	ID          string                `gorm:"primaryKey;size:36"`
	RoomID      string                `gorm:"index;not null"`
	BoardWidth  int                   `gorm:"not null"`
	BoardHeight int                   `gorm:"not null"`
	Rounds      int                   `gorm:"not null"`
	Players     []models.PlayerResult `gorm:"type:jsonb;serializer:json"`
	StartedAt   time.Time
	EndedAt     time.Time `gorm:"index"`
	CreatedAt   time.Time
}

type ScoreModel struct {
	ID       uint   `gorm:"primaryKey"`
	MatchID  string `gorm:"index;not null;size:36"`
	Name     string `gorm:"not null"`
	Score    int    `gorm:"index;not null"`
	RoomID   string `gorm:"not null"`
	Recorded time.Time
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&MatchModel{},
		&ScoreModel{},
	)
}

// SaveMatch 保存比赛记录和排行榜条目
func (p *GormPostgreSQL) SaveMatch(ctx context.Context, record models.MatchRecord) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		match := MatchModel{
			ID:          record.ID,
			RoomID:      record.RoomID,
			BoardWidth:  record.BoardSize.Width,
			BoardHeight: record.BoardSize.Height,
			Rounds:      record.Rounds,
			Players:     record.Players,
			StartedAt:   record.StartedAt,
			EndedAt:     record.EndedAt,
		}
		if err := tx.Create(&match).Error; err != nil {
			return err
		}

		entries := scoreEntries(record)
		if len(entries) == 0 {
			return nil
		}
		scores := make([]ScoreModel, 0, len(entries))
		for _, e := range entries {
			scores = append(scores, ScoreModel{
				MatchID:  record.ID,
				Name:     e.Name,
				Score:    e.Score,
				RoomID:   e.RoomID,
				Recorded: e.Recorded,
			})
		}
		return tx.Create(&scores).Error
	})
}

// LoadMatch 加载比赛记录
func (p *GormPostgreSQL) LoadMatch(ctx context.Context, id string) (*models.MatchRecord, error) {
	var match MatchModel
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&match).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	return &models.MatchRecord{
		ID:        match.ID,
		RoomID:    match.RoomID,
		BoardSize: geometry.BoardSize{Width: match.BoardWidth, Height: match.BoardHeight},
		Rounds:    match.Rounds,
		Players:   match.Players,
		StartedAt: match.StartedAt,
		EndedAt:   match.EndedAt,
	}, nil
}

// TopScores 排行榜
func (p *GormPostgreSQL) TopScores(ctx context.Context, limit int) ([]models.ScoreEntry, error) {
	var scores []ScoreModel
	query := p.db.WithContext(ctx).Order("score DESC").Order("recorded ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&scores).Error; err != nil {
		return nil, err
	}

	entries := make([]models.ScoreEntry, 0, len(scores))
	for _, s := range scores {
		entries = append(entries, models.ScoreEntry{
			Name:     s.Name,
			Score:    s.Score,
			RoomID:   s.RoomID,
			Recorded: s.Recorded,
		})
	}
	return entries, nil
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
