package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
)

// DecisionLog 基于 gorm + SQLite 的决策审计日志，只追加不修改。
type DecisionLog struct {
	db  *gorm.DB
	now func() time.Time
}

// Open creates the database file (and its directory) if needed.
func Open(path string) (*DecisionLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log: database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return NewFromDB(db)
}

func NewFromDB(db *gorm.DB) (*DecisionLog, error) {
	if db == nil {
		return nil, fmt.Errorf("decision log: gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&DecisionRecord{}); err != nil {
		return nil, fmt.Errorf("decision log: migrate: %w", err)
	}
	// SQLite + WAL: 少量并发读即可，写入由单连接串行。
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &DecisionLog{db: db, now: time.Now}, nil
}

// Append stores rec and fills its ID; CreatedAt defaults to now.
func (l *DecisionLog) Append(ctx context.Context, rec *DecisionRecord) error {
	if rec == nil {
		return fmt.Errorf("decision log: nil record")
	}
	if strings.TrimSpace(rec.Symbol) == "" {
		return fmt.Errorf("decision log: symbol is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now().UTC()
	}
	return l.db.WithContext(ctx).Create(rec).Error
}

// Recent returns the newest records first.
func (l *DecisionLog) Recent(ctx context.Context, limit int) ([]DecisionRecord, error) {
	var out []DecisionRecord
	err := l.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	return out, err
}

// BySymbol returns the newest records for one pair first.
func (l *DecisionLog) BySymbol(ctx context.Context, symbol string, limit int) ([]DecisionRecord, error) {
	var out []DecisionRecord
	err := l.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("created_at DESC, id DESC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	return out, err
}

// CountByProvenance 统计各来源（network / fallback）的决策条数。
func (l *DecisionLog) CountByProvenance(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Provenance string
		N          int64
	}
	err := l.db.WithContext(ctx).
		Model(&DecisionRecord{}).
		Select("provenance, COUNT(*) AS n").
		Group("provenance").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Provenance] = r.N
	}
	return out, nil
}

func (l *DecisionLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	if limit > maxRecentLimit {
		return maxRecentLimit
	}
	return limit
}
