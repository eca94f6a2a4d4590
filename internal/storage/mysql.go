package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	logx "bwkeeper/pkg/logx"
)

type mysqlStore struct {
	db  *gorm.DB
	log logx.Logger
}

func openMySQL(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("mysql dsn is required")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("mysql open: %w", err)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("mysql migrate: %w", err)
	}
	return &mysqlStore{db: db, log: log}, nil
}

func (s *mysqlStore) AppendRun(ctx context.Context, r RunRecord) error {
	r.ID = 0
	return s.db.WithContext(ctx).Create(&r).Error
}

func (s *mysqlStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	var out []RunRecord
	err := recentRuns(s.db.WithContext(ctx), limit).Find(&out).Error
	return out, err
}

func recentRuns(tx *gorm.DB, limit int) *gorm.DB {
	return tx.Model(&RunRecord{}).Order("id DESC").Limit(clampLimit(limit))
}

func (s *mysqlStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
