package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// CacheEntry is one row of the sqlite cache.
type CacheEntry struct {
	Namespace string `gorm:"primaryKey;size:32"`
	Key       string `gorm:"primaryKey;column:cache_key;size:128"`
	Data      []byte
	UpdatedAt time.Time
}

func (CacheEntry) TableName() string { return "cache_entries" }

// SQLiteBackend stores entries in a single sqlite file.
type SQLiteBackend struct {
	db *gorm.DB
}

// IsSQLiteURI reports whether path is an in-memory database or a file: URI
// rather than a filesystem path.
func IsSQLiteURI(path string) bool {
	return path == sqliteMemory || strings.HasPrefix(path, "file:")
}

const sqliteMemory = ":memory:"

// OpenSQLite opens or creates the cache database at path. ":memory:" gives a
// database that lives as long as the backend.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.New("sqlite cache: path is required")
	}
	if !IsSQLiteURI(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	if path == sqliteMemory {
		// each pooled connection would get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&CacheEntry{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite cache: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error) {
	var entry CacheEntry
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND cache_key = ?", string(ns), key).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get: %w", err)
	}
	return entry.Data, true, nil
}

func (s *SQLiteBackend) Put(ctx context.Context, ns Namespace, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}

	entry := CacheEntry{Namespace: string(ns), Key: key, Data: data, UpdatedAt: time.Now().UTC()}
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	})
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&CacheEntry{}).Error
}

func (s *SQLiteBackend) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
