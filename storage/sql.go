package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CacheEntry is one cached blob.
type CacheEntry struct {
	Key       string `gorm:"column:cache_key;primaryKey;size:128"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName keeps the table name independent of the struct name.
func (CacheEntry) TableName() string { return "trustclient_cache" }

// SQL is a cache stored in a relational database through gorm.
type SQL struct {
	db *gorm.DB
}

// NewSQLite opens or creates an SQLite cache. Use "file::memory:?cache=shared"
// for a throwaway database.
func NewSQLite(path string) (*SQL, error) {
	return openSQL(sqlite.Open(path))
}

// NewPostgres connects to a Postgres cache.
func NewPostgres(dsn string) (*SQL, error) {
	return openSQL(postgres.Open(dsn))
}

func openSQL(dialector gorm.Dialector) (*SQL, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if err := db.AutoMigrate(&CacheEntry{}); err != nil {
		return nil, fmt.Errorf("migrate cache database: %w", err)
	}
	return &SQL{db: db}, nil
}

func (s *SQL) Get(key string) ([]byte, bool) {
	var entry CacheEntry
	err := s.db.Where("cache_key = ?", key).Take(&entry).Error
	if err != nil {
		return nil, false
	}
	return entry.Value, true
}

// Set inserts or replaces the entry.
func (s *SQL) Set(key string, value []byte) error {
	entry := CacheEntry{Key: key, Value: value}
	return s.db.Save(&entry).Error
}

func (s *SQL) Clear() error {
	return s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&CacheEntry{}).Error
}

// Close releases the connection pool.
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		if errors.Is(err, gorm.ErrInvalidDB) {
			return nil
		}
		return err
	}
	return sqlDB.Close()
}
