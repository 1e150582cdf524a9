package store

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"lessonsync/backend/config"
	"lessonsync/backend/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by Storage.Get when no value exists for the key.
var ErrNotFound = errors.New("storage: key not found")

// Storage is the durable key-value layer behind the progress store.
// Implementations are selected once at startup from configuration and
// injected; nothing reaches for one through a global.
type Storage interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// SelectStorage picks the configured strategy. The postgres strategy
// needs an open *gorm.DB; the disk strategy ignores it.
func SelectStorage(cfg *config.Config, db *gorm.DB) (Storage, error) {
	switch cfg.StorageDriver {
	case "disk":
		return NewDiskStorage(cfg.DataDir)
	case "postgres":
		if db == nil {
			return nil, errors.New("storage: postgres driver selected but no database connection")
		}
		return NewDBStorage(db)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.StorageDriver)
	}
}

// DiskStorage keeps one JSON file per key under a data directory.
type DiskStorage struct {
	dir string
}

func NewDiskStorage(dir string) (*DiskStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	return &DiskStorage{dir: dir}, nil
}

func (s *DiskStorage) path(key string) string {
	// Keys carry opaque lesson IDs; escape so they stay single path segments.
	return filepath.Join(s.dir, url.PathEscape(key)+".json")
}

func (s *DiskStorage) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *DiskStorage) Set(key string, value []byte) error {
	return os.WriteFile(s.path(key), value, 0o644)
}

func (s *DiskStorage) Delete(key string) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// DBStorage keeps the cache in a postgres table, for deployments where
// the sidecar's local disk is ephemeral.
type DBStorage struct {
	db *gorm.DB
}

func NewDBStorage(db *gorm.DB) (*DBStorage, error) {
	if err := db.AutoMigrate(&models.ProgressCacheEntry{}); err != nil {
		return nil, fmt.Errorf("storage: migrate cache table: %w", err)
	}
	return &DBStorage{db: db}, nil
}

func (s *DBStorage) Get(key string) ([]byte, error) {
	var entry models.ProgressCacheEntry
	err := s.db.Where("key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(entry.Value), nil
}

func (s *DBStorage) Set(key string, value []byte) error {
	entry := models.ProgressCacheEntry{Key: key, Value: datatypes.JSON(value)}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

func (s *DBStorage) Delete(key string) error {
	return s.db.Where("key = ?", key).Delete(&models.ProgressCacheEntry{}).Error
}
