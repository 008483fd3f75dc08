package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/notigate/internal/conf"
)

// SQLiteStore implements the durable tier on SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open sets up the SQLite database connection and runs migrations.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Output.SQLite.Path
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store.DB = db
	return performAutoMigration(db, store.Settings.Debug, "SQLite", path)
}

// Close releases the underlying database handle.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
