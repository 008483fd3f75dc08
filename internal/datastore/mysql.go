package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/notigate/internal/conf"
)

// MySQLStore implements the durable tier on MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

// Open sets up the MySQL database connection and runs migrations.
func (store *MySQLStore) Open() error {
	cfg := store.Settings.Output.MySQL
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		getLogger().Error("failed to open MySQL database",
			"host", cfg.Host,
			"port", cfg.Port,
			"database", cfg.Database,
			"error", err)
		return fmt.Errorf("failed to open MySQL database: %w", err)
	}

	store.DB = db
	connectionInfo := fmt.Sprintf("%s:%s/%s", cfg.Host, cfg.Port, cfg.Database)
	return performAutoMigration(db, store.Settings.Debug, "MySQL", connectionInfo)
}

// Close releases the underlying database handle.
func (store *MySQLStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
