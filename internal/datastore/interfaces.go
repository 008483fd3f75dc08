// interfaces.go: this code defines the interface for the durable tier operations
package datastore

import (
	"gorm.io/gorm"

	"github.com/tphakala/notigate/internal/admission"
	"github.com/tphakala/notigate/internal/conf"
	"github.com/tphakala/notigate/internal/observability/metrics"
)

// Interface abstracts the underlying database implementation. It extends the
// engine's DurableTier contract with lifecycle operations.
type Interface interface {
	admission.DurableTier
	Open() error
	Close() error
}

// DataStore implements the durable tier using a GORM database.
type DataStore struct {
	DB      *gorm.DB // GORM database instance
	metrics *metrics.DatastoreMetrics
}

// New creates a new store instance based on the provided settings, or nil
// when no durable output is enabled.
func New(settings *conf.Settings, m *metrics.DatastoreMetrics) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			DataStore: DataStore{metrics: m},
			Settings:  settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			DataStore: DataStore{metrics: m},
			Settings:  settings,
		}
	default:
		return nil
	}
}

// performAutoMigration runs GORM auto-migration for the event table.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return newDatabaseError(err, "auto_migrate",
			"db_type", dbType,
			"connection", connectionInfo)
	}
	if debug {
		getLogger().Debug("database migration completed", "db_type", dbType)
	}
	return nil
}
