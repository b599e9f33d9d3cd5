package db

import (
	"fmt"

	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model in the store.
func AllModels() []interface{} {
	return []interface{}{
		&models.Session{},
		&models.Instruction{},
		&models.PendingQuestion{},
		&models.Approval{},
		&models.Setting{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Open connects to the store described by cfg and migrates it. The schema is
// applied lazily on every open so any process (listener, hook, CLI) can be
// the first to touch a fresh store.
func Open(cfg config.StoreConfig) (*gorm.DB, error) {
	var (
		gormDB *gorm.DB
		err    error
	)
	switch cfg.Driver {
	case "", config.DriverSQLite:
		gormDB, err = OpenSQLite(cfg.Path)
	case config.DriverMySQL:
		gormDB, err = ConnectMySQL(cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.User, cfg.MySQL.Database)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return gormDB, nil
}
