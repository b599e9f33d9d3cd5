// Package db opens the signalbox store and migrates its schema.
package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// memoryPath is the SQLite path for a private in-memory database.
const memoryPath = ":memory:"

// SQLiteDSN builds the DSN for the SQLite store. Every transaction takes the
// write lock at BEGIN (_txlock=immediate) so the compare-and-set sections in
// session, question and approval are serialized across processes.
func SQLiteDSN(path string) string {
	if path == memoryPath {
		return memoryPath
	}
	return path + "?_busy_timeout=10000&_journal_mode=WAL&_txlock=immediate"
}

// OpenSQLite opens (creating if needed) the SQLite store at path.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db: sqlite path is required")
	}
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("db: create store dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(SQLiteDSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	if path == memoryPath {
		// Each connection would otherwise see its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: open %s: %w", path, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// MySQLDSN builds a MySQL DSN for a shared store.
func MySQLDSN(host string, port int, user, database string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	cfg.DBName = database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// ConnectMySQL opens a GORM connection to a MySQL-compatible server.
func ConnectMySQL(host string, port int, user, database string) (*gorm.DB, error) {
	dsn := MySQLDSN(host, port, user, database)
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", host, port, database, err)
	}
	return db, nil
}
