package config

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDatabasePath is used when database.path is not configured
const DefaultDatabasePath = "./data/devicelink.db"

const migrations = `
CREATE TABLE IF NOT EXISTS kv_store (
	namespace  TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);
`

// InitDatabase opens (creating if needed) the SQLite database at path
func InitDatabase(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultDatabasePath
	}

	// Create data directory if not exists
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps sqlite from returning SQLITE_BUSY under the registry lock
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Printf("🗄️ Database initialized at %s", path)
	return db, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(migrations)
	return err
}
