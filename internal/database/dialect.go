package database

import (
	"fmt"

	"github.com/digkill/imaginebot/internal/config"
)

// Dialect captures the few statements that differ between MySQL and SQLite.
type Dialect struct {
	Driver       string
	insertIgnore string
	schema       []string
}

var (
	MySQL = Dialect{
		Driver:       config.DriverMySQL,
		insertIgnore: "INSERT IGNORE INTO",
		schema:       mysqlSchema,
	}
	SQLite = Dialect{
		Driver:       config.DriverSQLite,
		insertIgnore: "INSERT OR IGNORE INTO",
		schema:       sqliteSchema,
	}
)

// DialectFor returns the dialect registered for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case config.DriverMySQL:
		return MySQL, nil
	case config.DriverSQLite:
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// InsertIgnore is the statement prefix that skips rows violating a unique key.
func (d Dialect) InsertIgnore() string {
	return d.insertIgnore
}

var mysqlSchema = []string{`
CREATE TABLE IF NOT EXISTS users (
    user_id VARCHAR(64) NOT NULL PRIMARY KEY,
    total_generations INT NOT NULL DEFAULT 0,
    daily_generations INT NOT NULL DEFAULT 0,
    last_generation_date VARCHAR(10) NOT NULL,
    preferred_model VARCHAR(32) NOT NULL DEFAULT 'FLUX.1',
    preferred_style VARCHAR(32) NOT NULL DEFAULT 'Photorealistic',
    preferred_quality VARCHAR(32) NOT NULL DEFAULT 'Standard',
    is_premium BOOLEAN NOT NULL DEFAULT FALSE,
    created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
)`, `
CREATE TABLE IF NOT EXISTS generations (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    prompt TEXT NOT NULL,
    model_used VARCHAR(32) NOT NULL,
    style_used VARCHAR(32) NOT NULL,
    quality_used VARCHAR(32) NOT NULL,
    generation_time DOUBLE NOT NULL,
    created_at DATETIME(6) NOT NULL,
    INDEX idx_generations_user_created (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES users(user_id)
)`,
}

var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS users (
    user_id TEXT NOT NULL PRIMARY KEY,
    total_generations INTEGER NOT NULL DEFAULT 0,
    daily_generations INTEGER NOT NULL DEFAULT 0,
    last_generation_date TEXT NOT NULL,
    preferred_model TEXT NOT NULL DEFAULT 'FLUX.1',
    preferred_style TEXT NOT NULL DEFAULT 'Photorealistic',
    preferred_quality TEXT NOT NULL DEFAULT 'Standard',
    is_premium INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, `
CREATE TABLE IF NOT EXISTS generations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL REFERENCES users(user_id),
    prompt TEXT NOT NULL,
    model_used TEXT NOT NULL,
    style_used TEXT NOT NULL,
    quality_used TEXT NOT NULL,
    generation_time REAL NOT NULL,
    created_at DATETIME NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS idx_generations_user_created ON generations (user_id, created_at)`,
}
