package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"carcare/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the SQL database selected by dbType (sqlite3 or mysql).
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	driver := normalizeDriver(dbType)
	dbCfg, ok := cfg.Databases[driver]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch driver {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// one connection: :memory: databases are per connection and sqlite
		// serialises writers anyway
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			params := dbCfg.Params
			if params == "" {
				params = "parseTime=true&charset=utf8mb4"
			}
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
		db.SetConnMaxLifetime(5 * time.Minute)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func normalizeDriver(dbType string) string {
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		return "sqlite3"
	case "mysql":
		return "mysql"
	case "mongo", "mongodb":
		return "mongo"
	}
	return strings.ToLower(dbType)
}

// IsSQL reports whether dbType is served by Open rather than OpenMongo.
func IsSQL(dbType string) bool {
	d := normalizeDriver(dbType)
	return d == "sqlite3" || d == "mysql"
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch normalizeDriver(driver) {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				phone TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL,
				role TEXT NOT NULL,
				password_hash TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS mechanic_profiles (
				user_id TEXT PRIMARY KEY,
				expertise TEXT NOT NULL,
				rating REAL NOT NULL DEFAULT 0,
				location TEXT NOT NULL DEFAULT '',
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS diagnostic_records (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				tutorial_video TEXT,
				summary TEXT NOT NULL,
				fault TEXT NOT NULL,
				severity TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT '',
				recommendation TEXT NOT NULL,
				indicators TEXT NOT NULL,
				readings TEXT,
				schema_version TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_diagnostic_records_user_created ON diagnostic_records(user_id, created_at DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id CHAR(36) NOT NULL,
				email VARCHAR(255) NOT NULL UNIQUE,
				phone VARCHAR(64) NOT NULL DEFAULT '',
				name VARCHAR(255) NOT NULL,
				role VARCHAR(32) NOT NULL,
				password_hash VARCHAR(255) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS mechanic_profiles (
				user_id CHAR(36) NOT NULL,
				expertise TEXT NOT NULL,
				rating DOUBLE NOT NULL DEFAULT 0,
				location VARCHAR(255) NOT NULL DEFAULT '',
				PRIMARY KEY (user_id),
				CONSTRAINT fk_mechanic_profiles_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS diagnostic_records (
				id CHAR(36) NOT NULL,
				user_id CHAR(36) NOT NULL,
				kind VARCHAR(32) NOT NULL,
				tutorial_video VARCHAR(255),
				summary TEXT NOT NULL,
				fault VARCHAR(255) NOT NULL,
				severity VARCHAR(16) NOT NULL,
				status VARCHAR(255) NOT NULL DEFAULT '',
				recommendation TEXT NOT NULL,
				indicators MEDIUMTEXT NOT NULL,
				readings TEXT,
				schema_version VARCHAR(16) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_diagnostic_records_user_created (user_id, created_at),
				CONSTRAINT fk_diagnostic_records_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
