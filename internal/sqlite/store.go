package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"saferoute/internal/database"

	_ "modernc.org/sqlite"
)

const (
	DefaultDBFileName = "saferoute.db"
	schemaVersion     = 2
)

// Store is a SQLite-based data store implementing database.DataStore
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	contactRepo database.ContactRepository
	reportRepo  database.ReportRepository
}

// New creates a new SQLite store at the specified path. Use ":memory:" for
// a throwaway database.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	zap.S().Infof("[DATABASE] Opening SQLite database: path=%s", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	repos := database.NewSQLRepositories(db, database.SQLiteDialect, &store.mu)
	store.contactRepo = repos.Contacts
	store.reportRepo = repos.Reports

	return store, nil
}

func (s *Store) initSchema() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		// Table doesn't exist, create everything
		return s.createSchema()
	}

	if version < schemaVersion {
		if err := s.runMigrations(version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) createSchema() error {
	schema := `
	-- Schema version tracking
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);
	INSERT INTO schema_version (version) VALUES (2);

	-- Emergency contacts
	CREATE TABLE IF NOT EXISTS emergency_contacts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		email TEXT,
		relation TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Post-trip safety reports
	CREATE TABLE IF NOT EXISTS safety_reports (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		location TEXT NOT NULL,
		destination TEXT,
		rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
		incident_type TEXT,
		description TEXT,
		lat REAL,
		lng REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_emergency_contacts_user ON emergency_contacts(user_id);
	CREATE INDEX IF NOT EXISTS idx_safety_reports_user ON safety_reports(user_id, created_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	zap.S().Infof("SQLite schema initialized (version %d)", schemaVersion)
	return nil
}

func (s *Store) runMigrations(fromVersion int) error {
	if fromVersion < 2 {
		// version 1 stored contacts only
		_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS safety_reports (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			location TEXT NOT NULL,
			destination TEXT,
			rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
			incident_type TEXT,
			description TEXT,
			lat REAL,
			lng REAL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_safety_reports_user ON safety_reports(user_id, created_at DESC);`)
		if err != nil {
			return fmt.Errorf("migration to version 2 failed: %w", err)
		}
	}

	_, err := s.db.Exec("UPDATE schema_version SET version = ?", schemaVersion)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		// Checkpoint WAL before closing
		s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database connection
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Contacts() database.ContactRepository { return s.contactRepo }
func (s *Store) Reports() database.ReportRepository   { return s.reportRepo }
