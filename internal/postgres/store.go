package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"saferoute/internal/database"
)

// Store is a Postgres-backed data store for a managed database
type Store struct {
	db *sql.DB

	contactRepo database.ContactRepository
	reportRepo  database.ReportRepository
}

// New connects to dsn and ensures the schema exists
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	repos := database.NewSQLRepositories(db, database.PostgresDialect, nil)
	zap.S().Infof("Connected to Postgres")
	return &Store{db: db, contactRepo: repos.Contacts, reportRepo: repos.Reports}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS emergency_contacts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	phone TEXT NOT NULL,
	email TEXT,
	relation TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_emergency_contacts_user ON emergency_contacts(user_id);

CREATE TABLE IF NOT EXISTS safety_reports (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	location TEXT NOT NULL,
	destination TEXT,
	rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
	incident_type TEXT,
	description TEXT,
	lat DOUBLE PRECISION,
	lng DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_safety_reports_user ON safety_reports(user_id, created_at DESC);
`

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Contacts() database.ContactRepository { return s.contactRepo }
func (s *Store) Reports() database.ReportRepository   { return s.reportRepo }
