package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"saferoute/internal/models"
)

// Dialect adapts the shared SQL to a driver's placeholder style
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of ?
	Numbered bool
}

var (
	SQLiteDialect   = Dialect{Name: "sqlite"}
	PostgresDialect = Dialect{Name: "postgres", Numbered: true}
)

func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLRepositories holds the repositories shared by the SQL-backed stores
type SQLRepositories struct {
	Contacts ContactRepository
	Reports  ReportRepository
}

// NewSQLRepositories builds repositories over db. mu guards writes for
// drivers that serialize access (SQLite); it may be shared with the store.
func NewSQLRepositories(db *sql.DB, dialect Dialect, mu *sync.RWMutex) SQLRepositories {
	if mu == nil {
		mu = &sync.RWMutex{}
	}
	return SQLRepositories{
		Contacts: &contactRepository{db: db, dialect: dialect, mu: mu},
		Reports:  &reportRepository{db: db, dialect: dialect, mu: mu},
	}
}

type contactRepository struct {
	db      *sql.DB
	dialect Dialect
	mu      *sync.RWMutex
}

func (r *contactRepository) ListByUser(ctx context.Context, userID string) ([]models.EmergencyContact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query := r.dialect.rebind(`SELECT id, user_id, name, phone, email, relation, created_at
	          FROM emergency_contacts
	          WHERE user_id = ?
	          ORDER BY created_at, name`)
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query emergency contacts: %w", err)
	}
	defer rows.Close()

	contacts := []models.EmergencyContact{}
	for rows.Next() {
		var c models.EmergencyContact
		var email, relation sql.NullString
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Phone, &email, &relation, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan emergency contact: %w", err)
		}
		c.Email = email.String
		c.Relation = relation.String
		contacts = append(contacts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating emergency contacts: %w", err)
	}
	return contacts, nil
}

func (r *contactRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int
	query := r.dialect.rebind(`SELECT COUNT(*) FROM emergency_contacts WHERE user_id = ?`)
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count emergency contacts: %w", err)
	}
	return n, nil
}

func (r *contactRepository) Create(ctx context.Context, c *models.EmergencyContact) (*models.EmergencyContact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := *c
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	query := r.dialect.rebind(`INSERT INTO emergency_contacts (id, user_id, name, phone, email, relation, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, out.ID, out.UserID, out.Name, out.Phone,
		nullString(out.Email), nullString(out.Relation), out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert emergency contact: %w", err)
	}

	zap.S().Infof("[DB] Created emergency contact: id=%s user_id=%s", out.ID, out.UserID)
	return &out, nil
}

func (r *contactRepository) Delete(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := r.dialect.rebind(`DELETE FROM emergency_contacts WHERE id = ? AND user_id = ?`)
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete emergency contact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete emergency contact: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	zap.S().Infof("[DB] Deleted emergency contact: id=%s user_id=%s", id, userID)
	return nil
}

type reportRepository struct {
	db      *sql.DB
	dialect Dialect
	mu      *sync.RWMutex
}

func (r *reportRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.SafetyReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	query := r.dialect.rebind(`SELECT id, user_id, location, destination, rating, incident_type, description, lat, lng, created_at
	          FROM safety_reports
	          WHERE user_id = ?
	          ORDER BY created_at DESC
	          LIMIT ?`)
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query safety reports: %w", err)
	}
	defer rows.Close()

	reports := []models.SafetyReport{}
	for rows.Next() {
		var rep models.SafetyReport
		var destination, incident, description sql.NullString
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&rep.ID, &rep.UserID, &rep.Location, &destination, &rep.Rating, &incident,
			&description, &lat, &lng, &rep.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan safety report: %w", err)
		}
		rep.Destination = destination.String
		rep.IncidentType = models.IncidentType(incident.String)
		rep.Description = description.String
		rep.Latitude, rep.Longitude = lat.Float64, lng.Float64
		reports = append(reports, rep)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating safety reports: %w", err)
	}
	return reports, nil
}

func (r *reportRepository) Create(ctx context.Context, rep *models.SafetyReport) (*models.SafetyReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := *rep
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	var lat, lng sql.NullFloat64
	if out.Latitude != 0 || out.Longitude != 0 {
		lat = sql.NullFloat64{Float64: out.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: out.Longitude, Valid: true}
	}

	query := r.dialect.rebind(`INSERT INTO safety_reports
	          (id, user_id, location, destination, rating, incident_type, description, lat, lng, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, out.ID, out.UserID, out.Location, nullString(out.Destination),
		out.Rating, nullString(string(out.IncidentType)), nullString(out.Description), lat, lng, out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert safety report: %w", err)
	}

	zap.S().Infof("[DB] Created safety report: id=%s user_id=%s rating=%d", out.ID, out.UserID, out.Rating)
	return &out, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
