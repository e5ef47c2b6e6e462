package database

import (
	"context"

	"saferoute/internal/models"
)

// DataStore is the interface for data persistence
type DataStore interface {
	Close() error
	HealthCheck(ctx context.Context) error
	Contacts() ContactRepository
	Reports() ReportRepository
}

// ContactRepository handles emergency contact persistence
type ContactRepository interface {
	ListByUser(ctx context.Context, userID string) ([]models.EmergencyContact, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	Create(ctx context.Context, c *models.EmergencyContact) (*models.EmergencyContact, error)
	Delete(ctx context.Context, userID, id string) error
}

// ReportRepository handles safety report persistence
type ReportRepository interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]models.SafetyReport, error)
	Create(ctx context.Context, r *models.SafetyReport) (*models.SafetyReport, error)
}
