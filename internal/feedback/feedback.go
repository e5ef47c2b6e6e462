package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"saferoute/internal/database"
	"saferoute/internal/models"
)

// ErrInvalidReport wraps every validation failure
var ErrInvalidReport = errors.New("invalid safety report")

// DefaultListLimit bounds the reports returned by List
const DefaultListLimit = 20

// Service records post-trip safety feedback
type Service struct {
	repo database.ReportRepository
}

func NewService(repo database.ReportRepository) *Service {
	return &Service{repo: repo}
}

// Submit validates r and stores it for userID
func (s *Service) Submit(ctx context.Context, userID string, r models.SafetyReport) (*models.SafetyReport, error) {
	r.Location = strings.TrimSpace(r.Location)
	r.Destination = strings.TrimSpace(r.Destination)
	r.Description = strings.TrimSpace(r.Description)

	if r.Location == "" {
		return nil, fmt.Errorf("%w: location is required", ErrInvalidReport)
	}
	if r.Rating < 1 || r.Rating > 5 {
		return nil, fmt.Errorf("%w: please rate how safe you felt (1-5)", ErrInvalidReport)
	}
	if !r.IncidentType.Valid() {
		return nil, fmt.Errorf("%w: unknown incident type %q", ErrInvalidReport, r.IncidentType)
	}
	r.UserID = userID

	saved, err := s.repo.Create(ctx, &r)
	if err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}
	zap.S().Infof("[FEEDBACK] Safety report submitted: user=%s rating=%d incident=%s", userID, saved.Rating, saved.IncidentType)
	return saved, nil
}

// List returns the user's most recent reports
func (s *Service) List(ctx context.Context, userID string, limit int) ([]models.SafetyReport, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.repo.ListByUser(ctx, userID, limit)
}
